package deploy

import (
	"fmt"

	bgerr "github.com/ragchat/bluegreen/pkg/errors"
)

// Code classifies where in its lifecycle a deployment failed. Exactly
// one code is attributed to a failed or rolled back deployment.
type Code string

const (
	// CodeProvision: the idle pool could not be brought up (fleet
	// calls kept failing, or the live pool could not be determined).
	CodeProvision Code = "provision"
	// CodeHealthTimeout: the idle pool never verified within the gate
	// deadline, under the abort policy.
	CodeHealthTimeout Code = "health_timeout"
	// CodeCutover: the traffic flip could not be executed; the
	// previous pool kept the traffic.
	CodeCutover Code = "cutover"
	// CodeRegression: the deployment was rolled back during cooldown,
	// by signal or by a detected health regression.
	CodeRegression Code = "regression"
	// CodeCanceled: the deployment's context was cancelled before
	// cutover.
	CodeCanceled Code = "canceled"
)

// Error is a deployment failure with its taxonomy code and the
// service it is attributed to.
type Error struct {
	Code    Code
	Service string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("deploy %s: %s: %s", e.Service, e.Code, e.Err)
}

// Cause supports the pkg/errors causer convention.
func (e *Error) Cause() error {
	return e.Err
}

// ErrCode extracts the taxonomy code from an error, or returns ""
// when the error is not a deployment error.
func ErrCode(err error) Code {
	for err != nil {
		if derr, ok := err.(*Error); ok {
			return derr.Code
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = cause.Cause()
	}
	return ""
}

func makeError(code Code, service string, err error) *Error {
	return &Error{Code: code, Service: service, Err: err}
}

// MakeDeployError dresses an engine error up for the API, with help
// text appropriate to its code.
func MakeDeployError(err error) *bgerr.Error {
	help := `The deployment failed, with this message:

    ` + err.Error() + `

`
	switch ErrCode(err) {
	case CodeProvision:
		help += `The fleet could not bring the new pool up. Check the fleet
backend's own logs, and that the image reference exists and is
pullable from the cluster.
`
	case CodeHealthTimeout:
		help += `The new pool never passed its health checks within the window.
The previous version kept the traffic, and the new pool has been
removed. Inspect the service's logs for startup failures, or raise
health_check_timeout if the service legitimately needs longer.
`
	case CodeCutover:
		help += `The traffic switch could not be executed. The previous version
kept the traffic. This usually indicates a problem with the routing
backend; check its availability and the daemon's permissions on it.
`
	case CodeRegression:
		help += `The new version was made live but was rolled back during its
cooldown window. Traffic is back on the previous version. The event
history records what triggered the rollback.
`
	default:
		help += `If the message above isn't enough to go on, please log an issue
at

    https://github.com/ragchat/bluegreen/issues

quoting the message at the top.
`
	}
	return &bgerr.Error{
		Type: bgerr.User,
		Help: help,
		Err:  err,
	}
}
