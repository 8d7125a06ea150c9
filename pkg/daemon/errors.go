package daemon

import (
	"fmt"

	bgerr "github.com/ragchat/bluegreen/pkg/errors"
	"github.com/ragchat/bluegreen/pkg/job"
)

func invalidReleaseError(reason error) error {
	return &bgerr.Error{
		Type: bgerr.User,
		Err:  reason,
		Help: `The release request is incomplete

A release needs at least a revision to roll out, e.g.,

    bgctl release --revision=4a2f9cb

The revision is passed to the configured builder as-is, so use
whatever form your build setup expects (a commit SHA, a tag, ...).
`,
	}
}

func unknownRunError(id job.ID) error {
	return &bgerr.Error{
		Type: bgerr.Missing,
		Err:  fmt.Errorf("unknown run %q", string(id)),
		Help: `Run not found

The daemon remembers recent runs in memory, and older ones only as
far as the event archive records them. If this run was long ago, or
the daemon restarted without an event archive configured, its status
is gone.

If you get this error for a run you just started, it's probably a
bug. Please log an issue describing what you were attempting, and
include daemon logs if possible:

    https://github.com/ragchat/bluegreen/issues

`,
	}
}

func unknownServiceError(name string) error {
	return &bgerr.Error{
		Type: bgerr.Missing,
		Err:  fmt.Errorf("unknown service %q", name),
		Help: `Service not configured

The daemon only deploys services named in its configuration file. Use

    bgctl list-services

to see which services this daemon manages.
`,
	}
}

func rollbackRefusedError(reason error) error {
	return &bgerr.Error{
		Type: bgerr.User,
		Err:  reason,
		Help: `Cannot roll back

Rolling back is only possible while a deployment is inside its
cooldown window, when the retired pool is still provisioned with the
previous version. Once the cooldown ends the old pool is scaled away,
and the way back is to release the previous revision:

    bgctl release --revision=<previous>

`,
	}
}
