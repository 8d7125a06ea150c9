package httperror

import (
	"fmt"
	"net/http"
)

// When an HTTP probe or API call fails, we may want to distinguish
// among the causes by status code. This type is the base error for a
// non-"HTTP 20x" response, retrievable with errors.Cause(err).
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (err *APIError) Error() string {
	return fmt.Sprintf("%s (%s)", err.Status, err.Body)
}

// Does this error mean the endpoint is (perhaps temporarily)
// unavailable? A replica answering 503 may still be warming up.
func (err *APIError) IsUnavailable() bool {
	switch err.StatusCode {
	case 502, 503, 504:
		return true
	}
	return false
}

// Is the path we probed absent? This usually indicates the health
// check path configured for the service does not match what the
// application serves.
func (err *APIError) IsMissing() bool {
	return err.StatusCode == http.StatusNotFound
}
