package http

import (
	"fmt"
	"net/http"
)

// Token is an authentication token presented to the daemon, or to
// anything proxying for it. The daemon itself does not check tokens;
// this is for deployments that put an authenticating proxy in front.
type Token string

// Set adds the token to the request headers, if it is non-empty.
func (t Token) Set(req *http.Request) {
	if string(t) != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", t))
	}
}
