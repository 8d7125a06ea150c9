package api

import "github.com/ragchat/bluegreen/pkg/api/v1"

// Server defines the interface a daemon must satisfy to adequately
// serve a connecting bgctl.
type Server interface {
	v1.Server
}
