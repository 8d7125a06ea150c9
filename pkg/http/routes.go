package http

// Route names, used to look routes up both when registering handlers
// and when constructing request URLs.
const (
	Ping    = "Ping"
	Version = "Version"

	Release      = "Release"
	RunStatus    = "RunStatus"
	ListRuns     = "ListRuns"
	ListServices = "ListServices"
	Rollback     = "Rollback"
	Events       = "Events"
	WatchEvents  = "WatchEvents"
)
