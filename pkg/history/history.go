// Package history archives the event stream so a release can be
// audited after the fact. The in-memory store is the default; the SQL
// store keeps events across daemon restarts.
package history

import (
	"context"

	"github.com/ragchat/bluegreen/pkg/event"
)

// EventReader reads back archived events.
type EventReader interface {
	// AllEvents returns events with IDs greater than `after`, oldest
	// first, up to limit (limit <= 0 means no limit).
	AllEvents(ctx context.Context, after event.EventID, limit int64) ([]event.Event, error)
	// EventsForService restricts AllEvents to events involving the
	// named service.
	EventsForService(ctx context.Context, service string, after event.EventID, limit int64) ([]event.Event, error)
	// GetEvent returns a single archived event.
	GetEvent(ctx context.Context, id event.EventID) (event.Event, error)
}

// DB is the full archive: events written to it are assigned IDs and
// become readable.
type DB interface {
	event.EventWriter
	EventReader
	Close() error
}
