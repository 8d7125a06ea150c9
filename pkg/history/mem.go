package history

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ragchat/bluegreen/pkg/event"
)

// Mem is the in-memory archive. IDs are assigned from 1 upwards in
// log order, so they double as a cursor for `after`.
type Mem struct {
	mtx    sync.RWMutex
	events []event.Event
}

var _ DB = &Mem{}

func NewMem() *Mem {
	return &Mem{}
}

func (m *Mem) LogEvent(ev event.Event) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	ev.ID = event.EventID(len(m.events) + 1)
	if ev.StartedAt.IsZero() {
		ev.StartedAt = time.Now().UTC()
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *Mem) AllEvents(_ context.Context, after event.EventID, limit int64) ([]event.Event, error) {
	return m.filter(after, limit, func(event.Event) bool { return true })
}

func (m *Mem) EventsForService(_ context.Context, service string, after event.EventID, limit int64) ([]event.Event, error) {
	return m.filter(after, limit, func(ev event.Event) bool {
		for _, id := range ev.ServiceIDs {
			if id == service {
				return true
			}
		}
		return false
	})
}

func (m *Mem) GetEvent(_ context.Context, id event.EventID) (event.Event, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	if id < 1 || int(id) > len(m.events) {
		return event.Event{}, errors.Errorf("event %d not found", id)
	}
	return m.events[id-1], nil
}

func (m *Mem) Close() error {
	return nil
}

func (m *Mem) filter(after event.EventID, limit int64, keep func(event.Event) bool) ([]event.Event, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	events := []event.Event{}
	for _, ev := range m.events {
		if ev.ID <= after || !keep(ev) {
			continue
		}
		events = append(events, ev)
		if limit > 0 && int64(len(events)) >= limit {
			break
		}
	}
	return events, nil
}
