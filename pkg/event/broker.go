package event

import (
	"sync"
)

// Broker fans events out to subscribers, e.g. the websocket feed and
// the cooldown watch. It implements EventWriter so it can be combined
// with the history store via MultiWriter.
//
// Delivery is best-effort: a subscriber that does not keep up has
// events dropped rather than stalling the deployment emitting them.
type Broker struct {
	mtx  sync.Mutex
	subs map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: map[chan Event]struct{}{}}
}

// Subscribe registers a new subscriber with the given channel buffer.
// The returned cancel func unregisters it and closes the channel; it
// is safe to call more than once.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.mtx.Lock()
	b.subs[ch] = struct{}{}
	b.mtx.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mtx.Lock()
			delete(b.subs, ch)
			b.mtx.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// LogEvent delivers the event to all current subscribers.
func (b *Broker) LogEvent(ev Event) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default: // subscriber is full; drop
		}
	}
	return nil
}

type multiWriter []EventWriter

// MultiWriter combines event writers; each event goes to all of them,
// stopping at the first error.
func MultiWriter(ws ...EventWriter) EventWriter {
	return multiWriter(ws)
}

func (mw multiWriter) LogEvent(ev Event) error {
	for _, w := range mw {
		if err := w.LogEvent(ev); err != nil {
			return err
		}
	}
	return nil
}
