package event

import (
	"testing"
	"time"
)

func TestBrokerFanout(t *testing.T) {
	b := NewBroker()
	ch1, cancel1 := b.Subscribe(4)
	ch2, cancel2 := b.Subscribe(4)
	defer cancel1()
	defer cancel2()

	if err := b.LogEvent(Event{Type: EventDeployStarted, Message: "x"}); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != EventDeployStarted {
				t.Fatalf("got event type %q", ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBrokerSlowSubscriberDropsEvents(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.LogEvent(Event{Message: "first"})
	b.LogEvent(Event{Message: "dropped"})

	ev := <-ch
	if ev.Message != "first" {
		t.Fatalf("got %q", ev.Message)
	}
	select {
	case ev := <-ch:
		t.Fatalf("expected second event to be dropped, got %q", ev.Message)
	default:
	}
}

func TestBrokerCancelClosesChannel(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel() // safe to repeat

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after cancel")
	}
	// Logging after cancel must not panic or deliver.
	if err := b.LogEvent(Event{Message: "after"}); err != nil {
		t.Fatal(err)
	}
}

func TestMultiWriter(t *testing.T) {
	var got []string
	w := MultiWriter(
		writerFunc(func(ev Event) error { got = append(got, "a:"+ev.Message); return nil }),
		writerFunc(func(ev Event) error { got = append(got, "b:"+ev.Message); return nil }),
	)
	if err := w.LogEvent(Event{Message: "ev"}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "a:ev" || got[1] != "b:ev" {
		t.Fatalf("got %v", got)
	}
}

type writerFunc func(Event) error

func (f writerFunc) LogEvent(ev Event) error { return f(ev) }
