package job

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ragchat/bluegreen/pkg/pipeline"
)

// Jobs come off the queue one at a time, in the order they went in.
func TestQueueOrder(t *testing.T) {
	stop := make(chan struct{})
	wg := &sync.WaitGroup{}
	defer func() {
		close(stop)
		wg.Wait()
	}()

	q := NewQueue(stop, wg)
	for _, id := range []ID{"a", "b", "c"} {
		q.Enqueue(&Job{ID: id})
	}
	q.Sync()
	assert.Equal(t, 3, q.Len())

	var got []ID
	for i := 0; i < 3; i++ {
		j := <-q.Ready()
		got = append(got, j.ID)
	}
	assert.Equal(t, []ID{"a", "b", "c"}, got)
	q.Sync()
	assert.Equal(t, 0, q.Len())
}

func TestQueueForEach(t *testing.T) {
	stop := make(chan struct{})
	wg := &sync.WaitGroup{}
	defer func() {
		close(stop)
		wg.Wait()
	}()

	q := NewQueue(stop, wg)
	q.Enqueue(&Job{ID: "a"})
	q.Enqueue(&Job{ID: "b"})
	q.Sync()

	var seen []ID
	q.ForEach(func(i int, j *Job) bool {
		seen = append(seen, j.ID)
		return true
	})
	assert.Equal(t, []ID{"a", "b"}, seen)

	// Stopping early.
	seen = nil
	q.ForEach(func(i int, j *Job) bool {
		seen = append(seen, j.ID)
		return false
	})
	assert.Equal(t, []ID{"a"}, seen)
}

func TestStatusCache(t *testing.T) {
	c := &StatusCache{Size: 2}

	c.SetStatus("a", Status{StatusString: StatusQueued})
	c.SetStatus("b", Status{StatusString: StatusQueued})
	c.SetStatus("a", Status{StatusString: StatusRunning})
	c.SetStatus("c", Status{StatusString: StatusQueued})

	// "a" was oldest, so adding "c" evicted it; updating a cached
	// entry must not count as a new one.
	if _, ok := c.Status("a"); ok {
		t.Fatal("expected a to be evicted")
	}
	st, ok := c.Status("b")
	if !ok {
		t.Fatal("expected b to be cached")
	}
	assert.Equal(t, StatusQueued, st.StatusString)

	recent := c.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("got %d recent statuses", len(recent))
	}
}

func TestStatusCacheRecentOrder(t *testing.T) {
	c := &StatusCache{}
	c.SetStatus("a", Status{StatusString: StatusSucceeded, Result: pipeline.Run{ID: "a"}})
	c.SetStatus("b", Status{StatusString: StatusRunning, Result: pipeline.Run{ID: "b"}})

	recent := c.Recent(0)
	if len(recent) != 2 {
		t.Fatalf("got %d statuses", len(recent))
	}
	// Newest first.
	assert.Equal(t, "b", recent[0].Result.ID)
	assert.Equal(t, "a", recent[1].Result.ID)
}
