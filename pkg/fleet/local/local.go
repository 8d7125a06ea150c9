// Package local is an in-process fleet, used for development mode and
// for exercising the engine in tests without any real compute behind
// it. Replicas are simulated: a fresh replica reports healthy once its
// startup delay has passed, and whole pools can be broken and repaired
// by hand.
package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ragchat/bluegreen/pkg/fleet"
	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/pool"
)

type replica struct {
	id      string
	started time.Time
}

type state struct {
	image    image.Ref
	replicas []replica
}

type Fleet struct {
	startupDelay time.Duration
	now          func() time.Time

	mtx    sync.Mutex
	pools  map[pool.ID]*state
	broken map[pool.ID]string
}

var _ fleet.Manager = &Fleet{}

// NewFleet returns a local fleet whose replicas report healthy
// `startupDelay` after being provisioned.
func NewFleet(startupDelay time.Duration) *Fleet {
	return &Fleet{
		startupDelay: startupDelay,
		now:          time.Now,
		pools:        map[pool.ID]*state{},
		broken:       map[pool.ID]string{},
	}
}

func (f *Fleet) Provision(ctx context.Context, id pool.ID, img image.Ref, replicas int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mtx.Lock()
	defer f.mtx.Unlock()
	s := &state{image: img}
	for i := 0; i < replicas; i++ {
		s.replicas = append(s.replicas, replica{
			id:      fmt.Sprintf("%s-%d", id, i),
			started: f.now(),
		})
	}
	f.pools[id] = s
	return nil
}

func (f *Fleet) Health(ctx context.Context, id pool.ID) ([]fleet.ReplicaStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mtx.Lock()
	defer f.mtx.Unlock()
	s, ok := f.pools[id]
	if !ok {
		return nil, nil
	}
	excuse := f.broken[id]
	var statuses []fleet.ReplicaStatus
	for _, r := range s.replicas {
		st := fleet.ReplicaStatus{ID: r.id}
		switch {
		case excuse != "":
			st.Detail = excuse
		case f.now().Sub(r.started) < f.startupDelay:
			st.Detail = "starting"
		default:
			st.Healthy = true
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func (f *Fleet) Scale(ctx context.Context, id pool.ID, replicas int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mtx.Lock()
	defer f.mtx.Unlock()
	s, ok := f.pools[id]
	if !ok {
		if replicas == 0 {
			return nil
		}
		return fmt.Errorf("pool %s has never been provisioned", id)
	}
	for len(s.replicas) > replicas {
		s.replicas = s.replicas[:len(s.replicas)-1]
	}
	for len(s.replicas) < replicas {
		s.replicas = append(s.replicas, replica{
			id:      fmt.Sprintf("%s-%d", id, len(s.replicas)),
			started: f.now(),
		})
	}
	return nil
}

func (f *Fleet) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Break marks every replica of the pool unhealthy, reporting `detail`,
// until Repair is called. Used to rehearse rollbacks.
func (f *Fleet) Break(id pool.ID, detail string) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.broken[id] = detail
}

// Repair undoes Break.
func (f *Fleet) Repair(id pool.ID) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	delete(f.broken, id)
}

// Image reports the image a pool was last provisioned with, for status
// output.
func (f *Fleet) Image(id pool.ID) (image.Ref, bool) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	s, ok := f.pools[id]
	if !ok {
		return image.Ref{}, false
	}
	return s.image, true
}
