package router

import (
	"context"
	"sync"

	"github.com/ragchat/bluegreen/pkg/pool"
)

// InMem is a Router held entirely in memory, for development mode and
// tests. The mutex makes SetLive atomic in the only sense that matters
// here: a concurrent Live sees either the old or the new pool, never
// anything in between.
type InMem struct {
	mtx  sync.RWMutex
	live map[string]pool.ID
}

var _ Router = &InMem{}

func NewInMem() *InMem {
	return &InMem{live: map[string]pool.ID{}}
}

func (r *InMem) Live(ctx context.Context, service string) (pool.ID, error) {
	if err := ctx.Err(); err != nil {
		return pool.ID{}, err
	}
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	id, ok := r.live[service]
	if !ok {
		return pool.ID{}, ErrNoLivePool
	}
	return id, nil
}

func (r *InMem) SetLive(ctx context.Context, id pool.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.live[id.Service] = id
	return nil
}

func (r *InMem) Ping(ctx context.Context) error {
	return ctx.Err()
}
