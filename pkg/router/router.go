package router

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ragchat/bluegreen/pkg/pool"
)

// ErrNoLivePool is returned by Live when no pool has ever been made
// live for the service, i.e. before the very first cutover.
var ErrNoLivePool = errors.New("no live pool for service")

// Router is what the engine needs from the traffic layer: one shared
// entry point whose routing rules decide, per service, which pool
// receives requests.
type Router interface {
	// Live returns the pool currently receiving the service's
	// traffic, or ErrNoLivePool.
	Live(ctx context.Context, service string) (pool.ID, error)
	// SetLive points the service's traffic at the given pool. The
	// switch is atomic with respect to new requests: each request is
	// routed wholly to the old or wholly to the new pool. Setting the
	// already-live pool is a no-op, not an error.
	SetLive(ctx context.Context, id pool.ID) error
	// Ping checks connectivity with the routing backend.
	Ping(ctx context.Context) error
}
