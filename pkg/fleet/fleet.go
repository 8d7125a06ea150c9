package fleet

import (
	"context"

	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/pool"
)

// Manager is what the deployment engine needs from the compute layer.
// All operations address a whole pool; there is deliberately no way to
// touch individual replicas, so implementations are free to map a pool
// to an ECS service, a set of labelled containers, or anything else
// that can run n copies of an image.
type Manager interface {
	// Provision ensures the pool exists and runs `replicas` copies of
	// `img`. It returns once the request is accepted; replicas come up
	// asynchronously and are observed via Health.
	Provision(ctx context.Context, id pool.ID, img image.Ref, replicas int) error
	// Health reports the status of each replica currently in the pool.
	// A pool that has never been provisioned, or is scaled to zero,
	// reports no replicas (and no error).
	Health(ctx context.Context, id pool.ID) ([]ReplicaStatus, error)
	// Scale changes the pool's replica count without changing its
	// image. Zero means the pool holds no compute at all.
	Scale(ctx context.Context, id pool.ID, replicas int) error
	// Ping checks connectivity with the fleet backend.
	Ping(ctx context.Context) error
}

// ReplicaStatus is one replica's health as the fleet sees it.
type ReplicaStatus struct {
	ID      string `json:"id"`
	Healthy bool   `json:"healthy"`
	// Detail carries the failure observation, e.g. "connection
	// refused" or "HTTP 503", for events and status output.
	Detail string `json:"detail,omitempty"`
}

// CountHealthy returns how many of the given replicas are healthy.
func CountHealthy(rs []ReplicaStatus) int {
	n := 0
	for _, r := range rs {
		if r.Healthy {
			n++
		}
	}
	return n
}

// Aggregate summarises replica statuses against the desired count,
// for status displays. An empty pool reports Unknown: it may never
// have been provisioned, or be scaled to zero. The verification gate
// does not use this; it tracks observations over time itself.
func Aggregate(desired int, rs []ReplicaStatus) pool.Health {
	healthy := CountHealthy(rs)
	switch {
	case len(rs) == 0:
		return pool.HealthUnknown
	case healthy >= desired && desired > 0:
		return pool.HealthHealthy
	case healthy == 0:
		return pool.HealthUnhealthy
	default:
		return pool.HealthProgressing
	}
}
