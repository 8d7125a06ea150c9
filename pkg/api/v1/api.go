// This package defines the types for the bluegreen API version 1.
package v1

import (
	"context"
	"time"

	"github.com/ragchat/bluegreen/pkg/deploy"
	"github.com/ragchat/bluegreen/pkg/event"
	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/job"
	"github.com/ragchat/bluegreen/pkg/pool"
)

// ReleaseSpec triggers a pipeline run.
type ReleaseSpec struct {
	// Revision is the opaque revision identifier to release.
	Revision string `json:"revision"`
	// Cause says who or what asked for the release, for the audit
	// trail.
	Cause string `json:"cause,omitempty"`
}

// RollbackSpec asks for the service's in-cooldown deployment to be
// rolled back.
type RollbackSpec struct {
	Service string `json:"service"`
	Reason  string `json:"reason,omitempty"`
}

// PoolStatus is one colour of a service as the fleet reports it.
type PoolStatus struct {
	ID       pool.ID     `json:"id"`
	Health   pool.Health `json:"health"`
	Ready    int         `json:"ready"`
	Replicas int         `json:"replicas"`
	Live     bool        `json:"live"`
}

// ServiceStatus is the operator's view of one service: which pool is
// live, what both pools are doing, and the latest deployment.
type ServiceStatus struct {
	Name      string       `json:"name"`
	LivePool  pool.ID      `json:"livePool,omitempty"`
	LiveImage image.Ref    `json:"liveImage,omitempty"`
	Pools     []PoolStatus `json:"pools"`
	// CooldownUntil is set while a deployment of the service is
	// inside its rollback window.
	CooldownUntil  *time.Time         `json:"cooldownUntil,omitempty"`
	LastDeployment *deploy.Deployment `json:"lastDeployment,omitempty"`
}

// EventsOptions page through the archived event stream.
type EventsOptions struct {
	// After restricts results to events with greater IDs; it is the
	// cursor for incremental reads.
	After event.EventID `json:"after"`
	// Service restricts results to events involving the service.
	Service string `json:"service,omitempty"`
	Limit   int64  `json:"limit,omitempty"`
}

type Server interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)

	// Release queues a pipeline run for the revision and returns the
	// ID to poll with.
	Release(ctx context.Context, spec ReleaseSpec) (job.ID, error)
	// RunStatus reports how far the run identified by id has got.
	RunStatus(ctx context.Context, id job.ID) (job.Status, error)
	// ListRuns reports recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]job.Status, error)

	ListServices(ctx context.Context) ([]ServiceStatus, error)

	// Rollback restores the previous pool of a service whose
	// deployment is inside its cooldown window. Outside a cooldown it
	// is an error.
	Rollback(ctx context.Context, spec RollbackSpec) error

	Events(ctx context.Context, opts EventsOptions) ([]event.Event, error)
}
