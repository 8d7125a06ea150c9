package mock

import (
	"context"

	"github.com/ragchat/bluegreen/pkg/fleet"
	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/pool"
)

// Mock is a fleet.Manager double whose behaviour is scripted per
// method.
type Mock struct {
	ProvisionFunc func(ctx context.Context, id pool.ID, img image.Ref, replicas int) error
	HealthFunc    func(ctx context.Context, id pool.ID) ([]fleet.ReplicaStatus, error)
	ScaleFunc     func(ctx context.Context, id pool.ID, replicas int) error
	PingFunc      func(ctx context.Context) error
}

var _ fleet.Manager = &Mock{}

func (m *Mock) Provision(ctx context.Context, id pool.ID, img image.Ref, replicas int) error {
	return m.ProvisionFunc(ctx, id, img, replicas)
}

func (m *Mock) Health(ctx context.Context, id pool.ID) ([]fleet.ReplicaStatus, error) {
	return m.HealthFunc(ctx, id)
}

func (m *Mock) Scale(ctx context.Context, id pool.ID, replicas int) error {
	return m.ScaleFunc(ctx, id, replicas)
}

func (m *Mock) Ping(ctx context.Context) error {
	if m.PingFunc == nil {
		return nil
	}
	return m.PingFunc(ctx)
}
