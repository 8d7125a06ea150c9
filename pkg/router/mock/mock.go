package mock

import (
	"context"

	"github.com/ragchat/bluegreen/pkg/pool"
	"github.com/ragchat/bluegreen/pkg/router"
)

// Mock is a router.Router double whose behaviour is scripted per
// method.
type Mock struct {
	LiveFunc    func(ctx context.Context, service string) (pool.ID, error)
	SetLiveFunc func(ctx context.Context, id pool.ID) error
	PingFunc    func(ctx context.Context) error
}

var _ router.Router = &Mock{}

func (m *Mock) Live(ctx context.Context, service string) (pool.ID, error) {
	return m.LiveFunc(ctx, service)
}

func (m *Mock) SetLive(ctx context.Context, id pool.ID) error {
	return m.SetLiveFunc(ctx, id)
}

func (m *Mock) Ping(ctx context.Context) error {
	if m.PingFunc == nil {
		return nil
	}
	return m.PingFunc(ctx)
}
