package main

import (
	"testing"

	"github.com/gorilla/mux"

	"github.com/ragchat/bluegreen/pkg/api/v1"
	transport "github.com/ragchat/bluegreen/pkg/http"
	"github.com/ragchat/bluegreen/pkg/pool"
)

func TestListServicesCommand(t *testing.T) {
	svc := &genericMockRoundTripper{
		mockResponses: map[*mux.Route]interface{}{
			transport.NewAPIRouter().Get(transport.ListServices): []v1.ServiceStatus{
				{
					Name:     "backend",
					LivePool: pool.MakeID("backend", pool.Blue),
					Pools: []v1.PoolStatus{
						{ID: pool.MakeID("backend", pool.Blue), Health: pool.HealthHealthy, Ready: 2, Replicas: 2, Live: true},
						{ID: pool.MakeID("backend", pool.Green), Health: pool.HealthUnknown},
					},
				},
			},
		},
	}
	listClient := newServiceList(mockRootOpts(svc))

	cmd := listClient.Command()
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	if calledURL(transport.ListServices, svc.requestHistory) == nil {
		t.Fatal("expected bgctl to list services, but it did not")
	}
}
