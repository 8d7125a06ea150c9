package main

import (
	"testing"

	"github.com/gorilla/mux"

	transport "github.com/ragchat/bluegreen/pkg/http"
	"github.com/ragchat/bluegreen/pkg/job"
	"github.com/ragchat/bluegreen/pkg/pipeline"
)

// With no --run, status looks up the most recent run and shows that.
func TestStatusCommand_LatestRun(t *testing.T) {
	running := pipeline.Run{
		ID:       "run-9",
		Revision: "v2.0.0",
		Stage:    pipeline.StageBuilding,
		State:    pipeline.StateRunning,
	}
	svc := &genericMockRoundTripper{
		mockResponses: map[*mux.Route]interface{}{
			transport.NewAPIRouter().Get(transport.ListRuns).Queries("limit", "{limit}"): []job.Status{
				{StatusString: job.StatusRunning, Result: running},
			},
			transport.NewAPIRouter().Get(transport.RunStatus): job.Status{
				StatusString: job.StatusRunning,
				Result:       running,
			},
		},
	}
	statusClient := newStatus(mockRootOpts(svc))

	cmd := statusClient.Command()
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	vars := calledRequest(transport.RunStatus, svc.requestHistory).Vars
	assertString(t, "run-9", vars["id"])
}

func TestStatusCommand_ExplicitRun(t *testing.T) {
	svc := &genericMockRoundTripper{
		mockResponses: map[*mux.Route]interface{}{
			transport.NewAPIRouter().Get(transport.RunStatus): job.Status{
				StatusString: job.StatusQueued,
				Result:       pipeline.Run{ID: "run-4", Revision: "v2.0.1", State: pipeline.StatePending},
			},
		},
	}
	statusClient := newStatus(mockRootOpts(svc))

	cmd := statusClient.Command()
	cmd.SetArgs([]string{"--run=run-4"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	if calledURL(transport.ListRuns, svc.requestHistory) != nil {
		t.Fatal("expected bgctl not to list runs when --run is given")
	}
	vars := calledRequest(transport.RunStatus, svc.requestHistory).Vars
	assertString(t, "run-4", vars["id"])
}
