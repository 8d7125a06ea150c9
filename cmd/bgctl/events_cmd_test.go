package main

import (
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/ragchat/bluegreen/pkg/event"
	transport "github.com/ragchat/bluegreen/pkg/http"
)

func TestEventsCommand_CLIConversion(t *testing.T) {
	svc := &genericMockRoundTripper{
		mockResponses: map[*mux.Route]interface{}{
			transport.NewAPIRouter().Get(transport.Events): []event.Event{
				{
					ID:         1,
					ServiceIDs: []string{"backend"},
					Type:       event.EventDeployCompleted,
					Message:    "backend: deployed v1.4.2 to backend-green",
					StartedAt:  time.Now(),
				},
			},
		},
	}
	eventsClient := newEvents(mockRootOpts(svc))

	cmd := eventsClient.Command()
	cmd.SetArgs([]string{"--service=backend", "--limit=10"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	vars := calledRequest(transport.Events, svc.requestHistory).Vars
	assertString(t, "backend", vars["service"])
	assertString(t, "10", vars["limit"])
}
