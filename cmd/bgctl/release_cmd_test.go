package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/ragchat/bluegreen/pkg/api/v1"
	transport "github.com/ragchat/bluegreen/pkg/http"
	"github.com/ragchat/bluegreen/pkg/job"
	"github.com/ragchat/bluegreen/pkg/pipeline"
)

func TestReleaseCommand_CLIConversion(t *testing.T) {
	svc := testReleaseArgs(t, []string{"--revision=v1.4.2", "--no-wait"}, false, "")

	if calledURL(transport.Release, svc.requestHistory) == nil {
		t.Fatal("expected bgctl to post a release, but it did not")
	}
	var spec v1.ReleaseSpec
	if err := json.Unmarshal(svc.requestBodies[transport.Release], &spec); err != nil {
		t.Fatal(err)
	}
	assertString(t, "v1.4.2", spec.Revision)
	if spec.Cause == "" {
		t.Fatal("expected a default cause to be filled in")
	}
}

func TestReleaseCommand_Await(t *testing.T) {
	svc := testReleaseArgs(t, []string{"--revision=v1.4.2"}, false, "")

	vars := calledRequest(transport.RunStatus, svc.requestHistory).Vars
	assertString(t, "run-1", vars["id"])
}

func TestReleaseCommand_InputFailures(t *testing.T) {
	for _, v := range []struct {
		args []string
		msg  string
	}{
		{[]string{}, "should fail: no --revision supplied"},
		{[]string{"unexpected"}, "should fail: non-flag argument"},
	} {
		testReleaseArgs(t, v.args, true, v.msg)
	}
}

func testReleaseArgs(t *testing.T, args []string, shouldErr bool, errMsg string) *genericMockRoundTripper {
	finished := pipeline.Run{
		ID:       "run-1",
		Revision: "v1.4.2",
		Resolved: "v1.4.2",
		Stage:    pipeline.DeployStage("frontend"),
		State:    pipeline.StateSucceeded,
		Stages: []pipeline.StageResult{
			{Stage: pipeline.StageSourcing, State: pipeline.StateSucceeded, StartedAt: time.Now(), FinishedAt: time.Now()},
		},
	}
	svc := &genericMockRoundTripper{
		mockResponses: map[*mux.Route]interface{}{
			transport.NewAPIRouter().Get(transport.Release): job.ID("run-1"),
			transport.NewAPIRouter().Get(transport.RunStatus): job.Status{
				StatusString: job.StatusSucceeded,
				Result:       finished,
			},
		},
	}
	releaseClient := newRelease(mockRootOpts(svc))

	cmd := releaseClient.Command()
	cmd.SetArgs(args)
	if err := cmd.Execute(); (err == nil) == shouldErr {
		if errMsg != "" {
			t.Fatal(errMsg)
		} else {
			t.Fatal(err)
		}
	}
	return svc
}
