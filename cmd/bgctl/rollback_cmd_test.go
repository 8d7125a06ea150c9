package main

import (
	"encoding/json"
	"testing"

	"github.com/gorilla/mux"

	"github.com/ragchat/bluegreen/pkg/api/v1"
	transport "github.com/ragchat/bluegreen/pkg/http"
)

func TestRollbackCommand_CLIConversion(t *testing.T) {
	svc := &genericMockRoundTripper{
		mockResponses: map[*mux.Route]interface{}{
			transport.NewAPIRouter().Get(transport.Rollback): struct{}{},
		},
	}
	rollbackClient := newRollback(mockRootOpts(svc))

	cmd := rollbackClient.Command()
	cmd.SetArgs([]string{"--service=backend", "--reason=latency regression"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	var spec v1.RollbackSpec
	if err := json.Unmarshal(svc.requestBodies[transport.Rollback], &spec); err != nil {
		t.Fatal(err)
	}
	assertString(t, "backend", spec.Service)
	assertString(t, "latency regression", spec.Reason)
}

func TestRollbackCommand_InputFailures(t *testing.T) {
	for _, v := range []struct {
		args []string
		msg  string
	}{
		{[]string{}, "should fail: no --service supplied"},
		{[]string{"unexpected"}, "should fail: non-flag argument"},
	} {
		rollbackClient := newRollback(mockRootOpts(&genericMockRoundTripper{}))
		cmd := rollbackClient.Command()
		cmd.SetArgs(v.args)
		if err := cmd.Execute(); err == nil {
			t.Fatal(v.msg)
		}
	}
}
