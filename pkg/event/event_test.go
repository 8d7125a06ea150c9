package event

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/pool"
)

func TestEvent_ParseDeployMetadata(t *testing.T) {
	origEvent := Event{
		Type:       EventDeployCutover,
		ServiceIDs: []string{"backend"},
		Metadata: &DeployEventMetadata{
			DeploymentID: "dep-1",
			Service:      "backend",
			Target:       pool.MakeID("backend", pool.Green),
			Previous:     pool.MakeID("backend", pool.Blue),
			TargetImage:  image.MustParseRef("ragchat/backend:v1.1.0"),
			Change:       image.ChangeUpgrade,
		},
	}

	bytes, _ := json.Marshal(origEvent)

	e := Event{}
	err := e.UnmarshalJSON(bytes)
	if err != nil {
		t.Fatal(err)
	}
	switch m := e.Metadata.(type) {
	case *DeployEventMetadata:
		if m.Target != pool.MakeID("backend", pool.Green) ||
			m.TargetImage.Tag != "v1.1.0" {
			t.Fatal("Deploy event wasn't marshalled/unmarshalled")
		}
	default:
		t.Fatal("Wrong event type unmarshalled")
	}
}

func TestEvent_ParseHealthMetadata(t *testing.T) {
	origEvent := Event{
		Type:       EventDeployRegressed,
		ServiceIDs: []string{"frontend"},
		Metadata: &HealthEventMetadata{
			Service: "frontend",
			Pool:    pool.MakeID("frontend", pool.Blue),
			Ready:   1,
			Desired: 2,
			Replicas: []Replica{
				{ID: "replica-0", Healthy: true},
				{ID: "replica-1", Healthy: false, Detail: "connection refused"},
			},
		},
	}

	bytes, _ := json.Marshal(origEvent)

	e := Event{}
	if err := e.UnmarshalJSON(bytes); err != nil {
		t.Fatal(err)
	}
	m, ok := e.Metadata.(*HealthEventMetadata)
	if !ok {
		t.Fatal("Wrong event type unmarshalled")
	}
	if m.Ready != 1 || m.Desired != 2 || len(m.Replicas) != 2 {
		t.Fatalf("Health event wasn't marshalled/unmarshalled: %#v", m)
	}
}

func TestEvent_ParseNoMetadata(t *testing.T) {
	origEvent := Event{
		Type: NoneOfTheAbove,
	}

	bytes, _ := json.Marshal(origEvent)

	e := Event{}
	err := e.UnmarshalJSON(bytes)
	if err != nil {
		t.Fatal(err)
	}
	if e.Metadata != nil {
		t.Fatal("Hasn't been unmarshalled properly")
	}
}

func TestEvent_String(t *testing.T) {
	e := Event{
		Type:       EventDeployRollback,
		ServiceIDs: []string{"backend"},
		Metadata: &DeployEventMetadata{
			Service:  "backend",
			Previous: pool.MakeID("backend", pool.Blue),
			Reason:   "health regression during cooldown",
		},
	}
	if s := e.String(); !strings.Contains(s, "backend-blue") || !strings.Contains(s, "regression") {
		t.Fatalf("unhelpful event string: %q", s)
	}
}
