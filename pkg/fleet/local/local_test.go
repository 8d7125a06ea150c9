package local

import (
	"context"
	"testing"
	"time"

	"github.com/ragchat/bluegreen/pkg/fleet"
	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/pool"
)

var (
	backendBlue = pool.MakeID("backend", pool.Blue)
	testImage   = image.MustParseRef("ragchat/backend:v1.0.0")
)

func TestProvisionAndHealth(t *testing.T) {
	f := NewFleet(0)
	ctx := context.Background()

	if err := f.Provision(ctx, backendBlue, testImage, 2); err != nil {
		t.Fatal(err)
	}
	statuses, err := f.Health(ctx, backendBlue)
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 2 || fleet.CountHealthy(statuses) != 2 {
		t.Fatalf("got statuses %v", statuses)
	}
	if img, ok := f.Image(backendBlue); !ok || img != testImage {
		t.Fatalf("got image %v, %v", img, ok)
	}
}

func TestStartupDelay(t *testing.T) {
	f := NewFleet(time.Hour)
	ctx := context.Background()

	f.Provision(ctx, backendBlue, testImage, 1)
	statuses, _ := f.Health(ctx, backendBlue)
	if fleet.CountHealthy(statuses) != 0 {
		t.Fatalf("replica healthy before startup delay: %v", statuses)
	}
	if statuses[0].Detail != "starting" {
		t.Fatalf("got detail %q", statuses[0].Detail)
	}

	// Wind the clock forward instead of sleeping.
	f.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	statuses, _ = f.Health(ctx, backendBlue)
	if fleet.CountHealthy(statuses) != 1 {
		t.Fatalf("replica not healthy after startup delay: %v", statuses)
	}
}

func TestScale(t *testing.T) {
	f := NewFleet(0)
	ctx := context.Background()

	f.Provision(ctx, backendBlue, testImage, 2)
	if err := f.Scale(ctx, backendBlue, 0); err != nil {
		t.Fatal(err)
	}
	statuses, _ := f.Health(ctx, backendBlue)
	if len(statuses) != 0 {
		t.Fatalf("scaled to zero but got %v", statuses)
	}

	if err := f.Scale(ctx, backendBlue, 3); err != nil {
		t.Fatal(err)
	}
	statuses, _ = f.Health(ctx, backendBlue)
	if len(statuses) != 3 {
		t.Fatalf("scaled to three but got %v", statuses)
	}

	// Scaling a pool that was never provisioned only works for zero.
	if err := f.Scale(ctx, pool.MakeID("frontend", pool.Green), 0); err != nil {
		t.Fatal(err)
	}
	if err := f.Scale(ctx, pool.MakeID("frontend", pool.Green), 1); err == nil {
		t.Fatal("expected error scaling unprovisioned pool up")
	}
}

func TestBreakAndRepair(t *testing.T) {
	f := NewFleet(0)
	ctx := context.Background()

	f.Provision(ctx, backendBlue, testImage, 2)
	f.Break(backendBlue, "HTTP 503")

	statuses, _ := f.Health(ctx, backendBlue)
	if fleet.CountHealthy(statuses) != 0 {
		t.Fatalf("broken pool reported healthy: %v", statuses)
	}
	if statuses[0].Detail != "HTTP 503" {
		t.Fatalf("got detail %q", statuses[0].Detail)
	}

	f.Repair(backendBlue)
	statuses, _ = f.Health(ctx, backendBlue)
	if fleet.CountHealthy(statuses) != 2 {
		t.Fatalf("repaired pool still unhealthy: %v", statuses)
	}
}

func TestAggregate(t *testing.T) {
	healthy := fleet.ReplicaStatus{Healthy: true}
	sick := fleet.ReplicaStatus{Detail: "starting"}
	for _, tc := range []struct {
		desired  int
		statuses []fleet.ReplicaStatus
		want     pool.Health
	}{
		{0, nil, pool.HealthUnknown},
		{2, []fleet.ReplicaStatus{healthy, healthy}, pool.HealthHealthy},
		{2, []fleet.ReplicaStatus{healthy, sick}, pool.HealthProgressing},
		{2, []fleet.ReplicaStatus{sick, sick}, pool.HealthUnhealthy},
		{2, nil, pool.HealthUnknown},
	} {
		if got := fleet.Aggregate(tc.desired, tc.statuses); got != tc.want {
			t.Errorf("Aggregate(%d, %v) = %s, want %s", tc.desired, tc.statuses, got, tc.want)
		}
	}
}
