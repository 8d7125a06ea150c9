package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/time/rate"

	"github.com/ragchat/bluegreen/pkg/http/httperror"
)

func TestProbeStatuses(t *testing.T) {
	var status int32 = http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer srv.Close()

	p := NewProber(100, 10, nil)
	ctx := context.Background()

	if err := p.Probe(ctx, srv.URL+"/health"); err != nil {
		t.Fatalf("2xx should pass, got %v", err)
	}

	atomic.StoreInt32(&status, http.StatusServiceUnavailable)
	err := p.Probe(ctx, srv.URL+"/health")
	if err == nil {
		t.Fatal("5xx should fail")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Fatalf("error should carry the status, got %q", err)
	}
	apiErr, ok := err.(*httperror.APIError)
	if !ok {
		t.Fatalf("expected *httperror.APIError, got %T", err)
	}
	if !apiErr.IsUnavailable() {
		t.Fatal("503 should count as unavailable")
	}
}

func TestProbeConnectionRefused(t *testing.T) {
	// A server that is immediately closed leaves a port nothing
	// listens on.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewProber(100, 10, nil)
	if err := p.Probe(context.Background(), url+"/health"); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestRateLimiterBacksOffOn429(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	limiters := &RateLimiters{RPS: 100, Burst: 10}
	rt := limiters.RoundTripper(http.DefaultTransport, "testhost")

	req, _ := http.NewRequest("GET", srv.URL, nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	limiter := limiters.perHost["testhost"]
	if got := float64(limiter.Limit()); got >= 100 {
		t.Fatalf("limit was not reduced: %v", got)
	}

	limiters.Recover("testhost")
	if got := float64(limiter.Limit()); got <= 50 {
		t.Fatalf("limit did not recover: %v", got)
	}
}

func TestRateLimiterClips(t *testing.T) {
	limiters := &RateLimiters{RPS: 10, Burst: 1}
	for i := 0; i < 20; i++ {
		limiters.backOff("host")
	}
	if got := float64(limiters.perHost["host"].Limit()); got < minLimit {
		t.Fatalf("limit fell below the floor: %v", got)
	}
	for i := 0; i < 20; i++ {
		limiters.Recover("host")
	}
	if got := float64(limiters.perHost["host"].Limit()); got > 10 {
		t.Fatalf("limit rose above the ideal: %v", got)
	}
	if limiters.perHost["host"].Limit() != rate.Limit(10) {
		t.Fatalf("limit did not return to the ideal: %v", limiters.perHost["host"].Limit())
	}
}
