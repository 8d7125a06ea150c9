package main

import (
	"context"
	"errors"
	"time"

	"github.com/ragchat/bluegreen/pkg/api"
	"github.com/ragchat/bluegreen/pkg/job"
	"github.com/ragchat/bluegreen/pkg/pipeline"
)

var ErrTimeout = errors.New("timeout")

// awaitRun polls for a queued run to have finished, with exponential
// backoff. Each status seen is passed to observe, so callers can show
// progress. On failure the returned error is the job.Status, which
// carries the partial run.
func awaitRun(ctx context.Context, client api.Server, id job.ID, timeout time.Duration, observe func(job.Status)) (pipeline.Run, error) {
	var result pipeline.Run
	err := backoff(100*time.Millisecond, 2, 50, timeout, func() (bool, error) {
		s, err := client.RunStatus(ctx, id)
		if err != nil {
			return false, err
		}
		if observe != nil {
			observe(s)
		}
		switch s.StatusString {
		case job.StatusFailed:
			return false, s
		case job.StatusSucceeded:
			if s.Err != "" {
				// How did we succeed but still get an error!?
				return false, s
			}
			result = s.Result
			return true, nil
		}
		return false, nil
	})
	return result, err
}

// backoff polls for f() to have been completed, with exponential backoff.
func backoff(initialDelay, factor, maxFactor, timeout time.Duration, f func() (bool, error)) error {
	maxDelay := initialDelay * maxFactor
	finish := time.Now().Add(timeout)
	for delay := initialDelay; time.Now().Before(finish); delay = min(delay*factor, maxDelay) {
		ok, err := f()
		if ok || err != nil {
			return err
		}
		// If we don't have time to try again, stop
		if time.Now().Add(delay).After(finish) {
			break
		}
		time.Sleep(delay)
	}
	return ErrTimeout
}

func min(t1, t2 time.Duration) time.Duration {
	if t1 < t2 {
		return t1
	}
	return t2
}
