package deploy

import (
	"time"

	"github.com/pkg/errors"
)

// TimeoutPolicy says what the engine does when the verification gate
// deadline passes without the idle pool reaching the healthy
// threshold.
type TimeoutPolicy string

const (
	// TimeoutAbort tears the idle pool down and fails the deployment.
	TimeoutAbort TimeoutPolicy = "abort"
	// TimeoutContinue proceeds to cutover regardless, with a warning
	// event. The cooldown watch still applies afterwards.
	TimeoutContinue TimeoutPolicy = "continue"
)

// Settings govern one deployment. They are resolved per service from
// configuration (global defaults with per-service overrides) before
// each deployment begins; the engine never reads config itself.
type Settings struct {
	// HealthCheckInterval is the pause between health observations,
	// both during verification and during the cooldown watch.
	HealthCheckInterval time.Duration `json:"healthCheckInterval"`
	// HealthCheckTimeout bounds the whole verification gate: if the
	// idle pool has not verified within it, TimeoutPolicy decides what
	// happens.
	HealthCheckTimeout time.Duration `json:"healthCheckTimeout"`
	// HealthyThreshold is how many passing observations verify the
	// idle pool. An observation passes when every desired replica
	// reports healthy.
	HealthyThreshold int `json:"healthyThreshold"`
	// UnhealthyThreshold bounds failing streaks. During verification
	// a streak longer than this restarts the passing count; during
	// cooldown a streak this long counts as a regression.
	UnhealthyThreshold int `json:"unhealthyThreshold"`
	// Cooldown is how long the engine watches the new live pool after
	// cutover before declaring success and scaling the old pool down.
	Cooldown time.Duration `json:"cutoverCooldown"`
	// ProvisionRetries is how many times fleet and router calls are
	// retried (after the first attempt) before the deployment fails.
	ProvisionRetries int `json:"provisionRetryCount"`
	// RollbackOnEvents are glob patterns over event types; a matching
	// event observed during cooldown triggers automatic rollback.
	// Regressions that match nothing are recorded but do not roll
	// back.
	RollbackOnEvents []string `json:"rollbackOnEvents"`
	// TimeoutPolicy is consulted when the verification gate expires.
	TimeoutPolicy TimeoutPolicy `json:"timeoutPolicy"`
}

// DefaultSettings are the shipped defaults; configuration overlays
// them. Note the abort timeout policy: continuing past a failed
// verification gate is opt-in.
func DefaultSettings() Settings {
	return Settings{
		HealthCheckInterval: 10 * time.Second,
		HealthCheckTimeout:  5 * time.Minute,
		HealthyThreshold:    3,
		UnhealthyThreshold:  2,
		Cooldown:            5 * time.Minute,
		ProvisionRetries:    2,
		RollbackOnEvents:    []string{"deploy.health_regressed"},
		TimeoutPolicy:       TimeoutAbort,
	}
}

// Validate reports the first problem with the settings, if any.
func (s Settings) Validate() error {
	if s.HealthCheckInterval <= 0 {
		return errors.New("health check interval must be positive")
	}
	if s.HealthCheckTimeout <= 0 {
		return errors.New("health check timeout must be positive")
	}
	if s.HealthyThreshold < 1 {
		return errors.New("healthy threshold must be at least 1")
	}
	if s.UnhealthyThreshold < 1 {
		return errors.New("unhealthy threshold must be at least 1")
	}
	if s.Cooldown < 0 {
		return errors.New("cooldown must not be negative")
	}
	if s.ProvisionRetries < 0 {
		return errors.New("provision retry count must not be negative")
	}
	for _, pattern := range s.RollbackOnEvents {
		if pattern == "" {
			return errors.New("rollback_on_events patterns must not be empty")
		}
	}
	switch s.TimeoutPolicy {
	case TimeoutAbort, TimeoutContinue:
	default:
		return errors.Errorf("timeout policy must be %q or %q, not %q", TimeoutAbort, TimeoutContinue, s.TimeoutPolicy)
	}
	return nil
}
