// Package deploy implements blue-green deployments: provision the
// idle pool, verify it healthy, atomically switch the traffic over,
// then watch it through a cooldown window during which a rollback
// restores the previous pool. The previous pool is only retired once
// the cooldown has passed without incident.
package deploy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/ryanuber/go-glob"

	"github.com/ragchat/bluegreen/pkg/event"
	"github.com/ragchat/bluegreen/pkg/fleet"
	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/pool"
	"github.com/ragchat/bluegreen/pkg/router"
	"github.com/ragchat/bluegreen/pkg/service"
)

// State is where a deployment is in its lifecycle.
type State string

const (
	StatePending      State = "pending"
	StateProvisioning State = "provisioning"
	StateVerifying    State = "verifying"
	StateCutover      State = "cutover"
	StateCooldown     State = "cooldown"
	StateSucceeded    State = "succeeded"
	StateRolledBack   State = "rolled_back"
	StateFailed       State = "failed"
)

// Deployment records one attempt to make an image live for a service.
type Deployment struct {
	ID      string `json:"id"`
	RunID   string `json:"runID,omitempty"`
	Service string `json:"service"`

	TargetPool    pool.ID      `json:"targetPool"`
	PreviousPool  pool.ID      `json:"previousPool,omitempty"`
	TargetImage   image.Ref    `json:"targetImage"`
	PreviousImage image.Ref    `json:"previousImage,omitempty"`
	Change        image.Change `json:"change,omitempty"`

	State State `json:"state"`
	// Attempts counts provision calls made, first try included.
	Attempts int `json:"attempts"`

	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt,omitempty"`
	CooldownUntil time.Time `json:"cooldownUntil,omitempty"`

	// Code and Error describe the terminal failure, if there was one.
	Code  Code   `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// HasPrevious says whether there was a live pool before this
// deployment, i.e. whether a rollback has anywhere to go.
func (d Deployment) HasPrevious() bool {
	return d.PreviousPool != pool.ID{}
}

type cooldownWatch struct {
	signal chan string
}

// Engine executes deployments against a fleet and a router. Methods
// are safe for concurrent use; deployments of the same service are
// serialized against each other.
type Engine struct {
	Fleet  fleet.Manager
	Router router.Router
	Events event.EventWriter
	Logger log.Logger
	// Backoff gives the pause before retry `attempt` (counted from 1).
	Backoff func(attempt int) time.Duration

	mtx    sync.Mutex
	locks  map[string]*sync.Mutex
	active map[string]*cooldownWatch
	last   map[string]*Deployment
	images map[string]image.Ref
}

func New(f fleet.Manager, r router.Router, events event.EventWriter, logger log.Logger) *Engine {
	return &Engine{
		Fleet:   f,
		Router:  r,
		Events:  events,
		Logger:  logger,
		Backoff: defaultBackoff,
		locks:   map[string]*sync.Mutex{},
		active:  map[string]*cooldownWatch{},
		last:    map[string]*Deployment{},
		images:  map[string]image.Ref{},
	}
}

func defaultBackoff(attempt int) time.Duration {
	d := 500 * time.Millisecond << uint(attempt-1)
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

// Deploy runs one blue-green deployment to completion: it returns
// once the deployment has succeeded, failed, or been rolled back. The
// returned error is nil exactly when the final state is Succeeded,
// and otherwise carries the taxonomy code (see ErrCode).
func (e *Engine) Deploy(ctx context.Context, runID string, svc service.Service, target image.Ref, s Settings) (Deployment, error) {
	lock := e.serviceLock(svc.Name)
	lock.Lock()
	defer lock.Unlock()

	d := &Deployment{
		ID:          uuid.New().String(),
		RunID:       runID,
		Service:     svc.Name,
		TargetImage: target,
		State:       StatePending,
		StartedAt:   time.Now().UTC(),
	}
	e.remember(d)

	defer func(start time.Time) {
		e.update(d, func() { d.FinishedAt = time.Now().UTC() })
		ObserveDeployment(start, d.Service, d.State)
	}(time.Now())

	logger := log.With(e.Logger, "deployment", d.ID, "service", svc.Name)
	logger.Log("info", "starting deployment", "image", target.String())

	err := e.execute(ctx, logger, d, svc, target, s)
	if err != nil {
		e.update(d, func() {
			if d.State != StateRolledBack {
				d.State = StateFailed
			}
			d.Code = ErrCode(err)
			d.Error = err.Error()
		})
		logger.Log("err", err, "state", d.State)
		e.emit(event.Event{
			ServiceIDs: []string{svc.Name},
			Type:       event.EventDeployCompleted,
			LogLevel:   event.LogLevelError,
			Metadata:   e.deployMeta(d),
		})
		return e.snapshot(d), err
	}

	e.update(d, func() { d.State = StateSucceeded })
	e.rememberImage(svc.Name, target)
	logger.Log("info", "deployment succeeded", "pool", d.TargetPool.String())
	e.emit(event.Event{
		ServiceIDs: []string{svc.Name},
		Type:       event.EventDeployCompleted,
		LogLevel:   event.LogLevelInfo,
		Metadata:   e.deployMeta(d),
	})
	return e.snapshot(d), nil
}

// execute runs the deployment steps in order, leaving terminal
// bookkeeping to Deploy. Pre-cutover failures tear the idle pool
// down; post-cutover failures are rollbacks and clean up after
// themselves.
func (e *Engine) execute(ctx context.Context, logger log.Logger, d *Deployment, svc service.Service, target image.Ref, s Settings) error {
	live, err := e.Router.Live(ctx, svc.Name)
	switch {
	case err == router.ErrNoLivePool:
		e.update(d, func() { d.TargetPool = svc.Pool(pool.Blue) })
	case err != nil:
		return makeError(CodeProvision, svc.Name, errors.Wrap(err, "determining live pool"))
	default:
		e.update(d, func() {
			d.PreviousPool = live
			d.TargetPool = live.Other()
		})
	}
	if prev, ok := e.lastImage(svc.Name); ok {
		e.update(d, func() {
			d.PreviousImage = prev
			d.Change = image.Compare(prev, target)
		})
	}

	e.emit(event.Event{
		ServiceIDs: []string{svc.Name},
		Type:       event.EventDeployStarted,
		Metadata:   e.deployMeta(d),
	})

	if err := e.provision(ctx, d, svc, target, s); err != nil {
		e.teardown(logger, d.TargetPool)
		return err
	}
	if err := e.verify(ctx, logger, d, svc, s); err != nil {
		e.teardown(logger, d.TargetPool)
		return err
	}
	if err := e.cutover(ctx, d, s); err != nil {
		if e.neverWentLive(d.TargetPool) {
			e.teardown(logger, d.TargetPool)
		} else {
			logger.Log("warn", "pool may be serving traffic, leaving it up", "pool", d.TargetPool.String())
		}
		return err
	}
	if err := e.cooldown(ctx, logger, d, svc, s); err != nil {
		return err
	}

	// The new pool survived its cooldown; retire the old one.
	if d.HasPrevious() {
		err := e.retry(ctx, s, "retire previous pool", func(ctx context.Context) error {
			return e.Fleet.Scale(ctx, d.PreviousPool, 0)
		})
		if err != nil {
			// Not fatal: traffic is on the new pool either way.
			logger.Log("warn", "could not retire previous pool", "pool", d.PreviousPool.String(), "err", err)
			e.emit(event.Event{
				ServiceIDs: []string{svc.Name},
				Type:       event.NoneOfTheAbove,
				LogLevel:   event.LogLevelWarn,
				Message:    fmt.Sprintf("Could not retire previous pool %s: %s", d.PreviousPool, err),
			})
		}
	}
	return nil
}

func (e *Engine) provision(ctx context.Context, d *Deployment, svc service.Service, target image.Ref, s Settings) error {
	defer NewStageTimer("provision").ObserveDuration()
	e.update(d, func() { d.State = StateProvisioning })

	err := e.retry(ctx, s, "provision pool", func(ctx context.Context) error {
		e.update(d, func() { d.Attempts++ })
		return e.Fleet.Provision(ctx, d.TargetPool, target, svc.Replicas)
	})
	if err != nil {
		if ctx.Err() != nil {
			return makeError(CodeCanceled, d.Service, ctx.Err())
		}
		return makeError(CodeProvision, d.Service, err)
	}
	e.emit(event.Event{
		ServiceIDs: []string{svc.Name},
		Type:       event.EventDeployProvisioned,
		Metadata:   e.deployMeta(d),
	})
	return nil
}

// verify gates the cutover: the idle pool must produce
// HealthyThreshold passing observations before the gate deadline,
// with failing streaks longer than UnhealthyThreshold restarting the
// count. What happens at the deadline is the TimeoutPolicy's call.
func (e *Engine) verify(ctx context.Context, logger log.Logger, d *Deployment, svc service.Service, s Settings) error {
	defer NewStageTimer("verify").ObserveDuration()
	e.update(d, func() { d.State = StateVerifying })

	deadline := time.Now().Add(s.HealthCheckTimeout)
	ticker := time.NewTicker(s.HealthCheckInterval)
	defer ticker.Stop()

	passes := 0
	fails := 0
	lastReady := -1
	for {
		select {
		case <-ctx.Done():
			return makeError(CodeCanceled, d.Service, ctx.Err())
		case <-ticker.C:
		}

		statuses, err := e.observe(ctx, d.TargetPool, s)
		pass := false
		if err != nil {
			logger.Log("warn", "health observation failed", "pool", d.TargetPool.String(), "err", err)
		} else {
			ready := fleet.CountHealthy(statuses)
			if ready != lastReady {
				e.emit(event.Event{
					ServiceIDs: []string{svc.Name},
					Type:       event.EventDeployHealth,
					Metadata:   healthMeta(d, ready, svc.Replicas, statuses),
				})
				lastReady = ready
			}
			pass = ready >= svc.Replicas
		}
		if pass {
			passes++
			fails = 0
		} else {
			fails++
			if fails > s.UnhealthyThreshold {
				passes = 0
			}
		}

		if passes >= s.HealthyThreshold {
			e.emit(event.Event{
				ServiceIDs: []string{svc.Name},
				Type:       event.EventDeployVerified,
				Metadata:   e.deployMeta(d),
			})
			return nil
		}
		if time.Now().After(deadline) {
			meta := e.deployMeta(d)
			meta.Reason = fmt.Sprintf("no %d healthy checks within %s", s.HealthyThreshold, s.HealthCheckTimeout)
			if s.TimeoutPolicy == TimeoutContinue {
				logger.Log("warn", "verification gate expired; continuing to cutover", "pool", d.TargetPool.String())
				e.emit(event.Event{
					ServiceIDs: []string{svc.Name},
					Type:       event.EventDeployHealthTimeout,
					LogLevel:   event.LogLevelWarn,
					Metadata:   meta,
				})
				return nil
			}
			e.emit(event.Event{
				ServiceIDs: []string{svc.Name},
				Type:       event.EventDeployHealthTimeout,
				LogLevel:   event.LogLevelError,
				Metadata:   meta,
			})
			return makeError(CodeHealthTimeout, d.Service,
				errors.Errorf("pool %s did not produce %d healthy checks within %s",
					d.TargetPool, s.HealthyThreshold, s.HealthCheckTimeout))
		}
	}
}

func (e *Engine) cutover(ctx context.Context, d *Deployment, s Settings) error {
	defer NewStageTimer("cutover").ObserveDuration()
	e.update(d, func() { d.State = StateCutover })

	err := e.retry(ctx, s, "set live pool", func(ctx context.Context) error {
		return e.Router.SetLive(ctx, d.TargetPool)
	})
	if err != nil {
		if ctx.Err() != nil {
			return makeError(CodeCanceled, d.Service, ctx.Err())
		}
		return makeError(CodeCutover, d.Service, err)
	}
	e.emit(event.Event{
		ServiceIDs: []string{d.Service},
		Type:       event.EventDeployCutover,
		Metadata:   e.deployMeta(d),
	})
	return nil
}

// cooldown watches the newly live pool. It returns nil once the
// window passes without a rollback; otherwise it performs the
// rollback and returns the resulting error. An explicit Rollback
// signal always wins; a detected regression only rolls back if its
// event type matches one of the RollbackOnEvents patterns.
func (e *Engine) cooldown(ctx context.Context, logger log.Logger, d *Deployment, svc service.Service, s Settings) error {
	defer NewStageTimer("cooldown").ObserveDuration()
	e.update(d, func() {
		d.State = StateCooldown
		d.CooldownUntil = time.Now().UTC().Add(s.Cooldown)
	})

	w := &cooldownWatch{signal: make(chan string, 1)}
	e.register(d.Service, w)
	defer e.unregister(d.Service, w)

	e.emit(event.Event{
		ServiceIDs: []string{svc.Name},
		Type:       event.EventDeployCooldown,
		Metadata:   e.deployMeta(d),
	})

	timer := time.NewTimer(s.Cooldown)
	defer timer.Stop()
	ticker := time.NewTicker(s.HealthCheckInterval)
	defer ticker.Stop()

	fails := 0
	regressed := false
	for {
		select {
		case <-timer.C:
			return nil
		case reason := <-w.signal:
			return e.rollback(ctx, logger, d, s, reason, true)
		case <-ctx.Done():
			// The deployment is being abandoned mid-cooldown; restore
			// the previous pool rather than leave an unvetted version
			// live. The parent ctx is dead, so the rollback gets a
			// fresh one.
			return e.rollback(context.Background(), logger, d, s, "deployment canceled during cooldown", true)
		case <-ticker.C:
		}

		statuses, err := e.observe(ctx, d.TargetPool, s)
		if err == nil && fleet.CountHealthy(statuses) >= svc.Replicas {
			fails = 0
			regressed = false
			continue
		}
		if err != nil {
			logger.Log("warn", "health observation failed", "pool", d.TargetPool.String(), "err", err)
		}
		fails++
		if fails < s.UnhealthyThreshold || regressed {
			continue
		}
		regressed = true
		ready := fleet.CountHealthy(statuses)
		e.emit(event.Event{
			ServiceIDs: []string{svc.Name},
			Type:       event.EventDeployRegressed,
			LogLevel:   event.LogLevelError,
			Metadata:   healthMeta(d, ready, svc.Replicas, statuses),
		})
		if matchesAny(s.RollbackOnEvents, event.EventDeployRegressed) {
			reason := fmt.Sprintf("health regression: %d/%d replicas healthy", ready, svc.Replicas)
			return e.rollback(ctx, logger, d, s, reason, false)
		}
		logger.Log("warn", "regression detected but no rollback pattern matched", "pool", d.TargetPool.String())
	}
}

// rollback restores the previous pool and retires the regressed one.
func (e *Engine) rollback(ctx context.Context, logger log.Logger, d *Deployment, s Settings, reason string, operator bool) error {
	if !d.HasPrevious() {
		return makeError(CodeRegression, d.Service,
			errors.Errorf("rollback wanted (%s) but there is no previous pool", reason))
	}

	err := e.retry(ctx, s, "restore previous pool", func(ctx context.Context) error {
		return e.Router.SetLive(ctx, d.PreviousPool)
	})
	if err != nil {
		return makeError(CodeRegression, d.Service,
			errors.Wrapf(err, "rollback wanted (%s) but restoring pool %s failed", reason, d.PreviousPool))
	}

	ObserveRollback(d.Service, operator)
	e.teardown(logger, d.TargetPool)
	e.update(d, func() { d.State = StateRolledBack })
	meta := e.deployMeta(d)
	meta.Reason = reason
	e.emit(event.Event{
		ServiceIDs: []string{d.Service},
		Type:       event.EventDeployRollback,
		LogLevel:   event.LogLevelWarn,
		Metadata:   meta,
	})
	logger.Log("warn", "rolled back", "to", d.PreviousPool.String(), "reason", reason)
	return makeError(CodeRegression, d.Service, errors.New(reason))
}

// neverWentLive double-checks the router before a failed cutover's
// teardown. SetLive is atomic, but a lost response on the last
// attempt can leave traffic on the new pool, and scaling that pool
// to zero would be an outage.
func (e *Engine) neverWentLive(id pool.ID) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	live, err := e.Router.Live(ctx, id.Service)
	switch {
	case err == router.ErrNoLivePool:
		return true
	case err != nil:
		return false
	}
	return live != id
}

// teardown scales a pool to zero, best effort. It runs on its own
// context: the paths that arrive here include ones whose deployment
// ctx has already been cancelled.
func (e *Engine) teardown(logger log.Logger, id pool.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := e.Fleet.Scale(ctx, id, 0); err != nil {
		logger.Log("warn", "could not tear pool down", "pool", id.String(), "err", err)
	}
}

// observe asks the fleet for the pool's health, bounded to one
// interval so a hung backend can't stall the loop.
func (e *Engine) observe(ctx context.Context, id pool.ID, s Settings) ([]fleet.ReplicaStatus, error) {
	obsCtx, cancel := context.WithTimeout(ctx, s.HealthCheckInterval)
	defer cancel()
	return e.Fleet.Health(obsCtx, id)
}

// retry runs f up to 1+retries times, backing off between attempts
// and giving up early when ctx is done.
func (e *Engine) retry(ctx context.Context, s Settings, what string, f func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.ProvisionRetries; attempt++ {
		if attempt > 0 {
			e.Logger.Log("warn", "retrying "+what, "attempt", attempt, "err", err)
			if sleepErr := sleep(ctx, e.Backoff(attempt)); sleepErr != nil {
				return err
			}
		}
		if err = f(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return errors.Wrapf(err, "%s (%d attempts)", what, s.ProvisionRetries+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func matchesAny(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if glob.Glob(p, eventType) {
			return true
		}
	}
	return false
}

// Rollback asks the deployment currently in its cooldown window for
// the service to roll back. It returns an error if there is no such
// deployment.
func (e *Engine) Rollback(service, reason string) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	w, ok := e.active[service]
	if !ok {
		return errors.Errorf("no deployment of %q is in its cooldown window", service)
	}
	select {
	case w.signal <- reason:
	default: // already signalled
	}
	return nil
}

// Last returns the most recent deployment of the service, which may
// still be in progress.
func (e *Engine) Last(service string) (Deployment, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	d, ok := e.last[service]
	if !ok {
		return Deployment{}, false
	}
	return *d, true
}

// Ping checks both backends the engine depends on.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.Fleet.Ping(ctx); err != nil {
		return errors.Wrap(err, "fleet")
	}
	if err := e.Router.Ping(ctx); err != nil {
		return errors.Wrap(err, "router")
	}
	return nil
}

func (e *Engine) serviceLock(service string) *sync.Mutex {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	lock, ok := e.locks[service]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[service] = lock
	}
	return lock
}

func (e *Engine) register(service string, w *cooldownWatch) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.active[service] = w
}

func (e *Engine) unregister(service string, w *cooldownWatch) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.active[service] == w {
		delete(e.active, service)
	}
}

func (e *Engine) remember(d *Deployment) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.last[d.Service] = d
}

func (e *Engine) snapshot(d *Deployment) Deployment {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return *d
}

func (e *Engine) update(d *Deployment, f func()) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	f()
}

func (e *Engine) rememberImage(service string, ref image.Ref) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.images[service] = ref
}

func (e *Engine) lastImage(service string) (image.Ref, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	ref, ok := e.images[service]
	return ref, ok
}

func (e *Engine) deployMeta(d *Deployment) *event.DeployEventMetadata {
	snap := e.snapshot(d)
	return &event.DeployEventMetadata{
		DeploymentID:  snap.ID,
		RunID:         snap.RunID,
		Service:       snap.Service,
		Target:        snap.TargetPool,
		Previous:      snap.PreviousPool,
		TargetImage:   snap.TargetImage,
		PreviousImage: snap.PreviousImage,
		Change:        snap.Change,
		State:         string(snap.State),
		Error:         snap.Error,
	}
}

func healthMeta(d *Deployment, ready, desired int, statuses []fleet.ReplicaStatus) *event.HealthEventMetadata {
	meta := &event.HealthEventMetadata{
		DeploymentID: d.ID,
		Service:      d.Service,
		Pool:         d.TargetPool,
		Ready:        ready,
		Desired:      desired,
	}
	for _, st := range statuses {
		meta.Replicas = append(meta.Replicas, event.Replica{
			ID:      st.ID,
			Healthy: st.Healthy,
			Detail:  st.Detail,
		})
	}
	return meta
}

func (e *Engine) emit(ev event.Event) {
	if e.Events == nil {
		return
	}
	now := time.Now().UTC()
	ev.StartedAt, ev.EndedAt = now, now
	if ev.LogLevel == "" {
		ev.LogLevel = event.LogLevelInfo
	}
	if err := e.Events.LogEvent(ev); err != nil {
		e.Logger.Log("err", errors.Wrap(err, "logging event"))
	}
}
