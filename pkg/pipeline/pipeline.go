// Package pipeline sequences a release: resolve the revision, work
// out the images a build of it produced, then deploy each service in
// catalog order. The run halts at the first failed stage; later
// stages are never started.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/ragchat/bluegreen/pkg/deploy"
	"github.com/ragchat/bluegreen/pkg/event"
	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/service"
)

// State is a run's (or a stage's) overall disposition.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Stage names a step of the pipeline. Deploy stages are per service;
// see DeployStage.
type Stage string

const (
	StageIdle     Stage = "idle"
	StageSourcing Stage = "sourcing"
	StageBuilding Stage = "building"
)

// DeployStage is the stage that deploys the named service.
func DeployStage(service string) Stage {
	return Stage("deploying-" + service)
}

// StageResult records one stage of a run.
type StageResult struct {
	Stage      Stage     `json:"stage"`
	Service    string    `json:"service,omitempty"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	// Error and Code attribute the failure, if there was one.
	Error string      `json:"error,omitempty"`
	Code  deploy.Code `json:"code,omitempty"`
	// DeploymentID is set for deploy stages, whichever way they went.
	DeploymentID string `json:"deploymentID,omitempty"`
}

// Run is one end-to-end execution of the pipeline for a revision.
type Run struct {
	ID       string `json:"id"`
	Revision string `json:"revision"`
	// Resolved is the exact revision the Sourcer pinned, once known.
	Resolved string `json:"resolved,omitempty"`
	Cause    string `json:"cause,omitempty"`

	Stage  Stage         `json:"stage"`
	State  State         `json:"state"`
	Stages []StageResult `json:"stages,omitempty"`

	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	// Error is the first failing stage's error.
	Error string `json:"error,omitempty"`
}

// Sourcer pins an opaque revision reference (a branch, a label) to
// the exact revision to release.
type Sourcer interface {
	Resolve(ctx context.Context, revision string) (string, error)
}

// Builder reports the deployable image each service gets from a build
// of the revision, keyed by service name. It is invoked once per run;
// all services share the revision's artifact tag.
type Builder interface {
	Build(ctx context.Context, revision string, services []service.Service) (map[string]image.Ref, error)
}

// Deployer is the part of the deployment engine the pipeline drives.
type Deployer interface {
	Deploy(ctx context.Context, runID string, svc service.Service, target image.Ref, s deploy.Settings) (deploy.Deployment, error)
}

var _ Deployer = &deploy.Engine{}

// Controller runs pipelines. Runs are serialized: a second Run call
// blocks until the first completes. (The daemon additionally queues
// triggers, so in practice the lock is uncontended.)
type Controller struct {
	Sourcer  Sourcer
	Builder  Builder
	Deployer Deployer
	Catalog  service.Catalog
	// Settings holds each service's deploy settings; services absent
	// from the map get defaults.
	Settings map[string]deploy.Settings
	Events   event.EventWriter
	Logger   log.Logger

	mtx sync.Mutex
}

// Run executes the pipeline for one revision and reports the outcome.
// The returned error is nil exactly when the run succeeded; the Run
// carries per-stage detail either way.
func (c *Controller) Run(ctx context.Context, id, revision, cause string) (Run, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	run := &Run{
		ID:        id,
		Revision:  revision,
		Cause:     cause,
		Stage:     StageIdle,
		State:     StateRunning,
		StartedAt: time.Now().UTC(),
	}
	logger := log.With(c.Logger, "run", id, "revision", revision)
	logger.Log("info", "run started", "cause", cause)
	c.emit(run, event.EventRunStarted, event.LogLevelInfo)

	// Sourcing.
	st := c.beginStage(run, StageSourcing, "")
	resolved, err := c.Sourcer.Resolve(ctx, revision)
	if err != nil {
		return c.fail(logger, run, st, errors.Wrap(err, "resolving revision"))
	}
	run.Resolved = resolved
	c.endStage(run, st)

	// Building. The builder runs once; every service must come out of
	// it with an image.
	st = c.beginStage(run, StageBuilding, "")
	images, err := c.Builder.Build(ctx, resolved, c.Catalog)
	if err == nil {
		for _, svc := range c.Catalog {
			if _, ok := images[svc.Name]; !ok {
				err = errors.Errorf("no image built for service %q", svc.Name)
				break
			}
		}
	}
	if err != nil {
		return c.fail(logger, run, st, errors.Wrap(err, "building revision"))
	}
	c.endStage(run, st)

	// Deploying, one service at a time in catalog order. The first
	// failure halts the run: services later in the order are not
	// deployed, or touched at all.
	for _, svc := range c.Catalog {
		st = c.beginStage(run, DeployStage(svc.Name), svc.Name)
		d, err := c.Deployer.Deploy(ctx, run.ID, svc, images[svc.Name], c.settings(svc.Name))
		st.DeploymentID = d.ID
		if err != nil {
			st.Code = deploy.ErrCode(err)
			return c.fail(logger, run, st, err)
		}
		c.endStage(run, st)
	}

	run.Stage = StageIdle
	run.State = StateSucceeded
	run.FinishedAt = time.Now().UTC()
	logger.Log("info", "run succeeded")
	c.emit(run, event.EventRunCompleted, event.LogLevelInfo)
	return *run, nil
}

func (c *Controller) settings(service string) deploy.Settings {
	if s, ok := c.Settings[service]; ok {
		return s
	}
	return deploy.DefaultSettings()
}

// beginStage appends a running StageResult and announces it. The
// returned pointer is only valid until the next stage begins.
func (c *Controller) beginStage(run *Run, stage Stage, service string) *StageResult {
	run.Stage = stage
	run.Stages = append(run.Stages, StageResult{
		Stage:     stage,
		Service:   service,
		State:     StateRunning,
		StartedAt: time.Now().UTC(),
	})
	c.emit(run, event.EventRunStage, event.LogLevelInfo)
	return &run.Stages[len(run.Stages)-1]
}

func (c *Controller) endStage(run *Run, st *StageResult) {
	st.State = StateSucceeded
	st.FinishedAt = time.Now().UTC()
	c.emit(run, event.EventRunStage, event.LogLevelInfo)
}

// fail closes the current stage and the run. No stage after this one
// runs.
func (c *Controller) fail(logger log.Logger, run *Run, st *StageResult, err error) (Run, error) {
	st.State = StateFailed
	st.FinishedAt = time.Now().UTC()
	st.Error = err.Error()
	run.State = StateFailed
	run.Error = err.Error()
	run.FinishedAt = time.Now().UTC()
	logger.Log("err", err, "stage", run.Stage)
	c.emit(run, event.EventRunStage, event.LogLevelError)
	c.emit(run, event.EventRunCompleted, event.LogLevelError)
	return *run, errors.Wrapf(err, "stage %s", st.Stage)
}

func (c *Controller) emit(run *Run, typ string, level string) {
	if c.Events == nil {
		return
	}
	now := time.Now().UTC()
	ev := event.Event{
		ServiceIDs: c.Catalog.Names(),
		Type:       typ,
		StartedAt:  now,
		EndedAt:    now,
		LogLevel:   level,
		Metadata: &event.RunEventMetadata{
			RunID:    run.ID,
			Revision: run.Revision,
			Stage:    string(run.Stage),
			State:    string(run.State),
			Error:    run.Error,
		},
	}
	if err := c.Events.LogEvent(ev); err != nil {
		c.Logger.Log("err", errors.Wrap(err, "logging event"))
	}
}
