package daemon

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/ragchat/bluegreen/pkg/api"
	"github.com/ragchat/bluegreen/pkg/api/v1"
	"github.com/ragchat/bluegreen/pkg/deploy"
	"github.com/ragchat/bluegreen/pkg/event"
	"github.com/ragchat/bluegreen/pkg/fleet"
	"github.com/ragchat/bluegreen/pkg/history"
	"github.com/ragchat/bluegreen/pkg/job"
	"github.com/ragchat/bluegreen/pkg/pipeline"
	"github.com/ragchat/bluegreen/pkg/pool"
	"github.com/ragchat/bluegreen/pkg/router"
	"github.com/ragchat/bluegreen/pkg/service"
)

// Runner runs release pipelines; it is what the daemon needs from
// `*pipeline.Controller`.
type Runner interface {
	Run(ctx context.Context, id, revision, cause string) (pipeline.Run, error)
}

var _ Runner = &pipeline.Controller{}

// Daemon is the running state of bluegreend. It implements the API
// server by delegating to the pipeline controller and the deployment
// engine, and keeps the bookkeeping those need: the run queue, the
// status cache, and the event archive.
type Daemon struct {
	V              string
	Catalog        service.Catalog
	Fleet          fleet.Manager
	Router         router.Router
	Pipeline       Runner
	Deployer       *deploy.Engine
	Jobs           *job.Queue
	JobStatusCache *job.StatusCache
	History        history.EventReader
	Logger         log.Logger
	// JobTimeout bounds a whole pipeline run, cooldowns included.
	JobTimeout time.Duration
}

// Invariant.
var _ api.Server = &Daemon{}

func (d *Daemon) Version(ctx context.Context) (string, error) {
	return d.V, nil
}

func (d *Daemon) Ping(ctx context.Context) error {
	if err := d.Fleet.Ping(ctx); err != nil {
		return errors.Wrap(err, "fleet manager")
	}
	return errors.Wrap(d.Router.Ping(ctx), "traffic router")
}

// runFunc is a type for procedures the daemon will execute as a
// queued job.
type runFunc func(ctx context.Context, id job.ID, logger log.Logger) (pipeline.Run, error)

// Release accepts a revision to roll out. The actual work happens on
// the job queue, one run at a time; the returned ID is for polling
// the run's status.
func (d *Daemon) Release(ctx context.Context, spec v1.ReleaseSpec) (job.ID, error) {
	if spec.Revision == "" {
		return "", invalidReleaseError(errors.New("no revision given"))
	}
	id := d.queueJob(spec, func(ctx context.Context, id job.ID, logger log.Logger) (pipeline.Run, error) {
		return d.Pipeline.Run(ctx, string(id), spec.Revision, spec.Cause)
	})
	return id, nil
}

// queueJob enqueues the run and records it as queued, so it shows up
// in statuses straight away.
func (d *Daemon) queueJob(spec v1.ReleaseSpec, do runFunc) job.ID {
	id := job.NewID()
	enqueuedAt := time.Now()
	d.Jobs.Enqueue(&job.Job{
		ID: id,
		Do: func(logger log.Logger) error {
			queueDuration.Observe(time.Since(enqueuedAt).Seconds())
			return d.executeJob(id, do, logger)
		},
	})
	queueLength.Set(float64(d.Jobs.Len()))
	d.JobStatusCache.SetStatus(id, job.Status{
		StatusString: job.StatusQueued,
		Result: pipeline.Run{
			ID:       string(id),
			Revision: spec.Revision,
			Cause:    spec.Cause,
			State:    pipeline.StatePending,
		},
	})
	return id
}

// executeJob runs a queued run and keeps track of its status, so the
// daemon can report it when asked.
func (d *Daemon) executeJob(id job.ID, do runFunc, logger log.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.JobTimeout)
	defer cancel()

	queued, _ := d.JobStatusCache.Status(id)
	running := queued.Result
	running.State = pipeline.StateRunning
	d.JobStatusCache.SetStatus(id, job.Status{StatusString: job.StatusRunning, Result: running})

	run, err := do(ctx, id, logger)
	if err != nil {
		d.JobStatusCache.SetStatus(id, job.Status{StatusString: job.StatusFailed, Err: err.Error(), Result: run})
		return err
	}
	d.JobStatusCache.SetStatus(id, job.Status{StatusString: job.StatusSucceeded, Result: run})
	return nil
}

// RunStatus reports how far the run has got: queued? running? done?
// The cache forgets once it fills up or the daemon restarts, so as a
// fallback the event archive is searched for the run's trace.
func (d *Daemon) RunStatus(ctx context.Context, id job.ID) (job.Status, error) {
	status, ok := d.JobStatusCache.Status(id)
	if ok {
		return status, nil
	}

	if d.History != nil {
		evs, err := d.History.AllEvents(ctx, 0, -1)
		if err != nil {
			return status, errors.Wrap(err, "searching event archive for run")
		}
		var latest *event.RunEventMetadata
		for i := range evs {
			meta, ok := evs[i].Metadata.(*event.RunEventMetadata)
			if !ok || meta.RunID != string(id) {
				continue
			}
			latest = meta
		}
		if latest != nil {
			return runStatusFromEvent(latest), nil
		}
	}
	return status, unknownRunError(id)
}

func runStatusFromEvent(meta *event.RunEventMetadata) job.Status {
	run := pipeline.Run{
		ID:       meta.RunID,
		Revision: meta.Revision,
		Stage:    pipeline.Stage(meta.Stage),
		State:    pipeline.State(meta.State),
		Error:    meta.Error,
	}
	switch run.State {
	case pipeline.StateSucceeded:
		return job.Status{StatusString: job.StatusSucceeded, Result: run}
	case pipeline.StateFailed:
		return job.Status{StatusString: job.StatusFailed, Err: meta.Error, Result: run}
	default:
		// The archive has a trace but no outcome; the daemon running
		// it may have stopped mid-run.
		return job.Status{StatusString: job.StatusRunning, Result: run}
	}
}

// ListRuns reports recent runs, newest first.
func (d *Daemon) ListRuns(ctx context.Context, limit int) ([]job.Status, error) {
	return d.JobStatusCache.Recent(limit), nil
}

// ListServices reports, for each configured service, which pool is
// live, the health of both pools, and the latest deployment.
func (d *Daemon) ListServices(ctx context.Context) ([]v1.ServiceStatus, error) {
	var res []v1.ServiceStatus
	for _, svc := range d.Catalog {
		var live pool.ID
		switch l, err := d.Router.Live(ctx, svc.Name); {
		case err == router.ErrNoLivePool:
			// Nothing deployed yet; no pool is live.
		case err != nil:
			return nil, errors.Wrapf(err, "getting live pool of %s", svc.Name)
		default:
			live = l
		}

		status := v1.ServiceStatus{
			Name:     svc.Name,
			LivePool: live,
		}

		for _, color := range []pool.Color{pool.Blue, pool.Green} {
			id := svc.Pool(color)
			replicas, err := d.Fleet.Health(ctx, id)
			if err != nil {
				return nil, errors.Wrapf(err, "getting health of %s", id)
			}
			status.Pools = append(status.Pools, v1.PoolStatus{
				ID:       id,
				Health:   fleet.Aggregate(svc.Replicas, replicas),
				Ready:    fleet.CountHealthy(replicas),
				Replicas: len(replicas),
				Live:     id == live,
			})
		}

		if last, ok := d.Deployer.Last(svc.Name); ok {
			lastCopy := last
			status.LastDeployment = &lastCopy
			if last.State == deploy.StateCooldown {
				until := last.CooldownUntil
				status.CooldownUntil = &until
			}
			// The live image is only known from deployments this
			// daemon has made.
			switch live {
			case last.TargetPool:
				status.LiveImage = last.TargetImage
			case last.PreviousPool:
				status.LiveImage = last.PreviousImage
			}
		}

		res = append(res, status)
	}
	return res, nil
}

// Rollback restores the previous pool of a service whose deployment
// is inside its cooldown window.
func (d *Daemon) Rollback(ctx context.Context, spec v1.RollbackSpec) error {
	if _, err := d.Catalog.Find(spec.Service); err != nil {
		return unknownServiceError(spec.Service)
	}
	reason := spec.Reason
	if reason == "" {
		reason = "operator requested"
	}
	if err := d.Deployer.Rollback(spec.Service, reason); err != nil {
		return rollbackRefusedError(err)
	}
	return nil
}

// Events pages through the archived event stream, oldest first.
func (d *Daemon) Events(ctx context.Context, opts v1.EventsOptions) ([]event.Event, error) {
	if d.History == nil {
		return nil, nil
	}
	if opts.Service != "" {
		return d.History.EventsForService(ctx, opts.Service, opts.After, opts.Limit)
	}
	return d.History.AllEvents(ctx, opts.After, opts.Limit)
}
