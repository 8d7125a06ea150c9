package deploy

import (
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	bgmetrics "github.com/ragchat/bluegreen/pkg/metrics"
)

var (
	deployDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "bluegreen",
		Subsystem: "engine",
		Name:      "deployment_duration_seconds",
		Help:      "Deployment duration in seconds, cooldown included.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{bgmetrics.LabelService, bgmetrics.LabelOutcome})
	stageDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "bluegreen",
		Subsystem: "engine",
		Name:      "deployment_stage_duration_seconds",
		Help:      "Duration in seconds of each stage of a deployment.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{bgmetrics.LabelStage})
	rollbackCount = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "bluegreen",
		Subsystem: "engine",
		Name:      "rollbacks_total",
		Help:      "Count of rollbacks, by service and trigger reason.",
	}, []string{bgmetrics.LabelService, "trigger"})
)

// NewStageTimer times one stage of a deployment; stop the timer to
// record it.
func NewStageTimer(stage string) *metrics.Timer {
	return metrics.NewTimer(stageDuration.With(bgmetrics.LabelStage, stage))
}

// ObserveDeployment records the duration and outcome of a completed
// deployment.
func ObserveDeployment(start time.Time, service string, outcome State) {
	deployDuration.With(
		bgmetrics.LabelService, service,
		bgmetrics.LabelOutcome, string(outcome),
	).Observe(time.Since(start).Seconds())
}

// ObserveRollback counts a rollback and what triggered it.
func ObserveRollback(service string, operator bool) {
	trigger := "regression"
	if operator {
		trigger = "operator"
	}
	rollbackCount.With(
		bgmetrics.LabelService, service,
		"trigger", trigger,
	).Add(1)
}
