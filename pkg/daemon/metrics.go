package daemon

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	bgmetrics "github.com/ragchat/bluegreen/pkg/metrics"
)

var (
	// A run deploys each service in turn, and each deployment sits
	// through a health gate and a cooldown, so whole runs are minutes
	// rather than seconds.
	jobDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "bluegreen",
		Subsystem: "daemon",
		Name:      "job_duration_seconds",
		Help:      "Duration of run execution, in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	}, []string{bgmetrics.LabelSuccess})

	// Same buckets as above (on the rough and ready assumption that
	// runs will wait for some small multiple of run execution times)
	queueDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "bluegreen",
		Subsystem: "daemon",
		Name:      "queue_duration_seconds",
		Help:      "Duration of time spent in the run queue before execution, in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	}, []string{})

	queueLength = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "bluegreen",
		Subsystem: "daemon",
		Name:      "queue_length_count",
		Help:      "Count of runs waiting in the queue to be executed.",
	}, []string{})
)
