package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	bgmetrics "github.com/ragchat/bluegreen/pkg/metrics"
)

// Loop takes runs off the queue one at a time, so concurrent releases
// queue up rather than interleave. Stop it by closing `stop`; a run in
// progress finishes first.
func (d *Daemon) Loop(stop chan struct{}, wg *sync.WaitGroup, logger log.Logger) {
	defer wg.Done()

	for {
		select {
		case <-stop:
			logger.Log("stopping", "true")
			return
		case job := <-d.Jobs.Ready():
			queueLength.Set(float64(d.Jobs.Len()))
			jobLogger := log.With(logger, "jobID", job.ID)
			jobLogger.Log("state", "in-progress")
			start := time.Now()
			err := job.Do(jobLogger)
			jobDuration.With(
				bgmetrics.LabelSuccess, fmt.Sprint(err == nil),
			).Observe(time.Since(start).Seconds())
			if err != nil {
				jobLogger.Log("state", "done", "success", "false", "err", err)
			} else {
				jobLogger.Log("state", "done", "success", "true")
			}
		}
	}
}
