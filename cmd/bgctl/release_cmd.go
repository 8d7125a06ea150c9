package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragchat/bluegreen/pkg/api/v1"
	"github.com/ragchat/bluegreen/pkg/job"
	"github.com/ragchat/bluegreen/pkg/pipeline"
)

type releaseOpts struct {
	*rootOpts
	revision string
	cause    string
	noWait   bool
	timeout  time.Duration
}

func newRelease(parent *rootOpts) *releaseOpts {
	return &releaseOpts{rootOpts: parent}
}

func (opts *releaseOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Release a revision to every service, blue-green.",
		Example: makeExample(
			"bgctl release --revision=v1.4.2",
			"bgctl release --revision=v1.4.2 --cause='fix for the reranker'",
			"bgctl release --revision=v1.4.2 --no-wait",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.revision, "revision", "r", "", "revision to release")
	cmd.Flags().StringVar(&opts.cause, "cause", "", "who or what caused the release, for the audit trail")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "submit the release and return without waiting for the run to finish")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "how long to wait for the run to finish")
	return cmd
}

func (opts *releaseOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.revision == "" {
		return newUsageError("please supply --revision")
	}

	ctx := context.Background()

	begin := time.Now()
	printf := func(format string, args ...interface{}) {
		args = append([]interface{}{(int(time.Since(begin).Seconds()))}, args...)
		fmt.Fprintf(os.Stdout, "t=%d "+format+"\n", args...)
	}

	cause := opts.cause
	if cause == "" {
		cause = defaultCause()
	}

	printf("Submitting release of %s...", opts.revision)
	id, err := opts.API.Release(ctx, v1.ReleaseSpec{Revision: opts.revision, Cause: cause})
	if err != nil {
		return err
	}
	printf("Release submitted, run ID %s", id)
	if opts.noWait {
		return nil
	}

	var lastStage pipeline.Stage
	run, err := awaitRun(ctx, opts.API, id, opts.timeout, func(s job.Status) {
		if stage := s.Result.Stage; stage != "" && stage != lastStage {
			printf("%s", stage)
			lastStage = stage
		}
	})
	if err != nil {
		if s, ok := err.(job.Status); ok && len(s.Result.Stages) > 0 {
			fmt.Println()
			printRun(s.Result)
		}
		printf("Release failed!")
		return err
	}

	fmt.Println()
	printRun(run)
	fmt.Fprintf(os.Stdout, "took %s\n", time.Since(begin))
	return nil
}

// defaultCause identifies the operator when --cause is not given.
func defaultCause() string {
	user := os.Getenv("USER")
	if user == "" {
		return "bgctl"
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return user + "@" + host
	}
	return user
}
