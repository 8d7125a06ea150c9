package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragchat/bluegreen/pkg/job"
)

type statusOpts struct {
	*rootOpts
	run string
}

func newStatus(parent *rootOpts) *statusOpts {
	return &statusOpts{rootOpts: parent}
}

func (opts *statusOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a pipeline run.",
		Example: makeExample(
			"bgctl status",
			"bgctl status --run=f4bd7a8c-...",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVar(&opts.run, "run", "", "run to show; the most recent run if empty")
	return cmd
}

func (opts *statusOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}

	ctx := context.Background()

	id := job.ID(opts.run)
	if id == "" {
		recent, err := opts.API.ListRuns(ctx, 1)
		if err != nil {
			return err
		}
		if len(recent) == 0 {
			fmt.Fprintln(os.Stdout, "No runs yet.")
			return nil
		}
		id = job.ID(recent[0].Result.ID)
	}

	s, err := opts.API.RunStatus(ctx, id)
	if err != nil {
		return err
	}

	run := s.Result
	w := newTabwriter()
	fmt.Fprintf(w, "Run:\t%s\n", id)
	if run.Revision != "" {
		revision := run.Revision
		if run.Resolved != "" && run.Resolved != run.Revision {
			revision = fmt.Sprintf("%s (resolved %s)", run.Revision, run.Resolved)
		}
		fmt.Fprintf(w, "Revision:\t%s\n", revision)
	}
	if run.Cause != "" {
		fmt.Fprintf(w, "Cause:\t%s\n", run.Cause)
	}
	fmt.Fprintf(w, "Status:\t%s\n", s.StatusString)
	if s.Err != "" {
		fmt.Fprintf(w, "Error:\t%s\n", s.Err)
	}
	w.Flush()

	if len(run.Stages) > 0 {
		fmt.Println()
		printRun(run)
	}
	return nil
}
