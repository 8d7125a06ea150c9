package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type runListOpts struct {
	*rootOpts
	limit int
}

func newRunList(parent *rootOpts) *runListOpts {
	return &runListOpts{rootOpts: parent}
}

func (opts *runListOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list-runs",
		Short:   "List recent pipeline runs, newest first.",
		Example: makeExample("bgctl list-runs"),
		RunE:    opts.RunE,
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "number of runs to show")
	return cmd
}

func (opts *runListOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}

	runs, err := opts.API.ListRuns(context.Background(), opts.limit)
	if err != nil {
		return err
	}

	w := newTabwriter()
	fmt.Fprintf(w, "RUN\tREVISION\tSTATUS\tSTAGE\tSTARTED\tTOOK\n")
	for _, s := range runs {
		run := s.Result
		started, took := "", ""
		if !run.StartedAt.IsZero() {
			started = run.StartedAt.Local().Format(time.RFC822)
		}
		if !run.FinishedAt.IsZero() {
			took = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", run.ID, run.Revision, s.StatusString, run.Stage, started, took)
	}
	w.Flush()
	return nil
}
