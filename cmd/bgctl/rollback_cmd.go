package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragchat/bluegreen/pkg/api/v1"
)

type rollbackOpts struct {
	*rootOpts
	service string
	reason  string
}

func newRollback(parent *rootOpts) *rollbackOpts {
	return &rollbackOpts{rootOpts: parent}
}

func (opts *rollbackOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Send a service's traffic back to its previous pool.",
		Long: "Roll a service back while its latest deployment is inside the cooldown " +
			"window. The previous pool is still running and still warm, so rolling " +
			"back is a single routing flip. Once the cooldown has passed the old " +
			"pool is scaled away and rollback is no longer available.",
		Example: makeExample(
			"bgctl rollback --service=backend",
			"bgctl rollback --service=backend --reason='latency regression'",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.service, "service", "s", "", "service to roll back")
	cmd.Flags().StringVar(&opts.reason, "reason", "", "why the rollback happened, for the audit trail")
	return cmd
}

func (opts *rollbackOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.service == "" {
		return newUsageError("please supply --service")
	}

	reason := opts.reason
	if reason == "" {
		reason = defaultCause()
	}

	if err := opts.API.Rollback(context.Background(), v1.RollbackSpec{
		Service: opts.service,
		Reason:  reason,
	}); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Rolled %s back.\n", opts.service)
	return nil
}
