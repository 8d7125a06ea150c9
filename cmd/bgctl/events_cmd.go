package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragchat/bluegreen/pkg/api/v1"
	"github.com/ragchat/bluegreen/pkg/event"
)

type eventsOpts struct {
	*rootOpts
	service string
	limit   int64
	follow  bool
}

func newEvents(parent *rootOpts) *eventsOpts {
	return &eventsOpts{rootOpts: parent}
}

func (opts *eventsOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the history of deployment events.",
		Example: makeExample(
			"bgctl events",
			"bgctl events --service=backend --limit=10",
			"bgctl events --follow",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.service, "service", "s", "", "show only events involving the service")
	cmd.Flags().Int64Var(&opts.limit, "limit", 25, "number of events to show")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "stream new events as they happen")
	return cmd
}

func (opts *eventsOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}

	ctx := context.Background()

	if opts.follow {
		return opts.followEvents(ctx)
	}

	events, err := opts.API.Events(ctx, v1.EventsOptions{
		Service: opts.service,
		Limit:   opts.limit,
	})
	if err != nil {
		return err
	}

	w := newTabwriter()
	fmt.Fprintln(w, "TIME\tSERVICE\tTYPE\tMESSAGE")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			ev.StartedAt.Local().Format(time.RFC822),
			strings.Join(ev.ServiceIDs, ", "),
			ev.Type,
			ev.String())
	}
	w.Flush()
	return nil
}

// followEvents prints events as the daemon logs them, until the
// connection drops or the user interrupts.
func (opts *eventsOpts) followEvents(ctx context.Context) error {
	ch := make(chan event.Event)
	errc := make(chan error, 1)
	go func() {
		errc <- opts.API.WatchEvents(ctx, ch)
	}()

	for {
		select {
		case ev := <-ch:
			if opts.service != "" && !involves(ev, opts.service) {
				continue
			}
			fmt.Fprintf(os.Stdout, "%s %s [%s] %s\n",
				ev.StartedAt.Local().Format(time.RFC822),
				ev.Type,
				strings.Join(ev.ServiceIDs, ", "),
				ev.String())
		case err := <-errc:
			return err
		}
	}
}

func involves(ev event.Event, service string) bool {
	for _, id := range ev.ServiceIDs {
		if id == service {
			return true
		}
	}
	return false
}
