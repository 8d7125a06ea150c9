package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type serviceListOpts struct {
	*rootOpts
}

func newServiceList(parent *rootOpts) *serviceListOpts {
	return &serviceListOpts{rootOpts: parent}
}

func (opts *serviceListOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list-services",
		Short:   "List services with the state of their blue and green pools.",
		Example: makeExample("bgctl list-services"),
		RunE:    opts.RunE,
	}
	return cmd
}

func (opts *serviceListOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}

	services, err := opts.API.ListServices(context.Background())
	if err != nil {
		return err
	}

	w := newTabwriter()
	fmt.Fprintf(w, "SERVICE\tPOOL\tLIVE\tHEALTH\tREADY\tIMAGE\n")
	for _, s := range services {
		for _, p := range s.Pools {
			live, image := "", ""
			if p.Live {
				live = "live"
				image = s.LiveImage.String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
				s.Name, p.ID.Color, live, p.Health, p.Ready, p.Replicas, image)
		}
	}
	w.Flush()
	return nil
}
