package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	transport "github.com/ragchat/bluegreen/pkg/http"
	"github.com/ragchat/bluegreen/pkg/http/client"
)

const (
	EnvVariableURL   = "BLUEGREEN_URL"
	EnvVariableToken = "BLUEGREEN_TOKEN"
)

type rootOpts struct {
	URL   string
	Token string
	API   *client.Client
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
bgctl talks to bluegreend, the blue-green deployment daemon.

Workflow:
  bgctl list-services              # Which pool is live, and is it healthy?
  bgctl release --revision=v1.4.2  # Roll a new revision out.
  bgctl events --follow            # Watch the rollout happen.
  bgctl rollback --service=backend # Undo, while the cooldown lasts.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "bgctl",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.URL, "url", "u", "http://localhost:3030",
		fmt.Sprintf("base URL of the bluegreend API server; you can also set the environment variable %s", EnvVariableURL))
	cmd.PersistentFlags().StringVarP(&opts.Token, "token", "t", "",
		fmt.Sprintf("bearer token for the bluegreend API server; you can also set the environment variable %s", EnvVariableToken))

	cmd.AddCommand(
		newVersionCommand(),
		newServiceList(opts).Command(),
		newRelease(opts).Command(),
		newStatus(opts).Command(),
		newRunList(opts).Command(),
		newRollback(opts).Command(),
		newEvents(opts).Command(),
	)

	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	url := os.Getenv(EnvVariableURL)
	if cmd.Flags().Changed("url") || url == "" {
		url = opts.URL
	}
	token := os.Getenv(EnvVariableToken)
	if cmd.Flags().Changed("token") || token == "" {
		token = opts.Token
	}

	opts.API = client.New(http.DefaultClient, transport.NewAPIRouter(), url, transport.Token(token))
	return nil
}
