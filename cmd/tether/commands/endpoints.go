// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/tether-foundation/tether/cmd/tether/cli"
	"github.com/tether-foundation/tether/lib/wire"
)

// endpointsParams holds the parameters for the endpoints command.
type endpointsParams struct {
	cli.Connection
	cli.JSONOutput
}

func endpointsCommand() *cli.Command {
	var params endpointsParams

	return &cli.Command{
		Name:    "endpoints",
		Summary: "List every endpoint with presence score and channel states",
		Description: `Display all registered endpoints: latest presence score, whether the
endpoint is live (has at least one up channel), which endpoint the
estimator currently ranks nearest, and per-channel up/down states.`,
		Usage: "tether endpoints [flags]",
		Examples: []cli.Example{
			{
				Description: "List endpoints",
				Command:     "tether endpoints",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("endpoints", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			params.JSONOutput.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runEndpoints(&params)
		},
	}
}

func runEndpoints(params *endpointsParams) error {
	client := params.Client()

	ctx, cancel := cli.CallContext()
	defer cancel()

	var list wire.EndpointList
	if err := client.Call(ctx, "endpoints", nil, &list); err != nil {
		return fmt.Errorf("fetching endpoints: %w", err)
	}

	if done, err := params.EmitJSON(list); done {
		return err
	}

	if len(list.Endpoints) == 0 {
		fmt.Fprintln(os.Stderr, "no endpoints registered")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "  ENDPOINT\tSCORE\tLIVE\tCHANNELS\n")
	for _, endpoint := range list.Endpoints {
		marker := " "
		if endpoint.Nearest {
			marker = "*"
		}
		live := "no"
		if endpoint.Live {
			live = "yes"
		}
		fmt.Fprintf(writer, "%s %s\t%.3f\t%s\t%s\n",
			marker,
			endpoint.Endpoint,
			endpoint.Score,
			live,
			channelSummary(endpoint.Channels),
		)
	}
	writer.Flush()
	fmt.Fprintln(os.Stderr, "\n* = nearest endpoint")
	return nil
}

// channelSummary renders channel states compactly: up channels by
// name, down channels by name with a bang prefix.
func channelSummary(channels []wire.ChannelHealth) string {
	parts := make([]string, 0, len(channels))
	for _, channel := range channels {
		name := channel.Channel.String()
		if channel.State != "up" {
			name = "!" + name
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, " ")
}
