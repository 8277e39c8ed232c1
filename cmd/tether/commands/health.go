// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/tether-foundation/tether/cmd/tether/cli"
	"github.com/tether-foundation/tether/lib/wire"
)

// healthParams holds the parameters for the health command.
type healthParams struct {
	cli.Connection
	cli.JSONOutput
}

func healthCommand() *cli.Command {
	var params healthParams

	return &cli.Command{
		Name:    "health",
		Summary: "Show per-channel probe health for one endpoint",
		Description: `Display every registered transport channel of an endpoint with its
probe standing: up or down, last acknowledged probe, consecutive
misses, measured latency, and reported link quality.`,
		Usage: "tether health <endpoint> [flags]",
		Examples: []cli.Example{
			{
				Description: "Channel health for the kitchen panel",
				Command:     "tether health kitchen-panel",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("health", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			params.JSONOutput.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: tether health <endpoint>")
			}
			return runHealth(&params, args[0])
		},
	}
}

func runHealth(params *healthParams, endpoint string) error {
	client := params.Client()

	ctx, cancel := cli.CallContext()
	defer cancel()

	var health wire.TransportHealth
	fields := map[string]any{"endpoint": endpoint}
	if err := client.Call(ctx, "transport-health", fields, &health); err != nil {
		return fmt.Errorf("fetching transport health: %w", err)
	}

	if done, err := params.EmitJSON(health); done {
		return err
	}

	fmt.Fprintf(os.Stderr, "Endpoint: %s\n\n", health.Endpoint)
	writer := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "  CHANNEL\tSTATE\tLAST ACK\tMISSES\tLATENCY\tQUALITY\n")
	now := time.Now()
	for _, channel := range health.Channels {
		fmt.Fprintf(writer, "  %s\t%s\t%s\t%d\t%s\t%.2f\n",
			channel.Channel,
			channel.State,
			formatAge(now, channel.LastAck),
			channel.ConsecutiveMisses,
			formatLatency(channel.Latency),
			channel.Quality,
		)
	}
	writer.Flush()
	return nil
}
