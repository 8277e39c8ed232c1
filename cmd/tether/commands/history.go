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

// historyParams holds the parameters for the history command.
type historyParams struct {
	cli.Connection
	cli.JSONOutput
	Limit int
}

func historyCommand() *cli.Command {
	var params historyParams

	return &cli.Command{
		Name:    "history",
		Summary: "Show recent binding journal records",
		Description: `Display the trailing records of the daemon's binding journal, oldest
first: attachments, committed and aborted migrations, transport
swaps, suspensions, and recoveries.`,
		Usage: "tether history [flags]",
		Examples: []cli.Example{
			{
				Description: "Last 20 binding events",
				Command:     "tether history",
			},
			{
				Description: "Last 5 binding events",
				Command:     "tether history --limit 5",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			params.JSONOutput.AddFlags(flagSet)
			flagSet.IntVar(&params.Limit, "limit", 0, "maximum records to return (0 = daemon default)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runHistory(&params)
		},
	}
}

func runHistory(params *historyParams) error {
	client := params.Client()

	ctx, cancel := cli.CallContext()
	defer cancel()

	var history wire.History
	fields := map[string]any{"limit": params.Limit}
	if err := client.Call(ctx, "history", fields, &history); err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}

	if done, err := params.EmitJSON(history); done {
		return err
	}

	if len(history.Records) == 0 {
		fmt.Fprintln(os.Stderr, "no journal records")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "  TIME\tEVENT\tENDPOINT\tTRANSPORT\tGEN\tREASON\n")
	for _, record := range history.Records {
		endpoint := record.Endpoint.String()
		if !record.PriorEndpoint.IsZero() && record.PriorEndpoint != record.Endpoint {
			endpoint = record.PriorEndpoint.String() + " -> " + endpoint
		}
		generation := "-"
		if record.Generation > 0 {
			generation = fmt.Sprintf("%d", record.Generation)
		}
		fmt.Fprintf(writer, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			record.Time.Format(time.RFC3339),
			record.Event,
			endpoint,
			record.Transport,
			generation,
			record.Reason,
		)
	}
	writer.Flush()
	return nil
}
