// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/tether-foundation/tether/cmd/tether/cli"
	"github.com/tether-foundation/tether/lib/wire"
)

// statusParams holds the parameters for the status command.
type statusParams struct {
	cli.Connection
	cli.JSONOutput
}

// statusResult is the JSON output of the status command.
type statusResult struct {
	Daemon  wire.Ping          `json:"daemon"`
	Binding wire.BindingStatus `json:"binding"`
}

func statusCommand() *cli.Command {
	var params statusParams

	return &cli.Command{
		Name:    "status",
		Summary: "Show the principal's current binding",
		Description: `Display the daemon's binding snapshot: which endpoint the session is
bound to, over which transport, at which generation, and the binding
state machine position.`,
		Usage: "tether status [flags]",
		Examples: []cli.Example{
			{
				Description: "Show the current binding",
				Command:     "tether status",
			},
			{
				Description: "Machine-readable output",
				Command:     "tether status --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			params.JSONOutput.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runStatus(&params)
		},
	}
}

func runStatus(params *statusParams) error {
	client := params.Client()

	ctx, cancel := cli.CallContext()
	defer cancel()

	var ping wire.Ping
	if err := client.Call(ctx, "ping", nil, &ping); err != nil {
		return fmt.Errorf("pinging daemon: %w", err)
	}

	var bindingStatus wire.BindingStatus
	if err := client.Call(ctx, "binding", nil, &bindingStatus); err != nil {
		return fmt.Errorf("fetching binding: %w", err)
	}

	result := statusResult{Daemon: ping, Binding: bindingStatus}
	if done, err := params.EmitJSON(result); done {
		return err
	}

	fmt.Fprintf(os.Stderr, "Principal:   %s\n", bindingStatus.Principal)
	fmt.Fprintf(os.Stderr, "State:       %s\n", bindingStatus.State)
	if !bindingStatus.Endpoint.IsZero() {
		fmt.Fprintf(os.Stderr, "Endpoint:    %s\n", bindingStatus.Endpoint)
		fmt.Fprintf(os.Stderr, "Transport:   %s\n", bindingStatus.Transport)
		fmt.Fprintf(os.Stderr, "Generation:  %d\n", bindingStatus.Generation)
		if !bindingStatus.Since.IsZero() {
			fmt.Fprintf(os.Stderr, "Bound since: %s (%s)\n",
				bindingStatus.Since.Format(time.RFC3339),
				formatDuration(time.Since(bindingStatus.Since)))
		}
	}
	fmt.Fprintf(os.Stderr, "Daemon:      %s, up %s\n",
		ping.Version, formatDuration(time.Duration(ping.UptimeSeconds*float64(time.Second))))
	return nil
}
