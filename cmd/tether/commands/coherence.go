// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/tether-foundation/tether/cmd/tether/cli"
)

// coherenceParams holds the parameters for coherence set.
type coherenceParams struct {
	cli.Connection
}

// coherenceCommand is the identity-plane input feed: pushing a fresh
// coherence score into the daemon. The daemon only consumes the
// score; it never computes one.
func coherenceCommand() *cli.Command {
	var params coherenceParams

	return &cli.Command{
		Name:    "coherence",
		Summary: "Update the principal's coherence score",
		Subcommands: []*cli.Command{
			{
				Name:    "set",
				Summary: "Set the coherence score",
				Description: `Push the identity plane's latest coherence score, in [0, 1].
Migrations are permitted only while the score meets the trust tier's
threshold; a below-threshold score holds the current binding in
place.`,
				Usage: "tether coherence set <score> [flags]",
				Examples: []cli.Example{
					{
						Description: "Report a degraded coherence reading",
						Command:     "tether coherence set 0.45",
					},
				},
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("set", pflag.ContinueOnError)
					params.Connection.AddFlags(flagSet)
					return flagSet
				},
				Run: func(args []string) error {
					if len(args) != 1 {
						return fmt.Errorf("usage: tether coherence set <score>")
					}
					score, err := strconv.ParseFloat(args[0], 64)
					if err != nil {
						return fmt.Errorf("parsing score %q: %w", args[0], err)
					}
					return runSetCoherence(&params, score)
				},
			},
		},
	}
}

func runSetCoherence(params *coherenceParams, score float64) error {
	client := params.Client()

	ctx, cancel := cli.CallContext()
	defer cancel()

	fields := map[string]any{"score": score}
	if err := client.Call(ctx, "set-coherence", fields, nil); err != nil {
		return fmt.Errorf("setting coherence: %w", err)
	}
	fmt.Fprintf(os.Stderr, "coherence set to %.2f\n", score)
	return nil
}
