// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the tether CLI command tree.
package commands

import (
	"fmt"

	"github.com/tether-foundation/tether/cmd/tether/cli"
	"github.com/tether-foundation/tether/lib/version"
)

// Root builds and returns the complete tether CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "tether",
		Description: `Tether: presence-based session binding.

Queries and manages a tether daemon through its status socket. The
daemon tracks which endpoint a principal's session is bound to and
migrates the binding as the principal moves.`,
		Usage: "tether <command> [flags]",
		Subcommands: []*cli.Command{
			statusCommand(),
			healthCommand(),
			endpointsCommand(),
			historyCommand(),
			endpointCommand(),
			coherenceCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Usage:   "tether version",
		Run: func(args []string) error {
			fmt.Println("tether", version.Full())
			return nil
		},
	}
}
