// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// tether is the operator CLI for a tether daemon: binding status,
// transport health, endpoint registration, and journal history over
// the status socket.
package main

import (
	"fmt"
	"os"

	"github.com/tether-foundation/tether/cmd/tether/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output return an ExitError
		// with the desired code; no redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
