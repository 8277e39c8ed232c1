// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// tether-watch is a live terminal dashboard for a tether daemon: the
// binding banner on top, per-endpoint presence scores and channel
// health below, refreshed on a fixed poll interval.
package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/tether-foundation/tether/cmd/tether/cli"
	"github.com/tether-foundation/tether/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		socketPath  string
		interval    time.Duration
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("tether-watch", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", "", "daemon status socket path (default $TETHER_SOCKET or "+cli.DefaultSocketPath+")")
	flagSet.DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintln(os.Stderr, "tether-watch: live binding dashboard")
		fmt.Fprintln(os.Stderr)
		flagSet.PrintDefaults()
		return nil
	}
	if showVersion {
		fmt.Printf("tether-watch %s\n", version.Info())
		return nil
	}

	connection := cli.Connection{SocketPath: socketPath}
	model := newModel(&socketFetcher{client: connection.Client()}, interval)

	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running dashboard: %w", err)
	}
	return nil
}
