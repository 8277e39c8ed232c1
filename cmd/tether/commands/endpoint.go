// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/tether-foundation/tether/cmd/tether/cli"
)

// endpointCommand groups the onboarding-plane mutations: registering
// and deregistering endpoint channels. These actions are privileged
// on the daemon side; they succeed only for the daemon owner or root.
func endpointCommand() *cli.Command {
	return &cli.Command{
		Name:    "endpoint",
		Summary: "Register and deregister endpoint channels",
		Subcommands: []*cli.Command{
			endpointRegisterCommand(),
			endpointDeregisterCommand(),
		},
	}
}

// registerParams holds the parameters for endpoint register.
type registerParams struct {
	cli.Connection
}

func endpointRegisterCommand() *cli.Command {
	var params registerParams

	return &cli.Command{
		Name:    "register",
		Summary: "Register one endpoint channel and start probing it",
		Description: `Register an endpoint's support for one transport channel at a dial
address. The daemon starts probing the pair immediately.
Re-registering an existing pair updates its address.`,
		Usage: "tether endpoint register <endpoint> <channel> <address> [flags]",
		Examples: []cli.Example{
			{
				Description: "Register the kitchen panel's Wi-Fi listener",
				Command:     "tether endpoint register kitchen-panel wifi6e 192.168.4.17:7600",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("register", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 3 {
				return fmt.Errorf("usage: tether endpoint register <endpoint> <channel> <address>")
			}
			return runRegister(&params, args[0], args[1], args[2])
		},
	}
}

func runRegister(params *registerParams, endpoint, channel, address string) error {
	client := params.Client()

	ctx, cancel := cli.CallContext()
	defer cancel()

	fields := map[string]any{
		"endpoint": endpoint,
		"channel":  channel,
		"address":  address,
	}
	if err := client.Call(ctx, "register-endpoint", fields, nil); err != nil {
		return fmt.Errorf("registering %s/%s: %w", endpoint, channel, err)
	}
	fmt.Fprintf(os.Stderr, "registered %s/%s at %s\n", endpoint, channel, address)
	return nil
}

// deregisterParams holds the parameters for endpoint deregister.
type deregisterParams struct {
	cli.Connection
}

func endpointDeregisterCommand() *cli.Command {
	var params deregisterParams

	return &cli.Command{
		Name:    "deregister",
		Summary: "Retire an endpoint and stop probing all its channels",
		Description: `Remove an endpoint from the registry. Every probe loop for the
endpoint stops. This is the rare external retirement path; an
unreachable endpoint does not need deregistering — it simply
accumulates down channels.`,
		Usage: "tether endpoint deregister <endpoint> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("deregister", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: tether endpoint deregister <endpoint>")
			}
			return runDeregister(&params, args[0])
		},
	}
}

func runDeregister(params *deregisterParams, endpoint string) error {
	client := params.Client()

	ctx, cancel := cli.CallContext()
	defer cancel()

	fields := map[string]any{"endpoint": endpoint}
	if err := client.Call(ctx, "deregister-endpoint", fields, nil); err != nil {
		return fmt.Errorf("deregistering %s: %w", endpoint, err)
	}
	fmt.Fprintf(os.Stderr, "deregistered %s\n", endpoint)
	return nil
}
