// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/tether-foundation/tether/lib/service"
)

// DefaultSocketPath is where a daemon with a default configuration
// listens.
const DefaultSocketPath = "/run/tether/status.sock"

// SocketEnv overrides the default socket path when --socket is not
// given.
const SocketEnv = "TETHER_SOCKET"

// callTimeout bounds one status socket call. Every action is an
// in-memory query or a single registry mutation.
const callTimeout = 30 * time.Second

// Connection resolves which daemon socket a command talks to.
// Precedence: --socket flag, then $TETHER_SOCKET, then the default
// path.
type Connection struct {
	SocketPath string
}

// AddFlags registers the --socket flag.
func (c *Connection) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.SocketPath, "socket", "", "daemon status socket path (default $TETHER_SOCKET or "+DefaultSocketPath+")")
}

// Client returns a status socket client for the resolved path.
func (c *Connection) Client() *service.Client {
	return service.NewClient(c.resolve())
}

func (c *Connection) resolve() string {
	if c.SocketPath != "" {
		return c.SocketPath
	}
	if path := os.Getenv(SocketEnv); path != "" {
		return path
	}
	return DefaultSocketPath
}

// CallContext returns a context bounding one status socket call.
func CallContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}
