// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"time"

	"github.com/tether-foundation/tether/lib/journal"
	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/registry"
)

// BindingStatus is the `binding` action payload: the current binding
// snapshot for the daemon's principal.
type BindingStatus struct {
	Principal ref.PrincipalID `json:"principal"`

	// Endpoint is empty while the binding is unbound. In state
	// awaiting_reconnect it holds the last bound endpoint.
	Endpoint ref.EndpointID `json:"endpoint"`

	// Transport is the active transport channel, empty when unbound.
	Transport registry.Channel `json:"transport"`

	// Generation is the binding's commit counter. Strictly increasing;
	// stale readers detect themselves by comparing generations.
	Generation uint64 `json:"generation"`

	// State is the binding state machine position: unbound, bound,
	// migrating, or awaiting_reconnect.
	State string `json:"state"`

	// Since is when the current attachment was committed. Zero when
	// unbound.
	Since time.Time `json:"since"`
}

// ChannelHealth is one endpoint×channel pair's probe standing.
type ChannelHealth struct {
	Channel registry.Channel `json:"channel"`

	// State is "up" or "down".
	State string `json:"state"`

	// LastAck is the time of the most recent acknowledged probe; zero
	// if the pair has never acked.
	LastAck time.Time `json:"last_ack"`

	// ConsecutiveMisses counts probes missed since the last ack.
	ConsecutiveMisses int `json:"consecutive_misses"`

	// Latency is the most recent measured round trip (nanoseconds in
	// JSON output; the CLI humanizes).
	Latency time.Duration `json:"latency"`

	// Quality is the beacon's latest link-quality reading in [0, 1].
	Quality float64 `json:"quality"`
}

// TransportHealth is the `transport-health` action payload.
type TransportHealth struct {
	Endpoint ref.EndpointID  `json:"endpoint"`
	Channels []ChannelHealth `json:"channels"`
}

// EndpointStatus is one row of the `endpoints` action payload.
type EndpointStatus struct {
	Endpoint ref.EndpointID `json:"endpoint"`

	// Score is the endpoint's latest presence score; zero when the
	// estimator has not run yet or the endpoint has no live channel.
	Score float64 `json:"score"`

	// Live reports whether the endpoint has at least one UP channel.
	Live bool `json:"live"`

	// Nearest marks the endpoint the presence estimator currently
	// ranks closest.
	Nearest bool `json:"nearest"`

	RegisteredAt time.Time       `json:"registered_at"`
	Channels     []ChannelHealth `json:"channels"`
}

// EndpointList is the `endpoints` action payload.
type EndpointList struct {
	Endpoints []EndpointStatus `json:"endpoints"`
}

// History is the `history` action payload: trailing journal records,
// oldest first.
type History struct {
	Records []journal.Record `json:"records"`
}

// Ping is the `ping` action payload.
type Ping struct {
	Version       string          `json:"version"`
	Principal     ref.PrincipalID `json:"principal"`
	StartedAt     time.Time       `json:"started_at"`
	UptimeSeconds float64         `json:"uptime_seconds"`
}
