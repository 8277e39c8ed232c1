// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package heartbeat

import (
	"time"

	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/registry"
)

// State is the liveness of one endpoint×channel pair.
type State uint8

const (
	// StateDown means the pair is not currently answering probes. New
	// pairs start DOWN and earn UP with their first ack.
	StateDown State = iota
	// StateUp means the most recent probe was acknowledged in time.
	StateUp
)

// String returns "down" or "up".
func (s State) String() string {
	if s == StateUp {
		return "up"
	}
	return "down"
}

// Record is the probe standing of one endpoint×channel pair. Snapshot
// copies are handed to readers; the engine's own record is not shared.
type Record struct {
	Channel registry.Channel
	State   State

	// LastAck is when the most recent ack arrived; zero if the pair
	// has never answered.
	LastAck time.Time

	// ConsecutiveMisses counts probes unanswered since the last ack.
	// It keeps counting past the DOWN threshold, so logs show how long
	// a pair has been dark.
	ConsecutiveMisses int

	// Latency is the round trip of the last acknowledged probe,
	// measured on the daemon's clock.
	Latency time.Duration

	// Quality is the beacon's link-quality reading from the last ack,
	// in [0, 1].
	Quality float64

	// Sequence is the sequence number of the most recent probe sent.
	Sequence uint64
}

// Transition is an UP↔DOWN edge on one pair, emitted to the
// coordinator so migration evaluation can react between ticks.
type Transition struct {
	Endpoint ref.EndpointID
	Channel  registry.Channel
	From, To State
	At       time.Time
}
