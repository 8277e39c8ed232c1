// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package binding

import (
	"errors"
	"time"

	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/registry"
)

// ErrHandshakeRefused means the migration target answered the
// readiness handshake with a refusal (capacity, draining).
var ErrHandshakeRefused = errors.New("handshake refused")

// ErrCoherenceBelowThreshold means the identity plane's coherence
// score is too low for this deployment's trust tier to permit a
// migration. The binding stays where it is.
var ErrCoherenceBelowThreshold = errors.New("identity coherence below tier threshold")

// State is the lifecycle position of a Binding.
type State string

const (
	// StateUnbound: no endpoint holds the session. The zero state at
	// daemon start, left on first attachment and never returned to.
	StateUnbound State = "unbound"
	// StateBound: the session is attached and reachable.
	StateBound State = "bound"
	// StateMigrating: a migration is proposed and its handshake is in
	// flight. The session still runs on the prior endpoint.
	StateMigrating State = "migrating"
	// StateAwaitingReconnect: the bound endpoint stopped answering on
	// every channel. The binding is retained, not destroyed.
	StateAwaitingReconnect State = "awaiting_reconnect"
)

// Binding attaches a principal's session to an endpoint over one
// active transport. Values are immutable once published; the
// coordinator replaces the whole Binding atomically.
type Binding struct {
	Principal ref.PrincipalID
	Endpoint  ref.EndpointID

	// Transport is the channel currently carrying the session. During
	// AWAITING_RECONNECT it is the last channel that worked.
	Transport registry.Channel

	// Generation counts committed attachments. It advances on first
	// attach and on every committed migration, never on transport
	// swaps, suspension, or recovery, and never repeats across daemon
	// restarts.
	Generation uint64

	State State

	// Since is when this endpoint attachment was committed. Transport
	// swaps and suspension keep it.
	Since time.Time
}

// Phase is the two-phase position of a migration Transaction.
type Phase string

const (
	// PhaseProposed: published, handshake in flight.
	PhaseProposed Phase = "proposed"
	// PhaseCommitted: the new binding was published.
	PhaseCommitted Phase = "committed"
	// PhaseAborted: the prior binding stood. Reason says why.
	PhaseAborted Phase = "aborted"
)

// Transaction is one migration attempt. The coordinator publishes the
// latest one for the status plane; only committed transactions change
// the binding.
type Transaction struct {
	From ref.EndpointID
	To   ref.EndpointID

	// Transport is the target channel the handshake travelled over.
	Transport registry.Channel

	// ProposedGeneration is what the binding's generation becomes if
	// the transaction commits.
	ProposedGeneration uint64

	Phase      Phase
	StartedAt  time.Time
	FinishedAt time.Time

	// Reason is set on aborts.
	Reason string
}
