// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"time"

	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/registry"
)

// Event names a binding lifecycle transition.
type Event string

const (
	// EventAttach is the first attachment of an unbound principal.
	EventAttach Event = "attach"
	// EventCommit is a committed migration to a new endpoint.
	EventCommit Event = "commit"
	// EventAbort is a migration that was proposed and then abandoned;
	// the prior binding stood.
	EventAbort Event = "abort"
	// EventSuspend is the bound endpoint losing its last transport.
	EventSuspend Event = "suspend"
	// EventResume is the suspended endpoint answering again.
	EventResume Event = "resume"
	// EventTransport is a carry change within the bound endpoint.
	EventTransport Event = "transport"
)

// Record is one journal entry. CBOR on disk via lib/codec; the JSON
// tags serve the status socket's history action.
type Record struct {
	Time          time.Time        `json:"time" cbor:"time"`
	Event         Event            `json:"event" cbor:"event"`
	Principal     ref.PrincipalID  `json:"principal" cbor:"principal"`
	Endpoint      ref.EndpointID   `json:"endpoint,omitempty" cbor:"endpoint,omitempty"`
	PriorEndpoint ref.EndpointID   `json:"prior_endpoint,omitempty" cbor:"prior_endpoint,omitempty"`
	Transport     registry.Channel `json:"transport,omitempty" cbor:"transport,omitempty"`

	// Generation is the binding generation after the event. Zero for
	// events that do not carry one (aborts keep the prior binding's).
	Generation uint64 `json:"generation,omitempty" cbor:"generation,omitempty"`

	// Reason is free-form context: the abort cause, the handshake
	// refusal, the transport that failed.
	Reason string `json:"reason,omitempty" cbor:"reason,omitempty"`
}
