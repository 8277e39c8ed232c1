// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"time"

	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/registry"
)

// Probe request kinds. One probe connection carries exactly one
// request and one response.
const (
	// KindHeartbeat is a liveness probe.
	KindHeartbeat = "heartbeat"
	// KindHandshake is a migration readiness check.
	KindHandshake = "handshake"
)

// ProbeRequest is the envelope the daemon sends a beacon. Exactly one
// of the body fields is set, named by Kind.
type ProbeRequest struct {
	Kind      string            `cbor:"kind"`
	Heartbeat *HeartbeatRequest `cbor:"heartbeat,omitempty"`
	Handshake *HandshakeRequest `cbor:"handshake,omitempty"`
}

// ProbeResponse is the beacon's answer. OK=false carries Error and no
// body; OK=true carries the body matching the request kind.
type ProbeResponse struct {
	OK        bool               `cbor:"ok"`
	Error     string             `cbor:"error,omitempty"`
	Heartbeat *HeartbeatResponse `cbor:"heartbeat,omitempty"`
	Handshake *HandshakeResponse `cbor:"handshake,omitempty"`
}

// HeartbeatRequest is one liveness probe for an endpoint×channel pair.
type HeartbeatRequest struct {
	// Principal is the session this probe serves. Beacons answer
	// regardless; the field exists so a beacon's logs can attribute
	// probe traffic.
	Principal ref.PrincipalID `cbor:"principal"`

	// Endpoint is the probed endpoint, as the daemon knows it. A
	// beacon answering for a different endpoint id indicates a wiring
	// error and is refused.
	Endpoint ref.EndpointID `cbor:"endpoint"`

	// Channel is the transport channel this probe travels over.
	Channel registry.Channel `cbor:"channel"`

	// Sequence increments per probe on this pair. Responses echo it;
	// a mismatched echo is treated as a miss.
	Sequence uint64 `cbor:"seq"`

	// SentAt is the daemon's send time, for beacon-side skew logging.
	// Round-trip latency is measured on the daemon's own clock, never
	// from this field.
	SentAt time.Time `cbor:"sent_at"`
}

// HeartbeatResponse acknowledges one probe.
type HeartbeatResponse struct {
	// Sequence echoes the request.
	Sequence uint64 `cbor:"seq"`

	// ReceivedAt is the beacon's receive time.
	ReceivedAt time.Time `cbor:"received_at"`

	// Quality is the beacon's reading of this channel's link quality,
	// in [0, 1]. Presence scoring multiplies it into the channel's
	// proximity confidence.
	Quality float64 `cbor:"quality"`
}

// HandshakeRequest asks an endpoint to confirm it can host a session
// before the coordinator commits a migration to it.
type HandshakeRequest struct {
	Principal ref.PrincipalID `cbor:"principal"`

	// ProposingGeneration is the generation number the coordinator
	// will commit if the endpoint accepts.
	ProposingGeneration uint64 `cbor:"proposing_generation"`
}

// HandshakeResponse is the endpoint's readiness answer. A refusal
// (Accept=false) aborts the migration; Reason feeds the journal.
type HandshakeResponse struct {
	Accept bool   `cbor:"accept"`
	Reason string `cbor:"reason,omitempty"`
}
