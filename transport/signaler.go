// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"strings"
)

// signalingSeparator joins offerer and target into a store key.
const signalingSeparator = "|"

// Signaler abstracts the rendezvous used to exchange WebRTC session
// descriptions with peers that have no directly dialable address. The
// production implementation is a TCPSignaler pointed at a SignalServer;
// tests use MemorySignaler.
//
// The signaling model is vanilla ICE: all ICE candidates are gathered
// before the SDP is published, so connection establishment requires
// exactly one round-trip (offer → answer).
type Signaler interface {
	// PublishOffer publishes a complete SDP offer from name to target.
	// The implementation stores it where the target's poll can find it,
	// keyed "<name>|<target>".
	PublishOffer(ctx context.Context, name, target, sdp string) error

	// PublishAnswer publishes a complete SDP answer in response to a
	// previously received offer. The key matches the offer:
	// "<offerer>|<name>".
	PublishAnswer(ctx context.Context, offerer, name, sdp string) error

	// PollOffers returns pending offers directed at name that have not
	// been returned to it before.
	PollOffers(ctx context.Context, name string) ([]SignalMessage, error)

	// PollAnswers returns pending answers to offers originated by name
	// that have not been returned to it before.
	PollAnswers(ctx context.Context, name string) ([]SignalMessage, error)
}

// SignalMessage is one signaling message (offer or answer).
type SignalMessage struct {
	// Peer is the rendezvous name of the other party: the offerer on
	// received offers, the answerer on received answers.
	Peer string `cbor:"peer"`

	// SDP is the complete session description with all ICE candidates
	// embedded.
	SDP string `cbor:"sdp"`

	// Timestamp is the RFC 3339 creation time of the signal.
	Timestamp string `cbor:"timestamp"`
}

// signalKeyMatcher reports whether a store key addresses name, and if
// so which peer the key names.
type signalKeyMatcher func(key, name string) (peer string, ok bool)

// matchOfferKey matches "<offerer>|<target>" keys whose target is name.
func matchOfferKey(key, name string) (string, bool) {
	offerer, target, ok := strings.Cut(key, signalingSeparator)
	if !ok || target != name {
		return "", false
	}
	return offerer, true
}

// matchAnswerKey matches "<offerer>|<target>" keys whose offerer is name.
func matchAnswerKey(key, name string) (string, bool) {
	offerer, target, ok := strings.Cut(key, signalingSeparator)
	if !ok || offerer != name {
		return "", false
	}
	return target, true
}
