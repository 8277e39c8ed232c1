// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package presence turns raw heartbeat records into an answer to one
// question: which endpoint is the principal nearest to right now?
//
// The estimator scores every registered endpoint from three signals —
// how many of its channels are UP, how much proximity evidence its
// best live channel carries (an nfc ack means touching, a fiber ack
// means merely online), and how fresh its newest ack is. The endpoint
// with the highest score among those with at least one live channel is
// nearest. Scoring weights are tunable; the catalog's confidence
// values are not.
//
// Nearest alone does not trigger migration. The estimator also tracks
// a migration candidate with hysteresis: a new nearest must hold a
// configured lead over the bound endpoint, continuously, for a dwell
// window before it is reported. A principal wandering along the edge
// between two rooms stays put.
//
// The fallback sequencer is the package's other half: given one
// endpoint's registrations and live states, pick the highest-priority
// UP channel to actually carry the session. Pure function, no state.
package presence
