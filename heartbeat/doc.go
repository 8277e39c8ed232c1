// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package heartbeat runs the probe loops that establish per-channel
// liveness for every registered endpoint.
//
// Each endpoint×channel pair gets its own goroutine probing on a fixed
// cadence, bounded by the channel's ack timeout. Pairs are independent:
// a black-holed cellular link cannot delay the Wi-Fi probe next to it,
// and a pair that goes DOWN keeps probing at the same cadence forever —
// reachability loss is a state, not a shutdown.
//
// State is deliberately blunt: a pair is UP while acks arrive, DOWN
// after MissThreshold consecutive misses, and UP again on the very next
// ack. Anything smoother (EWMA phi-accrual style suspicion) belongs in
// presence scoring, which reads these records; the binary state feeds
// the fallback sequencer, which must never pick a transport that is not
// answering right now.
package heartbeat
