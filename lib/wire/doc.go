// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the CBOR message shapes that cross process
// boundaries: the probe protocol between the daemon and endpoint
// beacons (heartbeats and migration handshakes), and the payloads the
// status socket serves to the CLI and dashboard.
//
// Probe types carry `cbor` tags — they exist only on the probe wire.
// Status payloads carry `json` tags because the CLI re-emits them as
// JSON; fxamacker/cbor reads json tags as fallback, so the same tag
// governs both encodings.
package wire
