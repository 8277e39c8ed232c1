// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides tether's standard CBOR encoding configuration.
//
// Everything tether puts on a wire or on disk is CBOR: heartbeat and
// handshake exchanges between the daemon and endpoint beacons, the
// status socket protocol, and binding journal records. JSON appears
// only at the outermost edge (CLI --json output). This package holds
// the one shared encoder/decoder configuration so every package
// encodes identically.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Same logical data always produces identical bytes, which matters for
// journal record digests.
//
// Buffer-oriented use (journal frames, socket payload fields):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Stream-oriented use (probe connections, the status socket):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct tag rules
//
//   - `cbor` tag: the type only ever travels as CBOR (probe wire
//     messages, journal records, socket envelopes).
//   - `json` tag: the type serves both JSON and CBOR — fxamacker/cbor
//     falls back to `json` tags, so one tag controls naming and
//     omitempty for both. Used for status-socket payloads the CLI
//     re-emits as JSON.
//
// Never put both tags on one field; the tag documents which contract
// the type participates in.
package codec
