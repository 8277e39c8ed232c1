// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, validated identity references
// for the two kinds of thing tether tracks: principals (the mobile
// sessions being bound) and endpoints (the physical devices a session
// can bind to).
//
// Both are hierarchical lowercase paths ("person/ada", "den/tv-panel").
// Constructors validate; once constructed a ref is immutable and its
// zero value is detectable with IsZero. The canonical serialization is
// the path itself, via encoding.TextMarshaler, so refs embed directly
// in CBOR wire messages, journal records, and log output.
package ref
