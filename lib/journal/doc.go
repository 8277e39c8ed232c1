// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal persists binding lifecycle events to an append-only
// segment log so generation numbers survive daemon restarts and
// operators can audit why a session moved.
//
// Each segment is a sequence of self-describing frames; every append
// is fsynced before it is acknowledged. Segments rotate at a size
// threshold and rotated segments are compressed whole into .zst or
// .lz4 archives. Replay walks archives and the live segment in order,
// tolerating a truncated final frame (a crash mid-append) but refusing
// digest mismatches.
package journal
