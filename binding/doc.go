// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package binding owns the authoritative attachment of a principal's
// session to one endpoint and decides when that attachment moves.
//
// A single coordinator goroutine is the only writer; everyone else
// reads atomic snapshots. Migrations are two-phase: a proposal and
// readiness handshake first, then one atomic publish of the new
// binding — an observer sees the old binding or the new one, never a
// half-moved state. Transport changes within the bound endpoint are
// not migrations and do not advance the generation.
package binding
