// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package service implements the tether status socket: a one-shot CBOR
// request/response protocol over a unix socket.
//
// Each connection carries exactly one exchange. The client writes a
// CBOR map containing an "action" field plus action-specific
// parameters; the server dispatches on the action and answers with a
// Response envelope ({ok, error, data}), then both sides close. CBOR
// is self-delimiting, so there is no framing layer.
//
// Actions that change daemon state are registered privileged: the
// server checks the peer's kernel-reported credentials (SO_PEERCRED)
// and refuses callers that are neither the daemon's owner nor root.
// Read-only actions are open to anyone the socket file admits.
package service
