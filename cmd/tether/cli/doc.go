// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the tether CLI: a small
// command tree with pflag flag sets, structured help output,
// typo suggestions, and shared helpers for talking to a daemon's
// status socket.
package cli
