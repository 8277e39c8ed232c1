// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the transport channel catalog and the set of
// registered endpoints.
//
// The catalog is fixed at compile time: every channel tether can probe
// has one entry carrying its global priority (the fallback preference
// order, identical for every endpoint and principal) and its physical
// character — bandwidth, range, latency class, and the proximity
// confidence used by presence scoring. Deployments cannot reorder it;
// operators tune behavior through timing and weight configuration, not
// by editing the catalog.
//
// Registrations are dynamic: the onboarding plane registers an
// endpoint's supported channels (with dial addresses) at runtime over
// the status socket, and the heartbeat engine starts a probe loop per
// registered pair. Registration and deregistration are the only
// mutations; probe loops and the presence estimator only read.
package registry
