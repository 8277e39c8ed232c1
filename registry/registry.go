// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/lib/ref"
)

// ErrUnknownChannel is returned when a channel name is not in the
// catalog.
var ErrUnknownChannel = errors.New("unknown transport channel")

// ErrUnknownEndpoint is returned when an endpoint has never been
// registered.
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// Registration records that an endpoint supports one channel and where
// its listener for that channel can be reached.
type Registration struct {
	Endpoint     ref.EndpointID
	Channel      Channel
	Address      string
	RegisteredAt time.Time
}

// EndpointInfo summarizes one registered endpoint.
type EndpointInfo struct {
	ID           ref.EndpointID
	RegisteredAt time.Time
	Channels     []Registration
}

// Registry tracks registered endpoints and their channel support.
// Safe for concurrent use: the onboarding plane registers while probe
// loops and the coordinator read.
type Registry struct {
	clock clock.Clock

	// mu protects endpoints.
	mu        sync.RWMutex
	endpoints map[ref.EndpointID]*endpointEntry
}

type endpointEntry struct {
	registeredAt time.Time
	channels     map[Channel]Registration
}

// New returns an empty Registry.
func New(clk clock.Clock) *Registry {
	return &Registry{
		clock:     clk,
		endpoints: make(map[ref.EndpointID]*endpointEntry),
	}
}

// Register records that endpoint supports channel at address. The
// first registration of an endpoint stamps its RegisteredAt.
// Re-registering an existing pair updates the address and keeps the
// original registration time. Returns ErrUnknownChannel for channels
// outside the catalog.
func (r *Registry) Register(endpoint ref.EndpointID, channel Channel, address string) (Registration, error) {
	if endpoint.IsZero() {
		return Registration{}, fmt.Errorf("registering channel %q: endpoint id is empty", channel)
	}
	if _, ok := catalogIndex[channel]; !ok {
		return Registration{}, fmt.Errorf("registering endpoint %q: %w: %q", endpoint, ErrUnknownChannel, channel)
	}
	if address == "" {
		return Registration{}, fmt.Errorf("registering %q on %q: address is empty", endpoint, channel)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	entry, ok := r.endpoints[endpoint]
	if !ok {
		entry = &endpointEntry{
			registeredAt: now,
			channels:     make(map[Channel]Registration),
		}
		r.endpoints[endpoint] = entry
	}

	reg, existed := entry.channels[channel]
	if existed {
		reg.Address = address
	} else {
		reg = Registration{
			Endpoint:     endpoint,
			Channel:      channel,
			Address:      address,
			RegisteredAt: now,
		}
	}
	entry.channels[channel] = reg
	return reg, nil
}

// Deregister removes an endpoint and all its channel registrations.
// This is the rare external event that stops probing: an endpoint
// leaving the deployment entirely.
func (r *Registry) Deregister(endpoint ref.EndpointID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[endpoint]; !ok {
		return fmt.Errorf("deregistering: %w: %q", ErrUnknownEndpoint, endpoint)
	}
	delete(r.endpoints, endpoint)
	return nil
}

// List returns endpoint's registrations in ascending priority order.
func (r *Registry) List(endpoint ref.EndpointID) ([]Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.endpoints[endpoint]
	if !ok {
		return nil, fmt.Errorf("listing channels: %w: %q", ErrUnknownEndpoint, endpoint)
	}
	return entry.ordered(), nil
}

// Lookup returns the registration for one endpoint×channel pair.
func (r *Registry) Lookup(endpoint ref.EndpointID, channel Channel) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.endpoints[endpoint]
	if !ok {
		return Registration{}, fmt.Errorf("looking up %q: %w: %q", channel, ErrUnknownEndpoint, endpoint)
	}
	reg, ok := entry.channels[channel]
	if !ok {
		return Registration{}, fmt.Errorf("endpoint %q has no %q registration", endpoint, channel)
	}
	return reg, nil
}

// Endpoints returns every registered endpoint, sorted by ID, each with
// its registrations in priority order.
func (r *Registry) Endpoints() []EndpointInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EndpointInfo, 0, len(r.endpoints))
	for id, entry := range r.endpoints {
		out = append(out, EndpointInfo{
			ID:           id,
			RegisteredAt: entry.registeredAt,
			Channels:     entry.ordered(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

// ordered returns the entry's registrations in ascending catalog
// priority. Caller must hold r.mu.
func (e *endpointEntry) ordered() []Registration {
	out := make([]Registration, 0, len(e.channels))
	for _, d := range catalog {
		if reg, ok := e.channels[d.Channel]; ok {
			out = append(out, reg)
		}
	}
	return out
}
