// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/lib/wire"
	"github.com/tether-foundation/tether/registry"
	"github.com/tether-foundation/tether/transport"
)

// Handler answers probe exchanges for one endpoint: heartbeat acks
// with the channel's configured quality reading, and migration
// handshakes subject to the hosting policy.
type Handler struct {
	endpoint ref.EndpointID
	capacity int
	ttl      time.Duration
	quality  map[registry.Channel]float64
	clock    clock.Clock
	logger   *slog.Logger

	// mu protects draining and hosted.
	mu       sync.Mutex
	draining bool
	hosted   map[ref.PrincipalID]time.Time
}

var _ transport.Handler = (*Handler)(nil)

// NewHandler builds the probe handler from the beacon configuration.
func NewHandler(cfg *Config, endpoint ref.EndpointID, clk clock.Clock, logger *slog.Logger) *Handler {
	quality := make(map[registry.Channel]float64, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		// Validate has already vetted the channel names.
		quality[registry.Channel(ch.Channel)] = ch.Quality
	}
	return &Handler{
		endpoint: endpoint,
		capacity: cfg.Capacity,
		ttl:      time.Duration(cfg.SessionTTL),
		quality:  quality,
		clock:    clk,
		logger:   logger,
		draining: cfg.Draining,
		hosted:   make(map[ref.PrincipalID]time.Time),
	}
}

// SetDraining flips the draining state at runtime.
func (h *Handler) SetDraining(draining bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.draining = draining
}

// ServeProbe implements transport.Handler.
func (h *Handler) ServeProbe(ctx context.Context, req wire.ProbeRequest) (wire.ProbeResponse, error) {
	switch req.Kind {
	case wire.KindHeartbeat:
		if req.Heartbeat == nil {
			return wire.ProbeResponse{}, fmt.Errorf("probe kind %s carries no body", req.Kind)
		}
		resp, err := h.serveHeartbeat(*req.Heartbeat)
		if err != nil {
			return wire.ProbeResponse{}, err
		}
		return wire.ProbeResponse{Heartbeat: &resp}, nil
	case wire.KindHandshake:
		if req.Handshake == nil {
			return wire.ProbeResponse{}, fmt.Errorf("probe kind %s carries no body", req.Kind)
		}
		resp := h.serveHandshake(*req.Handshake)
		return wire.ProbeResponse{Handshake: &resp}, nil
	default:
		return wire.ProbeResponse{}, fmt.Errorf("unknown probe kind %q", req.Kind)
	}
}

// serveHeartbeat acks one liveness probe. A probe addressed to a
// different endpoint id indicates a wiring error on the daemon side
// and is refused rather than silently acked as the wrong endpoint.
func (h *Handler) serveHeartbeat(req wire.HeartbeatRequest) (wire.HeartbeatResponse, error) {
	if req.Endpoint != h.endpoint {
		return wire.HeartbeatResponse{}, fmt.Errorf("probe addressed to %s, this beacon is %s", req.Endpoint, h.endpoint)
	}
	quality, ok := h.quality[req.Channel]
	if !ok {
		return wire.HeartbeatResponse{}, fmt.Errorf("channel %s not served here", req.Channel)
	}
	return wire.HeartbeatResponse{
		Sequence:   req.Sequence,
		ReceivedAt: h.clock.Now(),
		Quality:    quality,
	}, nil
}

// serveHandshake answers a migration readiness check. Refusals are
// valid responses, not errors: the coordinator aborts cleanly and the
// journal records the reason.
func (h *Handler) serveHandshake(req wire.HandshakeRequest) wire.HandshakeResponse {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	h.expireLocked(now)

	if h.draining {
		h.logger.Info("handshake refused",
			"principal", req.Principal,
			"reason", "draining")
		return wire.HandshakeResponse{Reason: "endpoint draining"}
	}

	_, alreadyHosted := h.hosted[req.Principal]
	if !alreadyHosted && h.capacity > 0 && len(h.hosted) >= h.capacity {
		h.logger.Info("handshake refused",
			"principal", req.Principal,
			"reason", "at capacity",
			"hosted", len(h.hosted),
			"capacity", h.capacity)
		return wire.HandshakeResponse{Reason: fmt.Sprintf("at capacity (%d sessions)", h.capacity)}
	}

	h.hosted[req.Principal] = now
	h.logger.Info("handshake accepted",
		"principal", req.Principal,
		"proposing_generation", req.ProposingGeneration,
		"hosted", len(h.hosted))
	return wire.HandshakeResponse{Accept: true}
}

// expireLocked drops hosted principals whose last handshake is older
// than the session TTL. Caller holds mu.
func (h *Handler) expireLocked(now time.Time) {
	for principal, accepted := range h.hosted {
		if now.Sub(accepted) > h.ttl {
			delete(h.hosted, principal)
		}
	}
}
