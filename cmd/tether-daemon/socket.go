// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tether-foundation/tether/binding"
	"github.com/tether-foundation/tether/heartbeat"
	"github.com/tether-foundation/tether/lib/codec"
	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/lib/service"
	"github.com/tether-foundation/tether/lib/version"
	"github.com/tether-foundation/tether/lib/wire"
	"github.com/tether-foundation/tether/presence"
	"github.com/tether-foundation/tether/registry"
)

// registerActions registers all status socket actions on the server.
func (d *Daemon) registerActions(server *service.SocketServer) {
	// Read-only queries are open to any local caller.
	server.Handle("ping", d.handlePing)
	server.Handle("binding", d.handleBinding)
	server.Handle("transport-health", d.handleTransportHealth)
	server.Handle("endpoints", d.handleEndpoints)
	server.Handle("history", d.handleHistory)

	// Mutations change what the daemon probes and how it migrates.
	// They require the socket owner or root.
	server.HandlePrivileged("register-endpoint", d.handleRegisterEndpoint)
	server.HandlePrivileged("deregister-endpoint", d.handleDeregisterEndpoint)
	server.HandlePrivileged("set-coherence", d.handleSetCoherence)
}

// --- Request types ---
//
// Each action decodes its specific fields from the CBOR request. The
// "action" field is handled by the socket server framework and is not
// included here.

// transportHealthRequest names the endpoint to report on.
type transportHealthRequest struct {
	Endpoint string `cbor:"endpoint"`
}

// historyRequest bounds the "history" action. A limit of zero or less
// falls back to the journal's default window.
type historyRequest struct {
	Limit int `cbor:"limit,omitempty"`
}

// registerEndpointRequest carries one endpoint and channel pair to
// start probing.
type registerEndpointRequest struct {
	Endpoint string `cbor:"endpoint"`
	Channel  string `cbor:"channel"`
	Address  string `cbor:"address"`
}

// deregisterEndpointRequest names the endpoint to retire. All of its
// channels stop being probed.
type deregisterEndpointRequest struct {
	Endpoint string `cbor:"endpoint"`
}

// setCoherenceRequest carries the identity plane's session coherence
// score. Score is a pointer so an absent field is distinguishable
// from an explicit zero.
type setCoherenceRequest struct {
	Score *float64 `cbor:"score"`
}

// --- Response types ---
//
// Query responses use the lib/wire types directly rather than defining
// parallel structs here. The CBOR library falls back to json struct
// tags when cbor tags are absent, so the wire types serialize
// correctly over the socket and the CLI decodes into the same types.
// Mutation responses are local: nothing else consumes them.

// registerEndpointResponse echoes the committed registration.
type registerEndpointResponse struct {
	Endpoint     ref.EndpointID   `cbor:"endpoint"`
	Channel      registry.Channel `cbor:"channel"`
	Address      string           `cbor:"address"`
	RegisteredAt time.Time        `cbor:"registered_at"`
}

// deregisterEndpointResponse confirms the removal.
type deregisterEndpointResponse struct {
	Endpoint ref.EndpointID `cbor:"endpoint"`
}

// setCoherenceResponse echoes the accepted score.
type setCoherenceResponse struct {
	Coherence float64 `cbor:"coherence"`
}

// --- Handlers ---

func (d *Daemon) handlePing(ctx context.Context, raw []byte) (any, error) {
	uptime := d.clock.Now().Sub(d.startedAt)
	return wire.Ping{
		Version:       version.Info(),
		Principal:     d.principal,
		StartedAt:     d.startedAt,
		UptimeSeconds: uptime.Seconds(),
	}, nil
}

// handleBinding returns the current binding snapshot. Before the first
// attachment there is no snapshot; the principal is reported unbound.
func (d *Daemon) handleBinding(ctx context.Context, raw []byte) (any, error) {
	b, ok := d.coordinator.Snapshot()
	if !ok {
		return wire.BindingStatus{
			Principal: d.principal,
			State:     string(binding.StateUnbound),
		}, nil
	}
	return wire.BindingStatus{
		Principal:  b.Principal,
		Endpoint:   b.Endpoint,
		Transport:  b.Transport,
		Generation: b.Generation,
		State:      string(b.State),
		Since:      b.Since,
	}, nil
}

func (d *Daemon) handleTransportHealth(ctx context.Context, raw []byte) (any, error) {
	var request transportHealthRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if request.Endpoint == "" {
		return nil, errors.New("missing required field: endpoint")
	}
	endpoint, err := ref.ParseEndpointID(request.Endpoint)
	if err != nil {
		return nil, err
	}

	channels, err := d.channelHealth(endpoint)
	if err != nil {
		return nil, err
	}
	return wire.TransportHealth{
		Endpoint: endpoint,
		Channels: channels,
	}, nil
}

// handleEndpoints lists every registered endpoint with its latest
// presence score and per-channel probe standing.
func (d *Daemon) handleEndpoints(ctx context.Context, raw []byte) (any, error) {
	infos := d.registry.Endpoints()
	eval, evalOK := d.coordinator.Evaluation()

	scores := make(map[ref.EndpointID]presence.Score, len(eval.Scores))
	var nearest ref.EndpointID
	if evalOK {
		for _, s := range eval.Scores {
			scores[s.Endpoint] = s
		}
		if eval.Nearest != nil {
			nearest = eval.Nearest.Endpoint
		}
	}

	statuses := make([]wire.EndpointStatus, 0, len(infos))
	for _, info := range infos {
		channels, err := d.channelHealth(info.ID)
		if err != nil {
			// Deregistered between the listing and the health
			// lookup. Skip rather than fail the whole response.
			continue
		}
		status := wire.EndpointStatus{
			Endpoint:     info.ID,
			Nearest:      info.ID == nearest,
			RegisteredAt: info.RegisteredAt,
			Channels:     channels,
		}
		if score, ok := scores[info.ID]; ok {
			status.Score = score.Value
			status.Live = score.Live()
		} else {
			// No evaluation has covered this endpoint yet; the
			// probe records are the best live signal available.
			for _, ch := range channels {
				if ch.State == heartbeat.StateUp.String() {
					status.Live = true
					break
				}
			}
		}
		statuses = append(statuses, status)
	}
	return wire.EndpointList{Endpoints: statuses}, nil
}

func (d *Daemon) handleHistory(ctx context.Context, raw []byte) (any, error) {
	var request historyRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	records, err := d.journal.Recent(request.Limit)
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return wire.History{Records: records}, nil
}

func (d *Daemon) handleRegisterEndpoint(ctx context.Context, raw []byte) (any, error) {
	var request registerEndpointRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if request.Endpoint == "" {
		return nil, errors.New("missing required field: endpoint")
	}
	if request.Channel == "" {
		return nil, errors.New("missing required field: channel")
	}
	if request.Address == "" {
		return nil, errors.New("missing required field: address")
	}

	endpoint, err := ref.ParseEndpointID(request.Endpoint)
	if err != nil {
		return nil, err
	}
	channel, err := registry.ParseChannel(request.Channel)
	if err != nil {
		return nil, err
	}

	// ctx here is the socket server's serve context, not the request
	// connection, so the probe loop outlives this call.
	reg, err := d.registerEndpoint(ctx, endpoint, channel, request.Address)
	if err != nil {
		return nil, err
	}
	d.logger.Info("endpoint registered",
		"endpoint", reg.Endpoint,
		"channel", reg.Channel,
		"address", reg.Address)
	return registerEndpointResponse{
		Endpoint:     reg.Endpoint,
		Channel:      reg.Channel,
		Address:      reg.Address,
		RegisteredAt: reg.RegisteredAt,
	}, nil
}

func (d *Daemon) handleDeregisterEndpoint(ctx context.Context, raw []byte) (any, error) {
	var request deregisterEndpointRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if request.Endpoint == "" {
		return nil, errors.New("missing required field: endpoint")
	}
	endpoint, err := ref.ParseEndpointID(request.Endpoint)
	if err != nil {
		return nil, err
	}

	// Remove from the registry first so the unknown-endpoint error
	// surfaces before any probe loops are touched.
	if err := d.registry.Deregister(endpoint); err != nil {
		return nil, err
	}
	d.engine.Untrack(endpoint)
	d.logger.Info("endpoint deregistered", "endpoint", endpoint)
	return deregisterEndpointResponse{Endpoint: endpoint}, nil
}

func (d *Daemon) handleSetCoherence(ctx context.Context, raw []byte) (any, error) {
	var request setCoherenceRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if request.Score == nil {
		return nil, errors.New("missing required field: score")
	}
	if err := d.coordinator.SetCoherence(*request.Score); err != nil {
		return nil, err
	}
	d.logger.Info("coherence updated", "score", *request.Score)
	return setCoherenceResponse{Coherence: d.coordinator.Coherence()}, nil
}

// channelHealth reports every registered channel of endpoint in
// priority order. A registered channel the engine has no record for
// yet (tracked but never probed, or untracked) reports as down.
func (d *Daemon) channelHealth(endpoint ref.EndpointID) ([]wire.ChannelHealth, error) {
	regs, err := d.registry.List(endpoint)
	if err != nil {
		return nil, err
	}
	records := d.engine.Snapshot(endpoint)

	health := make([]wire.ChannelHealth, 0, len(regs))
	for _, reg := range regs {
		record, ok := records[reg.Channel]
		if !ok {
			record = heartbeat.Record{Channel: reg.Channel, State: heartbeat.StateDown}
		}
		health = append(health, wire.ChannelHealth{
			Channel:           record.Channel,
			State:             record.State.String(),
			LastAck:           record.LastAck,
			ConsecutiveMisses: record.ConsecutiveMisses,
			Latency:           record.Latency,
			Quality:           record.Quality,
		})
	}
	return health, nil
}
