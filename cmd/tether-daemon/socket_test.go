// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tether-foundation/tether/binding"
	"github.com/tether-foundation/tether/heartbeat"
	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/lib/journal"
	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/lib/service"
	"github.com/tether-foundation/tether/lib/wire"
	"github.com/tether-foundation/tether/registry"
)

var (
	testPrincipal = ref.MustPrincipalID("person/ada")
	testEndpoint  = ref.MustEndpointID("hall/panel-2")
)

// --- Test infrastructure ---

// testEnv bundles a Daemon with a running socket server and a client
// connected to it. The journal and socket live in test temp dirs.
type testEnv struct {
	daemon  *Daemon
	client  *service.Client
	cleanup func()
}

// newTestDaemon builds a Daemon whose prober acks every probe
// instantly at full quality, registers its actions on a socket server,
// and starts serving. The binding coordinator is constructed (so the
// binding and set-coherence actions have a real target) but its Run
// loop is not started; these tests exercise the socket surface.
func newTestDaemon(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.Real()
	reg := registry.New(clk)

	prober := heartbeat.ProberFunc(func(ctx context.Context, r registry.Registration, req wire.HeartbeatRequest) (wire.HeartbeatResponse, error) {
		return wire.HeartbeatResponse{
			Sequence:   req.Sequence,
			ReceivedAt: clk.Now(),
			Quality:    1,
		}, nil
	})
	engine := heartbeat.NewEngine(testPrincipal, prober, clk, logger, heartbeat.Options{
		Interval:      10 * time.Millisecond,
		AckTimeout:    100 * time.Millisecond,
		MissThreshold: 3,
	})

	jnl, err := journal.Open(t.TempDir(), logger, journal.Options{})
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}

	coordinator, err := binding.NewCoordinator(binding.Config{
		Principal: testPrincipal,
		Registry:  reg,
		Health:    engine,
		Handshaker: binding.HandshakerFunc(func(ctx context.Context, r registry.Registration, req wire.HandshakeRequest) (wire.HandshakeResponse, error) {
			return wire.HandshakeResponse{Accept: true}, nil
		}),
		Recorder: jnl,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	daemon := &Daemon{
		registry:    reg,
		engine:      engine,
		coordinator: coordinator,
		journal:     jnl,
		clock:       clk,
		principal:   testPrincipal,
		startedAt:   clk.Now(),
		logger:      logger,
	}

	socketPath := filepath.Join(t.TempDir(), "status.sock")
	server := service.NewSocketServer(socketPath, logger)
	daemon.registerActions(server)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		server.Serve(ctx)
	}()
	waitForSocket(t, socketPath)

	return &testEnv{
		daemon: daemon,
		client: service.NewClient(socketPath),
		cleanup: func() {
			cancel()
			wg.Wait()
			engine.Close()
			jnl.Close()
		},
	}
}

// waitForSocket polls until the socket file exists.
func waitForSocket(t *testing.T, path string) {
	t.Helper()
	for range 500 {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("socket %s did not appear within timeout", path)
}

// waitForUp polls the engine until the pair's channel reports UP. The
// test prober acks instantly, so this resolves within a probe or two.
func waitForUp(t *testing.T, env *testEnv, endpoint ref.EndpointID, channel registry.Channel) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		records := env.daemon.engine.Snapshot(endpoint)
		if rec, ok := records[channel]; ok && rec.State == heartbeat.StateUp {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel %s of %s never came up", channel, endpoint)
}

// registerViaSocket registers an endpoint through the socket action and
// returns the decoded response.
func registerViaSocket(t *testing.T, env *testEnv, endpoint, channel, address string) registerEndpointResponse {
	t.Helper()
	var result registerEndpointResponse
	err := env.client.Call(context.Background(), "register-endpoint", map[string]any{
		"endpoint": endpoint,
		"channel":  channel,
		"address":  address,
	}, &result)
	if err != nil {
		t.Fatalf("Call register-endpoint: %v", err)
	}
	return result
}

// requireServiceError asserts that err is a *service.ServiceError.
func requireServiceError(t *testing.T, err error) *service.ServiceError {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected *ServiceError, got %T: %v", err, err)
	}
	return serviceErr
}

// --- Tests ---

func TestHandlePing(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	var result wire.Ping
	if err := env.client.Call(context.Background(), "ping", nil, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}

	if result.Version == "" {
		t.Error("version is empty")
	}
	if result.Principal != testPrincipal {
		t.Errorf("principal: got %v, want %v", result.Principal, testPrincipal)
	}
	if result.UptimeSeconds < 0 {
		t.Errorf("uptime: got %v, want >= 0", result.UptimeSeconds)
	}
}

func TestHandleBindingUnbound(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	var result wire.BindingStatus
	if err := env.client.Call(context.Background(), "binding", nil, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}

	if result.State != string(binding.StateUnbound) {
		t.Errorf("state: got %q, want %q", result.State, binding.StateUnbound)
	}
	if result.Principal != testPrincipal {
		t.Errorf("principal: got %v, want %v", result.Principal, testPrincipal)
	}
	if result.Generation != 0 {
		t.Errorf("generation: got %d, want 0", result.Generation)
	}
}

func TestHandleRegisterEndpoint(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	result := registerViaSocket(t, env, "hall/panel-2", "wifi6e", "127.0.0.1:7700")

	if result.Endpoint != testEndpoint {
		t.Errorf("endpoint: got %v, want %v", result.Endpoint, testEndpoint)
	}
	if result.Channel != registry.ChannelWiFi {
		t.Errorf("channel: got %v, want %v", result.Channel, registry.ChannelWiFi)
	}
	if result.RegisteredAt.IsZero() {
		t.Error("registered_at is zero")
	}

	// The registration must be visible in the registry and its probe
	// loop must be running.
	reg, err := env.daemon.registry.Lookup(testEndpoint, registry.ChannelWiFi)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if reg.Address != "127.0.0.1:7700" {
		t.Errorf("address: got %q, want 127.0.0.1:7700", reg.Address)
	}
	waitForUp(t, env, testEndpoint, registry.ChannelWiFi)
}

func TestHandleRegisterEndpointMissingFields(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	cases := []struct {
		name   string
		fields map[string]any
		want   string
	}{
		{"endpoint", map[string]any{"channel": "wifi6e", "address": "127.0.0.1:7700"}, "missing required field: endpoint"},
		{"channel", map[string]any{"endpoint": "hall/panel-2", "address": "127.0.0.1:7700"}, "missing required field: channel"},
		{"address", map[string]any{"endpoint": "hall/panel-2", "channel": "wifi6e"}, "missing required field: address"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := env.client.Call(context.Background(), "register-endpoint", tc.fields, nil)
			serviceErr := requireServiceError(t, err)
			if serviceErr.Message != tc.want {
				t.Errorf("message: got %q, want %q", serviceErr.Message, tc.want)
			}
		})
	}
}

func TestHandleRegisterEndpointUnknownChannel(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	err := env.client.Call(context.Background(), "register-endpoint", map[string]any{
		"endpoint": "hall/panel-2",
		"channel":  "carrier-pigeon",
		"address":  "127.0.0.1:7700",
	}, nil)
	serviceErr := requireServiceError(t, err)
	if !strings.Contains(serviceErr.Message, "unknown transport channel") {
		t.Errorf("message: got %q, want unknown transport channel error", serviceErr.Message)
	}
}

func TestHandleTransportHealth(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	registerViaSocket(t, env, "hall/panel-2", "wifi6e", "127.0.0.1:7700")
	waitForUp(t, env, testEndpoint, registry.ChannelWiFi)

	var result wire.TransportHealth
	err := env.client.Call(context.Background(), "transport-health", map[string]any{
		"endpoint": "hall/panel-2",
	}, &result)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	if result.Endpoint != testEndpoint {
		t.Errorf("endpoint: got %v, want %v", result.Endpoint, testEndpoint)
	}
	if len(result.Channels) != 1 {
		t.Fatalf("channels: got %d, want 1", len(result.Channels))
	}
	ch := result.Channels[0]
	if ch.Channel != registry.ChannelWiFi {
		t.Errorf("channel: got %v, want %v", ch.Channel, registry.ChannelWiFi)
	}
	if ch.State != "up" {
		t.Errorf("state: got %q, want up", ch.State)
	}
	if ch.Quality != 1 {
		t.Errorf("quality: got %v, want 1", ch.Quality)
	}
	if ch.LastAck.IsZero() {
		t.Error("last_ack is zero after an ack")
	}
}

func TestHandleTransportHealthUnknownEndpoint(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	err := env.client.Call(context.Background(), "transport-health", map[string]any{
		"endpoint": "attic/ghost",
	}, nil)
	requireServiceError(t, err)
}

func TestHandleTransportHealthMissingEndpoint(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	err := env.client.Call(context.Background(), "transport-health", nil, nil)
	serviceErr := requireServiceError(t, err)
	if serviceErr.Message != "missing required field: endpoint" {
		t.Errorf("message: got %q, want missing required field: endpoint", serviceErr.Message)
	}
}

func TestHandleDeregisterEndpoint(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	registerViaSocket(t, env, "hall/panel-2", "wifi6e", "127.0.0.1:7700")

	var result deregisterEndpointResponse
	err := env.client.Call(context.Background(), "deregister-endpoint", map[string]any{
		"endpoint": "hall/panel-2",
	}, &result)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Endpoint != testEndpoint {
		t.Errorf("endpoint: got %v, want %v", result.Endpoint, testEndpoint)
	}

	if _, err := env.daemon.registry.Lookup(testEndpoint, registry.ChannelWiFi); err == nil {
		t.Error("Lookup succeeded after deregistration")
	}
	if records := env.daemon.engine.Snapshot(testEndpoint); len(records) != 0 {
		t.Errorf("engine still tracks %d channels after deregistration", len(records))
	}

	// A second deregistration has nothing to remove.
	err = env.client.Call(context.Background(), "deregister-endpoint", map[string]any{
		"endpoint": "hall/panel-2",
	}, nil)
	requireServiceError(t, err)
}

func TestHandleSetCoherence(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	var result setCoherenceResponse
	err := env.client.Call(context.Background(), "set-coherence", map[string]any{
		"score": 0.4,
	}, &result)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Coherence != 0.4 {
		t.Errorf("coherence: got %v, want 0.4", result.Coherence)
	}
	if got := env.daemon.coordinator.Coherence(); got != 0.4 {
		t.Errorf("coordinator coherence: got %v, want 0.4", got)
	}
}

func TestHandleSetCoherenceOutOfRange(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	err := env.client.Call(context.Background(), "set-coherence", map[string]any{
		"score": 1.5,
	}, nil)
	requireServiceError(t, err)
}

func TestHandleSetCoherenceMissingScore(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	err := env.client.Call(context.Background(), "set-coherence", nil, nil)
	serviceErr := requireServiceError(t, err)
	if serviceErr.Message != "missing required field: score" {
		t.Errorf("message: got %q, want missing required field: score", serviceErr.Message)
	}
}

func TestHandleHistory(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	events := []journal.Event{journal.EventAttach, journal.EventCommit, journal.EventSuspend}
	for i, event := range events {
		rec := journal.Record{
			Time:       time.Date(2026, 3, 1, 9, i, 0, 0, time.UTC),
			Event:      event,
			Principal:  testPrincipal,
			Endpoint:   testEndpoint,
			Generation: uint64(i + 1),
		}
		if err := env.daemon.journal.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	var result wire.History
	if err := env.client.Call(context.Background(), "history", nil, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(result.Records) != len(events) {
		t.Fatalf("records: got %d, want %d", len(result.Records), len(events))
	}
	// Oldest first.
	for i, rec := range result.Records {
		if rec.Event != events[i] {
			t.Errorf("record %d: got event %q, want %q", i, rec.Event, events[i])
		}
	}

	// A limit returns only the trailing records.
	var limited wire.History
	err := env.client.Call(context.Background(), "history", map[string]any{
		"limit": 2,
	}, &limited)
	if err != nil {
		t.Fatalf("Call with limit: %v", err)
	}
	if len(limited.Records) != 2 {
		t.Fatalf("limited records: got %d, want 2", len(limited.Records))
	}
	if limited.Records[0].Event != journal.EventCommit {
		t.Errorf("limited first event: got %q, want %q", limited.Records[0].Event, journal.EventCommit)
	}
}

func TestHandleEndpoints(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	registerViaSocket(t, env, "hall/panel-2", "wifi6e", "127.0.0.1:7700")
	registerViaSocket(t, env, "den/tv", "fiber", "127.0.0.1:7701")
	waitForUp(t, env, testEndpoint, registry.ChannelWiFi)
	waitForUp(t, env, ref.MustEndpointID("den/tv"), registry.ChannelFiber)

	var result wire.EndpointList
	if err := env.client.Call(context.Background(), "endpoints", nil, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(result.Endpoints) != 2 {
		t.Fatalf("endpoints: got %d, want 2", len(result.Endpoints))
	}

	// Endpoints list sorted by ID: den/tv before hall/panel-2.
	if result.Endpoints[0].Endpoint != ref.MustEndpointID("den/tv") {
		t.Errorf("first endpoint: got %v, want den/tv", result.Endpoints[0].Endpoint)
	}
	for _, status := range result.Endpoints {
		if !status.Live {
			t.Errorf("endpoint %v: not live with an acking channel", status.Endpoint)
		}
		if len(status.Channels) != 1 {
			t.Errorf("endpoint %v: got %d channels, want 1", status.Endpoint, len(status.Channels))
		}
		if status.RegisteredAt.IsZero() {
			t.Errorf("endpoint %v: registered_at is zero", status.Endpoint)
		}
	}
}

func TestHandleUnknownAction(t *testing.T) {
	env := newTestDaemon(t)
	defer env.cleanup()

	err := env.client.Call(context.Background(), "teleport", nil, nil)
	serviceErr := requireServiceError(t, err)
	if !strings.Contains(serviceErr.Message, "unknown action") {
		t.Errorf("message: got %q, want unknown action error", serviceErr.Message)
	}
}
