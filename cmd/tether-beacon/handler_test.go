// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/lib/wire"
	"github.com/tether-foundation/tether/registry"
)

func testHandler(t *testing.T, cfg *Config) (*Handler, *clock.FakeClock) {
	t.Helper()
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = Default().SessionTTL
	}
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(cfg, ref.MustEndpointID(cfg.Endpoint), clk, logger), clk
}

func heartbeatProbe(endpoint string, channel registry.Channel, seq uint64) wire.ProbeRequest {
	return wire.ProbeRequest{
		Kind: wire.KindHeartbeat,
		Heartbeat: &wire.HeartbeatRequest{
			Principal: ref.MustPrincipalID("person/ada"),
			Endpoint:  ref.MustEndpointID(endpoint),
			Channel:   channel,
			Sequence:  seq,
		},
	}
}

func handshakeProbe(principal string, generation uint64) wire.ProbeRequest {
	return wire.ProbeRequest{
		Kind: wire.KindHandshake,
		Handshake: &wire.HandshakeRequest{
			Principal:           ref.MustPrincipalID(principal),
			ProposingGeneration: generation,
		},
	}
}

func TestHeartbeatEchoesSequenceAndQuality(t *testing.T) {
	handler, clk := testHandler(t, &Config{
		Endpoint: "hall/panel-2",
		Channels: []ChannelConfig{{Channel: "wifi6e", Listen: "127.0.0.1:0", Quality: 0.85}},
	})

	resp, err := handler.ServeProbe(context.Background(), heartbeatProbe("hall/panel-2", registry.ChannelWiFi, 41))
	if err != nil {
		t.Fatalf("ServeProbe: %v", err)
	}
	if resp.Heartbeat == nil {
		t.Fatal("response carries no heartbeat body")
	}
	if resp.Heartbeat.Sequence != 41 {
		t.Errorf("Sequence = %d, want 41", resp.Heartbeat.Sequence)
	}
	if resp.Heartbeat.Quality != 0.85 {
		t.Errorf("Quality = %g, want 0.85", resp.Heartbeat.Quality)
	}
	if !resp.Heartbeat.ReceivedAt.Equal(clk.Now()) {
		t.Errorf("ReceivedAt = %v, want clock time %v", resp.Heartbeat.ReceivedAt, clk.Now())
	}
}

func TestHeartbeatWrongEndpointRefused(t *testing.T) {
	handler, _ := testHandler(t, &Config{
		Endpoint: "hall/panel-2",
		Channels: []ChannelConfig{{Channel: "wifi6e", Listen: "127.0.0.1:0", Quality: 0.85}},
	})

	if _, err := handler.ServeProbe(context.Background(), heartbeatProbe("den/tv", registry.ChannelWiFi, 1)); err == nil {
		t.Error("probe for another endpoint succeeded, want refusal")
	}
}

func TestHeartbeatUnservedChannelRefused(t *testing.T) {
	handler, _ := testHandler(t, &Config{
		Endpoint: "hall/panel-2",
		Channels: []ChannelConfig{{Channel: "wifi6e", Listen: "127.0.0.1:0", Quality: 0.85}},
	})

	if _, err := handler.ServeProbe(context.Background(), heartbeatProbe("hall/panel-2", registry.ChannelNFC, 1)); err == nil {
		t.Error("probe on unserved channel succeeded, want refusal")
	}
}

func TestHandshakeAccepts(t *testing.T) {
	handler, _ := testHandler(t, &Config{
		Endpoint: "hall/panel-2",
		Channels: []ChannelConfig{{Channel: "wifi6e", Listen: "127.0.0.1:0", Quality: 0.85}},
	})

	resp, err := handler.ServeProbe(context.Background(), handshakeProbe("person/ada", 3))
	if err != nil {
		t.Fatalf("ServeProbe: %v", err)
	}
	if resp.Handshake == nil || !resp.Handshake.Accept {
		t.Errorf("handshake not accepted: %+v", resp.Handshake)
	}
}

func TestHandshakeRefusedWhileDraining(t *testing.T) {
	handler, _ := testHandler(t, &Config{
		Endpoint: "hall/panel-2",
		Draining: true,
		Channels: []ChannelConfig{{Channel: "wifi6e", Listen: "127.0.0.1:0", Quality: 0.85}},
	})

	resp, err := handler.ServeProbe(context.Background(), handshakeProbe("person/ada", 3))
	if err != nil {
		t.Fatalf("ServeProbe: %v", err)
	}
	if resp.Handshake.Accept {
		t.Error("draining endpoint accepted a handshake")
	}
	if resp.Handshake.Reason == "" {
		t.Error("refusal carries no reason")
	}

	handler.SetDraining(false)
	resp, err = handler.ServeProbe(context.Background(), handshakeProbe("person/ada", 3))
	if err != nil {
		t.Fatalf("ServeProbe after undrain: %v", err)
	}
	if !resp.Handshake.Accept {
		t.Error("handshake refused after draining cleared")
	}
}

func TestHandshakeCapacity(t *testing.T) {
	handler, clk := testHandler(t, &Config{
		Endpoint: "hall/panel-2",
		Capacity: 1,
		Channels: []ChannelConfig{{Channel: "wifi6e", Listen: "127.0.0.1:0", Quality: 0.85}},
	})

	resp, _ := handler.ServeProbe(context.Background(), handshakeProbe("person/ada", 1))
	if !resp.Handshake.Accept {
		t.Fatal("first principal refused below capacity")
	}

	// A second principal exceeds capacity; the hosted principal may
	// renew.
	resp, _ = handler.ServeProbe(context.Background(), handshakeProbe("person/bob", 1))
	if resp.Handshake.Accept {
		t.Error("second principal accepted at capacity")
	}
	resp, _ = handler.ServeProbe(context.Background(), handshakeProbe("person/ada", 2))
	if !resp.Handshake.Accept {
		t.Error("hosted principal refused renewal")
	}

	// After the session TTL passes without renewal, the slot frees.
	clk.Advance(6 * time.Minute)
	resp, _ = handler.ServeProbe(context.Background(), handshakeProbe("person/bob", 1))
	if !resp.Handshake.Accept {
		t.Error("expired session still holds the capacity slot")
	}
}

func TestUnknownProbeKind(t *testing.T) {
	handler, _ := testHandler(t, &Config{
		Endpoint: "hall/panel-2",
		Channels: []ChannelConfig{{Channel: "wifi6e", Listen: "127.0.0.1:0", Quality: 0.85}},
	})

	if _, err := handler.ServeProbe(context.Background(), wire.ProbeRequest{Kind: "telemetry"}); err == nil {
		t.Error("unknown probe kind succeeded, want error")
	}
}
