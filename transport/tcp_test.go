// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tether-foundation/tether/lib/wire"
	"github.com/tether-foundation/tether/registry"
)

func TestTCPExchange(t *testing.T) {
	listener := startTCPListener(t, echoBeacon(0.72))

	caller := NewCaller(map[registry.Kind]Dialer{
		registry.KindIP: &TCPDialer{Timeout: 2 * time.Second},
	})
	reg := registry.Registration{
		Endpoint: testEndpoint,
		Channel:  registry.ChannelWiFi,
		Address:  listener.Address(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := caller.Probe(ctx, reg, heartbeatRequest(reg, 11))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if resp.Sequence != 11 {
		t.Errorf("Sequence = %d, want 11", resp.Sequence)
	}
	if resp.Quality != 0.72 {
		t.Errorf("Quality = %v, want 0.72", resp.Quality)
	}

	hs, err := caller.Handshake(ctx, reg, wire.HandshakeRequest{
		Principal:           testPrincipal,
		ProposingGeneration: 1,
	})
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if !hs.Accept {
		t.Errorf("Accept = false, want true (reason %q)", hs.Reason)
	}
}

func TestTCPListenerAddress(t *testing.T) {
	listener, err := NewTCPListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPListener: %v", err)
	}
	defer listener.Close()

	address := listener.Address()
	if !strings.HasPrefix(address, "127.0.0.1:") || strings.HasSuffix(address, ":0") {
		t.Errorf("Address() = %q, want a concrete 127.0.0.1 port", address)
	}
}

func TestTCPServeStopsOnClose(t *testing.T) {
	listener, err := NewTCPListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPListener: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- listener.Serve(context.Background(), echoBeacon(1)) }()

	// Give the accept loop a moment to start, then shut down.
	time.Sleep(10 * time.Millisecond)
	listener.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after Close")
	}
}

// --- helpers ---

// startTCPListener binds a loopback listener serving handler until the
// test ends.
func startTCPListener(t *testing.T, handler Handler) *TCPListener {
	t.Helper()

	listener, err := NewTCPListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPListener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Serve(ctx, handler) }()
	t.Cleanup(func() {
		cancel()
		listener.Close()
		if err := <-done; err != nil {
			t.Errorf("Serve returned %v", err)
		}
	})
	return listener
}
