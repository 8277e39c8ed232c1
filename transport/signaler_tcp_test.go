// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSignalServerOfferAnswerFlow(t *testing.T) {
	server := startSignalServer(t)
	daemon := NewTCPSignaler(server.Address())
	beacon := NewTCPSignaler(server.Address())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := daemon.PublishOffer(ctx, "person/ada", "den/tv", "offer-sdp"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}

	offers, err := beacon.PollOffers(ctx, "den/tv")
	if err != nil {
		t.Fatalf("PollOffers: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("got %d offers, want 1", len(offers))
	}
	if offers[0].Peer != "person/ada" {
		t.Errorf("Peer = %q, want %q", offers[0].Peer, "person/ada")
	}
	if offers[0].SDP != "offer-sdp" {
		t.Errorf("SDP = %q, want %q", offers[0].SDP, "offer-sdp")
	}

	// A consumed signal is not replayed.
	offers, err = beacon.PollOffers(ctx, "den/tv")
	if err != nil {
		t.Fatalf("second PollOffers: %v", err)
	}
	if len(offers) != 0 {
		t.Errorf("second poll returned %d offers, want 0", len(offers))
	}

	if err := beacon.PublishAnswer(ctx, "person/ada", "den/tv", "answer-sdp"); err != nil {
		t.Fatalf("PublishAnswer: %v", err)
	}

	answers, err := daemon.PollAnswers(ctx, "person/ada")
	if err != nil {
		t.Fatalf("PollAnswers: %v", err)
	}
	if len(answers) != 1 {
		t.Fatalf("got %d answers, want 1", len(answers))
	}
	if answers[0].Peer != "den/tv" {
		t.Errorf("Peer = %q, want %q", answers[0].Peer, "den/tv")
	}
	if answers[0].SDP != "answer-sdp" {
		t.Errorf("SDP = %q, want %q", answers[0].SDP, "answer-sdp")
	}
}

func TestSignalServerOffersAreTargeted(t *testing.T) {
	server := startSignalServer(t)
	client := NewTCPSignaler(server.Address())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.PublishOffer(ctx, "person/ada", "den/tv", "offer-sdp"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}

	offers, err := client.PollOffers(ctx, "hall/panel-2")
	if err != nil {
		t.Fatalf("PollOffers: %v", err)
	}
	if len(offers) != 0 {
		t.Errorf("foreign endpoint saw %d offers, want 0", len(offers))
	}
}

func TestSignalServerReofferIsDelivered(t *testing.T) {
	server := startSignalServer(t)
	client := NewTCPSignaler(server.Address())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.PublishOffer(ctx, "person/ada", "den/tv", "first"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}
	if _, err := client.PollOffers(ctx, "den/tv"); err != nil {
		t.Fatalf("PollOffers: %v", err)
	}

	// Publishing again refreshes the timestamp, so the consumer sees
	// the new offer even though the key is the same.
	if err := client.PublishOffer(ctx, "person/ada", "den/tv", "second"); err != nil {
		t.Fatalf("re-PublishOffer: %v", err)
	}
	offers, err := client.PollOffers(ctx, "den/tv")
	if err != nil {
		t.Fatalf("PollOffers after re-offer: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("got %d offers after re-offer, want 1", len(offers))
	}
	if offers[0].SDP != "second" {
		t.Errorf("SDP = %q, want %q", offers[0].SDP, "second")
	}
}

func TestSignalServerRejectsUnknownOp(t *testing.T) {
	server := startSignalServer(t)
	client := NewTCPSignaler(server.Address())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.roundTrip(ctx, signalOp{Op: "frobnicate", Name: "person/ada"})
	if err == nil || !strings.Contains(err.Error(), "unknown op") {
		t.Errorf("roundTrip(frobnicate): %v, want an unknown-op error", err)
	}
}

// --- helpers ---

// startSignalServer binds a loopback rendezvous service that serves
// until the test ends.
func startSignalServer(t *testing.T) *SignalServer {
	t.Helper()

	server, err := NewSignalServer("127.0.0.1:0", discardLogger())
	if err != nil {
		t.Fatalf("NewSignalServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		server.Close()
		if err := <-done; err != nil {
			t.Errorf("Serve returned %v", err)
		}
	})
	return server
}
