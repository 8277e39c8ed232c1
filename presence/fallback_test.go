// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"testing"

	"github.com/tether-foundation/tether/heartbeat"
	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/registry"
)

func TestBestTransportPicksHighestPriorityUp(t *testing.T) {
	// Register out of catalog order; List re-orders by priority.
	r := registry.New(clock.Fake(evalStart))
	for _, ch := range []registry.Channel{registry.ChannelLoRaWAN, registry.ChannelCellular, registry.ChannelBLE} {
		if _, err := r.Register(den, ch, "addr-"+string(ch)); err != nil {
			t.Fatalf("Register(%q): %v", ch, err)
		}
	}
	ordered, err := r.List(den)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	records := map[registry.Channel]heartbeat.Record{
		registry.ChannelCellular: up(0.2), // weakest quality, highest priority
		registry.ChannelBLE:      up(1.0),
		registry.ChannelLoRaWAN:  up(1.0),
	}
	ch, ok := BestTransport(ordered, records)
	if !ok {
		t.Fatal("BestTransport found nothing with three UP channels")
	}
	if ch != registry.ChannelCellular {
		t.Errorf("BestTransport = %q, want %q (priority order, not quality)", ch, registry.ChannelCellular)
	}

	// Knock out cellular: the sequencer falls to ble.
	records[registry.ChannelCellular] = downAcked(evalStart)
	ch, ok = BestTransport(ordered, records)
	if !ok || ch != registry.ChannelBLE {
		t.Errorf("BestTransport = %q, %v; want %q, true", ch, ok, registry.ChannelBLE)
	}
}

func TestBestTransportExhaustion(t *testing.T) {
	ordered := []registry.Registration{
		{Endpoint: den, Channel: registry.ChannelWiFi, Address: "10.0.0.8:7600"},
		{Endpoint: den, Channel: registry.ChannelBLE, Address: "f0:9e:4a:51:22:10"},
	}
	records := map[registry.Channel]heartbeat.Record{
		registry.ChannelWiFi: downAcked(evalStart),
		registry.ChannelBLE:  downAcked(evalStart),
	}
	if ch, ok := BestTransport(ordered, records); ok {
		t.Errorf("BestTransport = %q with every channel down, want none", ch)
	}
}

func TestBestTransportSkipsUnprobedChannels(t *testing.T) {
	ordered := []registry.Registration{
		{Endpoint: den, Channel: registry.ChannelFiber, Address: "203.0.113.9:7600"},
		{Endpoint: den, Channel: registry.ChannelWiFi, Address: "10.0.0.8:7600"},
	}
	// Fiber registered but no probe loop has reported on it yet: only
	// wifi has a record.
	records := map[registry.Channel]heartbeat.Record{
		registry.ChannelWiFi: up(0.9),
	}
	ch, ok := BestTransport(ordered, records)
	if !ok || ch != registry.ChannelWiFi {
		t.Errorf("BestTransport = %q, %v; want %q, true", ch, ok, registry.ChannelWiFi)
	}
}

func TestBestTransportEmptyInputs(t *testing.T) {
	if ch, ok := BestTransport(nil, nil); ok {
		t.Errorf("BestTransport(nil, nil) = %q, want none", ch)
	}
}
