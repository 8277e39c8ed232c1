// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"testing"
	"time"

	"github.com/tether-foundation/tether/heartbeat"
	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/registry"
)

var (
	evalStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	hall      = ref.MustEndpointID("hall/panel-2")
	den       = ref.MustEndpointID("den/tv")
	garage    = ref.MustEndpointID("garage/console")
)

// up builds an UP record acked at evalStart with the given quality.
func up(quality float64) heartbeat.Record {
	return heartbeat.Record{State: heartbeat.StateUp, LastAck: evalStart, Quality: quality}
}

// downAcked builds a DOWN record whose last ack was at the given time.
func downAcked(lastAck time.Time) heartbeat.Record {
	return heartbeat.Record{State: heartbeat.StateDown, LastAck: lastAck, ConsecutiveMisses: 5}
}

func TestTouchChannelOutscoresWideArea(t *testing.T) {
	e := New(Options{})
	eval := e.Evaluate(evalStart, map[ref.EndpointID]map[registry.Channel]heartbeat.Record{
		// den is on fiber: reachable, weak proximity evidence.
		den: {registry.ChannelFiber: up(1.0)},
		// hall answered an nfc probe: the principal is touching it.
		hall: {registry.ChannelNFC: up(1.0)},
	})

	if eval.Nearest == nil {
		t.Fatal("Nearest = nil with two live endpoints")
	}
	if eval.Nearest.Endpoint != hall {
		t.Errorf("Nearest = %q, want %q (touch evidence beats wide-area)", eval.Nearest.Endpoint, hall)
	}
	if eval.Scores[0].Endpoint != hall {
		t.Errorf("best score = %q, want %q", eval.Scores[0].Endpoint, hall)
	}
}

func TestQualityScalesConfidence(t *testing.T) {
	e := New(Options{})
	eval := e.Evaluate(evalStart, map[ref.EndpointID]map[registry.Channel]heartbeat.Record{
		hall: {registry.ChannelBLE: up(0.1)}, // ble barely audible
		den:  {registry.ChannelWiFi: up(1.0)},
	})

	if eval.Nearest.Endpoint != den {
		t.Errorf("Nearest = %q, want %q (strong wifi beats whisper ble)", eval.Nearest.Endpoint, den)
	}
}

func TestMoreLiveChannelsScoreHigher(t *testing.T) {
	e := New(Options{})
	eval := e.Evaluate(evalStart, map[ref.EndpointID]map[registry.Channel]heartbeat.Record{
		hall: {
			registry.ChannelWiFi: up(0.8),
			registry.ChannelBLE:  up(0.8),
			registry.ChannelNFC:  up(0.0), // live but zero quality
		},
		den: {registry.ChannelBLE: up(0.8)},
	})

	var hallScore, denScore Score
	for _, s := range eval.Scores {
		switch s.Endpoint {
		case hall:
			hallScore = s
		case den:
			denScore = s
		}
	}
	if hallScore.UpChannels != 3 {
		t.Errorf("hall UpChannels = %d, want 3", hallScore.UpChannels)
	}
	if hallScore.Value <= denScore.Value {
		t.Errorf("hall score %v <= den score %v; diversity term missing", hallScore.Value, denScore.Value)
	}
	if hallScore.BestChannel != registry.ChannelBLE {
		t.Errorf("hall BestChannel = %q, want ble (highest confidence×quality)", hallScore.BestChannel)
	}
}

func TestRecencyDecays(t *testing.T) {
	e := New(Options{RecencyWindow: 30 * time.Second})
	now := evalStart.Add(time.Minute)

	eval := e.Evaluate(now, map[ref.EndpointID]map[registry.Channel]heartbeat.Record{
		// Fresh ack just now.
		hall: {registry.ChannelWiFi: {State: heartbeat.StateUp, LastAck: now, Quality: 0.5}},
		// Same channel and quality, ack a full window ago.
		den: {registry.ChannelWiFi: {State: heartbeat.StateUp, LastAck: now.Add(-30 * time.Second), Quality: 0.5}},
	})

	var hallScore, denScore Score
	for _, s := range eval.Scores {
		switch s.Endpoint {
		case hall:
			hallScore = s
		case den:
			denScore = s
		}
	}
	if hallScore.Value <= denScore.Value {
		t.Errorf("fresh ack score %v <= stale ack score %v", hallScore.Value, denScore.Value)
	}
}

func TestDeadEndpointNeverNearest(t *testing.T) {
	e := New(Options{})
	// garage has a very recent ack but every channel is DOWN; hall has
	// one weak live channel.
	eval := e.Evaluate(evalStart, map[ref.EndpointID]map[registry.Channel]heartbeat.Record{
		garage: {
			registry.ChannelNFC:  downAcked(evalStart.Add(-time.Second)),
			registry.ChannelWiFi: downAcked(evalStart.Add(-time.Second)),
		},
		hall: {registry.ChannelFiber: up(0.3)},
	})

	if eval.Nearest == nil {
		t.Fatal("Nearest = nil, want hall")
	}
	if eval.Nearest.Endpoint != hall {
		t.Errorf("Nearest = %q, want %q (dead endpoints are never nearest)", eval.Nearest.Endpoint, hall)
	}
}

func TestNoLiveEndpointMeansNoNearest(t *testing.T) {
	e := New(Options{})
	eval := e.Evaluate(evalStart, map[ref.EndpointID]map[registry.Channel]heartbeat.Record{
		hall: {registry.ChannelWiFi: downAcked(evalStart.Add(-time.Minute))},
		den:  {registry.ChannelBLE: downAcked(evalStart.Add(-time.Hour))},
	})
	if eval.Nearest != nil {
		t.Errorf("Nearest = %q, want nil when nothing is live", eval.Nearest.Endpoint)
	}
	if len(eval.Scores) != 2 {
		t.Errorf("Scores has %d entries, want 2 (dead endpoints still reported)", len(eval.Scores))
	}
}

func TestTieBreakLatencyClassThenID(t *testing.T) {
	e := New(Options{})

	// Identical scores on channels with different latency classes:
	// wifi6e (ultra) vs ble+powerline mix engineered to the same value
	// is fragile; instead pin the tie with equal channels and check the
	// id tie-break, then check the latency rule directly in ordering.
	evalIDs := e.Evaluate(evalStart, map[ref.EndpointID]map[registry.Channel]heartbeat.Record{
		den:  {registry.ChannelWiFi: up(0.8)},
		hall: {registry.ChannelWiFi: up(0.8)},
	})
	if evalIDs.Nearest.Endpoint != den {
		t.Errorf("id tie-break Nearest = %q, want %q (lexically first)", evalIDs.Nearest.Endpoint, den)
	}

	a := Score{Endpoint: hall, Value: 0.5, BestLatency: registry.LatencyUltra}
	b := Score{Endpoint: den, Value: 0.5, BestLatency: registry.LatencyMedium}
	if !scoreBefore(a, b) {
		t.Error("equal values: lower latency class must order first")
	}
	if scoreBefore(b, a) {
		t.Error("ordering is not antisymmetric on the latency tie-break")
	}
}

func TestCandidateDwell(t *testing.T) {
	e := New(Options{DwellWindow: 10 * time.Second, MinDelta: 0.1})

	strong := map[ref.EndpointID]map[registry.Channel]heartbeat.Record{
		hall: {registry.ChannelNFC: up(1.0), registry.ChannelWiFi: up(1.0)},
		den:  {registry.ChannelFiber: up(0.5)},
	}

	// First sighting starts the dwell, reports nothing.
	eval := e.Evaluate(evalStart, strong)
	if eval.Nearest.Endpoint != hall {
		t.Fatalf("Nearest = %q, want %q", eval.Nearest.Endpoint, hall)
	}
	if _, ok := e.Candidate(eval, den); ok {
		t.Error("candidate reported on first sighting, dwell skipped")
	}

	// Still inside the window: nothing.
	eval = e.Evaluate(evalStart.Add(5*time.Second), refresh(strong, evalStart.Add(5*time.Second)))
	if _, ok := e.Candidate(eval, den); ok {
		t.Error("candidate reported inside the dwell window")
	}

	// Window elapsed: report.
	eval = e.Evaluate(evalStart.Add(10*time.Second), refresh(strong, evalStart.Add(10*time.Second)))
	target, ok := e.Candidate(eval, den)
	if !ok {
		t.Fatal("no candidate after the dwell window elapsed")
	}
	if target != hall {
		t.Errorf("candidate = %q, want %q", target, hall)
	}
}

func TestCandidateResetWhenLeadDips(t *testing.T) {
	e := New(Options{DwellWindow: 10 * time.Second, MinDelta: 0.1})

	strong := map[ref.EndpointID]map[registry.Channel]heartbeat.Record{
		hall: {registry.ChannelNFC: up(1.0)},
		den:  {registry.ChannelFiber: up(0.5)},
	}
	// Nearly equal: hall still nearest but without the required lead.
	weak := map[ref.EndpointID]map[registry.Channel]heartbeat.Record{
		hall: {registry.ChannelWiFi: up(0.65)},
		den:  {registry.ChannelWiFi: up(0.6)},
	}

	eval := e.Evaluate(evalStart, strong)
	e.Candidate(eval, den) // dwell starts

	// Lead dips below MinDelta mid-dwell: reset.
	eval = e.Evaluate(evalStart.Add(5*time.Second), refresh(weak, evalStart.Add(5*time.Second)))
	if _, ok := e.Candidate(eval, den); ok {
		t.Fatal("candidate reported while lead was below MinDelta")
	}

	// Lead returns; the dwell must start over, so the original window
	// elapsing is not enough.
	eval = e.Evaluate(evalStart.Add(11*time.Second), refresh(strong, evalStart.Add(11*time.Second)))
	if _, ok := e.Candidate(eval, den); ok {
		t.Error("candidate reported without a fresh dwell after the reset")
	}
	eval = e.Evaluate(evalStart.Add(21*time.Second), refresh(strong, evalStart.Add(21*time.Second)))
	if _, ok := e.Candidate(eval, den); !ok {
		t.Error("candidate not reported after a full fresh dwell")
	}
}

func TestCandidateClearedWhenNearestIsBound(t *testing.T) {
	e := New(Options{DwellWindow: 10 * time.Second, MinDelta: 0.1})
	records := map[ref.EndpointID]map[registry.Channel]heartbeat.Record{
		hall: {registry.ChannelNFC: up(1.0)},
		den:  {registry.ChannelFiber: up(0.4)},
	}

	eval := e.Evaluate(evalStart, records)
	if _, ok := e.Candidate(eval, hall); ok {
		t.Error("candidate reported while the nearest endpoint is already bound")
	}
}

// refresh re-stamps every record's LastAck so recency does not decay
// across the synthetic timeline.
func refresh(records map[ref.EndpointID]map[registry.Channel]heartbeat.Record, at time.Time) map[ref.EndpointID]map[registry.Channel]heartbeat.Record {
	out := make(map[ref.EndpointID]map[registry.Channel]heartbeat.Record, len(records))
	for endpoint, byChannel := range records {
		fresh := make(map[registry.Channel]heartbeat.Record, len(byChannel))
		for ch, rec := range byChannel {
			if !rec.LastAck.IsZero() {
				rec.LastAck = at
			}
			fresh[ch] = rec
		}
		out[endpoint] = fresh
	}
	return out
}
