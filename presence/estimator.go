// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"sort"
	"time"

	"github.com/tether-foundation/tether/heartbeat"
	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/registry"
)

// Weights splits the presence score across its three terms. The terms
// each produce a value in [0, 1]; with weights summing to 1 the score
// stays in [0, 1] too, which keeps MinDelta comparable across
// deployments.
type Weights struct {
	// UpCount weights transport diversity: more live channels, more
	// confidence the endpoint really is where the principal is.
	UpCount float64

	// Confidence weights the proximity evidence of the best live
	// channel (catalog confidence × measured link quality).
	Confidence float64

	// Recency weights the age of the endpoint's newest ack.
	Recency float64
}

// Options tunes the estimator. Zero fields take the defaults below.
type Options struct {
	Weights Weights

	// UpCountCap is where the diversity term saturates: beyond this
	// many live channels, more add nothing.
	UpCountCap int

	// RecencyWindow is the age at which an ack stops counting as
	// recent. The recency term decays linearly from 1 (just acked) to
	// 0 (window exceeded).
	RecencyWindow time.Duration

	// DwellWindow is how long a migration candidate must stay ahead
	// before it is reported.
	DwellWindow time.Duration

	// MinDelta is the score lead the candidate must hold over the
	// bound endpoint, continuously, through the dwell window.
	MinDelta float64
}

const (
	defaultUpCountCap = 3
	defaultRecency    = 30 * time.Second
	defaultDwell      = 10 * time.Second
	defaultMinDelta   = 0.15
)

func (o Options) withDefaults() Options {
	if o.Weights == (Weights{}) {
		o.Weights = Weights{UpCount: 0.20, Confidence: 0.50, Recency: 0.30}
	}
	if o.UpCountCap <= 0 {
		o.UpCountCap = defaultUpCountCap
	}
	if o.RecencyWindow <= 0 {
		o.RecencyWindow = defaultRecency
	}
	if o.DwellWindow <= 0 {
		o.DwellWindow = defaultDwell
	}
	if o.MinDelta <= 0 {
		o.MinDelta = defaultMinDelta
	}
	return o
}

// Score is one endpoint's standing in a presence evaluation.
type Score struct {
	Endpoint ref.EndpointID

	// Value is the weighted score in [0, 1].
	Value float64

	// UpChannels counts the endpoint's live channels. Zero means the
	// endpoint cannot be nearest, whatever its Value.
	UpChannels int

	// BestChannel is the live channel with the strongest proximity
	// evidence (confidence × quality), empty when nothing is live.
	BestChannel registry.Channel

	// BestConfidence is that channel's confidence × quality.
	BestConfidence float64

	// BestLatency is the lowest latency class among live channels;
	// ties between equal scores resolve toward the lower class.
	BestLatency registry.LatencyClass

	// LastAck is the newest ack across all the endpoint's channels,
	// up or down. A channel that just went dark still counts as
	// recent evidence.
	LastAck time.Time
}

// Live reports whether the endpoint has at least one UP channel.
func (s Score) Live() bool { return s.UpChannels > 0 }

// Evaluation is one full pass over the known endpoints.
type Evaluation struct {
	At time.Time

	// Scores holds every endpoint, best first (value, then latency
	// class, then id).
	Scores []Score

	// Nearest is the best-scoring endpoint with a live channel, nil
	// when no endpoint is live at all.
	Nearest *Score
}

// Estimator scores endpoints and tracks the migration candidate's
// dwell. Evaluate and Candidate are called only from the coordinator
// loop; the estimator is not safe for concurrent use.
type Estimator struct {
	opts Options

	candidate      ref.EndpointID
	candidateSince time.Time
}

// New returns an Estimator with opts.
func New(opts Options) *Estimator {
	return &Estimator{opts: opts.withDefaults()}
}

// Evaluate scores every endpoint in records as of now.
func (e *Estimator) Evaluate(now time.Time, records map[ref.EndpointID]map[registry.Channel]heartbeat.Record) Evaluation {
	eval := Evaluation{At: now}
	for endpoint, byChannel := range records {
		eval.Scores = append(eval.Scores, e.score(now, endpoint, byChannel))
	}
	sort.Slice(eval.Scores, func(i, j int) bool {
		return scoreBefore(eval.Scores[i], eval.Scores[j])
	})
	for i := range eval.Scores {
		if eval.Scores[i].Live() {
			eval.Nearest = &eval.Scores[i]
			break
		}
	}
	return eval
}

func (e *Estimator) score(now time.Time, endpoint ref.EndpointID, records map[registry.Channel]heartbeat.Record) Score {
	s := Score{Endpoint: endpoint, BestLatency: registry.LatencyHigh}

	// Walk channels in catalog order so confidence ties resolve toward
	// the higher-priority channel and evaluation stays deterministic.
	for _, channel := range registry.Channels() {
		rec, ok := records[channel]
		if !ok {
			continue
		}
		if rec.LastAck.After(s.LastAck) {
			s.LastAck = rec.LastAck
		}
		if rec.State != heartbeat.StateUp {
			continue
		}
		s.UpChannels++

		desc, _ := registry.Describe(channel)
		confidence := desc.Confidence * rec.Quality
		if confidence > s.BestConfidence || s.BestChannel == "" {
			s.BestConfidence = confidence
			s.BestChannel = channel
		}
		if desc.Latency < s.BestLatency {
			s.BestLatency = desc.Latency
		}
	}

	w := e.opts.Weights
	upTerm := float64(min(s.UpChannels, e.opts.UpCountCap)) / float64(e.opts.UpCountCap)
	s.Value = w.UpCount*upTerm + w.Confidence*s.BestConfidence + w.Recency*e.recency(now, s.LastAck)
	return s
}

// recency decays linearly from 1 at age zero to 0 at the window edge.
func (e *Estimator) recency(now, lastAck time.Time) float64 {
	if lastAck.IsZero() {
		return 0
	}
	age := now.Sub(lastAck)
	if age <= 0 {
		return 1
	}
	if age >= e.opts.RecencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(e.opts.RecencyWindow)
}

// scoreBefore is the evaluation ordering: higher value first, then
// lower latency class, then lexical endpoint id. The id tie-break
// keeps repeated evaluations deterministic.
func scoreBefore(a, b Score) bool {
	if a.Value != b.Value {
		return a.Value > b.Value
	}
	if a.BestLatency != b.BestLatency {
		return a.BestLatency < b.BestLatency
	}
	return a.Endpoint.Less(b.Endpoint)
}

// Candidate applies hysteresis to eval and reports a migration target
// once one has held its lead for the dwell window.
//
// The candidate resets whenever the nearest endpoint is the bound one,
// the lead over the bound endpoint's score drops below MinDelta, or a
// different endpoint takes over as nearest — "continuously ahead"
// means exactly that.
func (e *Estimator) Candidate(eval Evaluation, bound ref.EndpointID) (ref.EndpointID, bool) {
	if eval.Nearest == nil || eval.Nearest.Endpoint == bound {
		e.reset()
		return ref.EndpointID{}, false
	}

	var boundValue float64
	for _, s := range eval.Scores {
		if s.Endpoint == bound {
			boundValue = s.Value
			break
		}
	}
	if eval.Nearest.Value-boundValue < e.opts.MinDelta {
		e.reset()
		return ref.EndpointID{}, false
	}

	if e.candidate != eval.Nearest.Endpoint {
		e.candidate = eval.Nearest.Endpoint
		e.candidateSince = eval.At
		return ref.EndpointID{}, false
	}
	if eval.At.Sub(e.candidateSince) < e.opts.DwellWindow {
		return ref.EndpointID{}, false
	}
	return e.candidate, true
}

func (e *Estimator) reset() {
	e.candidate = ref.EndpointID{}
	e.candidateSince = time.Time{}
}
