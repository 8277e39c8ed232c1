// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package heartbeat

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
)

// Prober sends one heartbeat over one channel and returns the ack.
// The production implementation dials the registration's address via
// the transport layer; tests substitute a function.
type Prober interface {
	Probe(ctx context.Context, reg registry.Registration, req wire.HeartbeatRequest) (wire.HeartbeatResponse, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, reg registry.Registration, req wire.HeartbeatRequest) (wire.HeartbeatResponse, error)

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, reg registry.Registration, req wire.HeartbeatRequest) (wire.HeartbeatResponse, error) {
	return f(ctx, reg, req)
}

// Options tunes the engine. Zero fields take the defaults below.
type Options struct {
	// Interval is the probe cadence per pair.
	Interval time.Duration

	// AckTimeout is the base time a probe waits for its ack. The
	// catalog's per-channel TimeoutScale multiplies it.
	AckTimeout time.Duration

	// MissThreshold is the consecutive misses that flip a pair DOWN.
	MissThreshold int
}

const (
	defaultInterval      = 2 * time.Second
	defaultAckTimeout    = 750 * time.Millisecond
	defaultMissThreshold = 3
)

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = defaultInterval
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = defaultAckTimeout
	}
	if o.MissThreshold <= 0 {
		o.MissThreshold = defaultMissThreshold
	}
	return o
}

// Engine owns one probe loop per tracked endpoint×channel pair.
type Engine struct {
	principal ref.PrincipalID
	prober    Prober
	clock     clock.Clock
	logger    *slog.Logger
	opts      Options

	// transitions carries UP↔DOWN edges to the coordinator. Sends are
	// non-blocking: a slow consumer drops edges and catches up on its
	// next periodic evaluation instead of stalling probe loops.
	transitions chan Transition

	// mu protects pairs and every record inside them.
	mu    sync.Mutex
	pairs map[pairKey]*pair

	wg sync.WaitGroup
}

type pairKey struct {
	endpoint ref.EndpointID
	channel  registry.Channel
}

type pair struct {
	reg    registry.Registration
	cancel context.CancelFunc
	record Record
}

// NewEngine returns an Engine probing on behalf of principal.
func NewEngine(principal ref.PrincipalID, prober Prober, clk clock.Clock, logger *slog.Logger, opts Options) *Engine {
	return &Engine{
		principal:   principal,
		prober:      prober,
		clock:       clk,
		logger:      logger.With("component", "heartbeat"),
		opts:        opts.withDefaults(),
		transitions: make(chan Transition, 64),
		pairs:       make(map[pairKey]*pair),
	}
}

// Transitions returns the channel of UP↔DOWN edges. The engine never
// closes it.
func (e *Engine) Transitions() <-chan Transition { return e.transitions }

// Track starts a probe loop for reg. The loop runs until ctx is
// cancelled, the endpoint is untracked, or Close. Tracking an
// already-tracked pair refreshes its registration (a changed dial
// address takes effect on the next probe) without restarting the loop.
func (e *Engine) Track(ctx context.Context, reg registry.Registration) error {
	desc, ok := registry.Describe(reg.Channel)
	if !ok {
		return fmt.Errorf("tracking %q: %w: %q", reg.Endpoint, registry.ErrUnknownChannel, reg.Channel)
	}

	e.mu.Lock()
	key := pairKey{endpoint: reg.Endpoint, channel: reg.Channel}
	if existing, ok := e.pairs[key]; ok {
		existing.reg = reg
		e.mu.Unlock()
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p := &pair{
		reg:    reg,
		cancel: cancel,
		record: Record{Channel: reg.Channel, State: StateDown},
	}
	e.pairs[key] = p
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Info("tracking pair",
		"endpoint", reg.Endpoint,
		"channel", reg.Channel,
		"address", reg.Address,
		"timeout", e.opts.AckTimeout*time.Duration(desc.TimeoutScale))

	go e.probeLoop(loopCtx, p, desc)
	return nil
}

// Untrack stops and removes every probe loop for endpoint. Used only
// on deregistration — probe loops are never stopped for mere failure.
func (e *Engine) Untrack(endpoint ref.EndpointID) {
	e.mu.Lock()
	for key, p := range e.pairs {
		if key.endpoint == endpoint {
			p.cancel()
			delete(e.pairs, key)
		}
	}
	e.mu.Unlock()
}

// Close stops every probe loop and waits for them to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	for key, p := range e.pairs {
		p.cancel()
		delete(e.pairs, key)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Snapshot returns copies of endpoint's records, keyed by channel.
// Eventually consistent: probe loops keep writing while readers copy.
func (e *Engine) Snapshot(endpoint ref.EndpointID) map[registry.Channel]Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[registry.Channel]Record)
	for key, p := range e.pairs {
		if key.endpoint == endpoint {
			out[key.channel] = p.record
		}
	}
	return out
}

// SnapshotAll returns copies of every tracked record, keyed by
// endpoint then channel.
func (e *Engine) SnapshotAll() map[ref.EndpointID]map[registry.Channel]Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[ref.EndpointID]map[registry.Channel]Record)
	for key, p := range e.pairs {
		byChannel, ok := out[key.endpoint]
		if !ok {
			byChannel = make(map[registry.Channel]Record)
			out[key.endpoint] = byChannel
		}
		byChannel[key.channel] = p.record
	}
	return out
}

// probeLoop probes one pair forever. The first probe fires
// immediately so a fresh registration establishes liveness without
// waiting out an interval.
func (e *Engine) probeLoop(ctx context.Context, p *pair, desc registry.Descriptor) {
	defer e.wg.Done()

	e.probeOnce(ctx, p, desc)

	ticker := e.clock.NewTicker(e.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.probeOnce(ctx, p, desc)
		}
	}
}

// probeOnce sends one heartbeat and folds the outcome into the pair's
// record.
func (e *Engine) probeOnce(ctx context.Context, p *pair, desc registry.Descriptor) {
	e.mu.Lock()
	reg := p.reg
	sequence := p.record.Sequence + 1
	p.record.Sequence = sequence
	e.mu.Unlock()

	start := e.clock.Now()
	request := wire.HeartbeatRequest{
		Principal: e.principal,
		Endpoint:  reg.Endpoint,
		Channel:   reg.Channel,
		Sequence:  sequence,
		SentAt:    start,
	}

	timeout := e.opts.AckTimeout * time.Duration(desc.TimeoutScale)
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	response, err := e.prober.Probe(probeCtx, reg, request)
	cancel()

	if err == nil && response.Sequence != sequence {
		err = fmt.Errorf("ack echoed sequence %d, want %d", response.Sequence, sequence)
	}
	if ctx.Err() != nil {
		// The pair was untracked or the daemon is shutting down;
		// don't count the interrupted probe as a miss.
		return
	}

	now := e.clock.Now()
	if err != nil {
		e.recordMiss(p, now, err)
		return
	}
	e.recordAck(p, now, now.Sub(start), response.Quality)
}

func (e *Engine) recordMiss(p *pair, now time.Time, cause error) {
	e.mu.Lock()
	p.record.ConsecutiveMisses++
	misses := p.record.ConsecutiveMisses
	wentDown := p.record.State == StateUp && misses >= e.opts.MissThreshold
	if wentDown {
		p.record.State = StateDown
	}
	reg := p.reg
	e.mu.Unlock()

	if wentDown {
		e.logger.Warn("transport down",
			"endpoint", reg.Endpoint,
			"channel", reg.Channel,
			"consecutive_misses", misses,
			"cause", cause)
		e.emit(Transition{
			Endpoint: reg.Endpoint,
			Channel:  reg.Channel,
			From:     StateUp,
			To:       StateDown,
			At:       now,
		})
		return
	}
	e.logger.Debug("probe miss",
		"endpoint", reg.Endpoint,
		"channel", reg.Channel,
		"consecutive_misses", misses,
		"cause", cause)
}

func (e *Engine) recordAck(p *pair, now time.Time, latency time.Duration, quality float64) {
	e.mu.Lock()
	recovered := p.record.State == StateDown
	p.record.State = StateUp
	p.record.ConsecutiveMisses = 0
	p.record.LastAck = now
	p.record.Latency = latency
	p.record.Quality = clampQuality(quality)
	reg := p.reg
	e.mu.Unlock()

	if recovered {
		e.logger.Info("transport up",
			"endpoint", reg.Endpoint,
			"channel", reg.Channel,
			"latency", latency,
			"quality", quality)
		e.emit(Transition{
			Endpoint: reg.Endpoint,
			Channel:  reg.Channel,
			From:     StateDown,
			To:       StateUp,
			At:       now,
		})
	}
}

func (e *Engine) emit(t Transition) {
	select {
	case e.transitions <- t:
	default:
	}
}

// clampQuality keeps beacon-reported quality inside [0, 1]; a beacon
// bug must not inflate presence scores.
func clampQuality(q float64) float64 {
	switch {
	case q < 0:
		return 0
	case q > 1:
		return 1
	default:
		return q
	}
}
