// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/tether-foundation/tether/heartbeat"
	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/lib/journal"
	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/lib/wire"
	"github.com/tether-foundation/tether/presence"
	"github.com/tether-foundation/tether/registry"
)

// HealthSource is the coordinator's view of transport liveness. The
// heartbeat engine implements it; tests substitute a fixture.
type HealthSource interface {
	Snapshot(endpoint ref.EndpointID) map[registry.Channel]heartbeat.Record
	SnapshotAll() map[ref.EndpointID]map[registry.Channel]heartbeat.Record
	Transitions() <-chan heartbeat.Transition
}

// Handshaker performs the migration readiness exchange with an
// endpoint over one registered channel.
type Handshaker interface {
	Handshake(ctx context.Context, reg registry.Registration, req wire.HandshakeRequest) (wire.HandshakeResponse, error)
}

// HandshakerFunc adapts a function to the Handshaker interface.
type HandshakerFunc func(ctx context.Context, reg registry.Registration, req wire.HandshakeRequest) (wire.HandshakeResponse, error)

// Handshake implements Handshaker.
func (f HandshakerFunc) Handshake(ctx context.Context, reg registry.Registration, req wire.HandshakeRequest) (wire.HandshakeResponse, error) {
	return f(ctx, reg, req)
}

// Recorder persists binding lifecycle events. The journal implements
// it. Generation-bearing events are written ahead of the publish;
// a Recorder failure there blocks the state change.
type Recorder interface {
	Append(rec journal.Record) error
}

// Options tunes the coordinator. Zero fields take the defaults below.
type Options struct {
	// EvaluateInterval is the periodic evaluation cadence. Heartbeat
	// transitions wake the loop sooner.
	EvaluateInterval time.Duration

	// HandshakeTimeout bounds the migration readiness exchange.
	HandshakeTimeout time.Duration

	// CoherenceInitial is the identity coherence score assumed until
	// the identity plane reports one.
	CoherenceInitial float64

	// CoherenceThresholds maps a deployment trust tier to the minimum
	// coherence score that permits migration.
	CoherenceThresholds map[int]float64
}

const (
	defaultEvaluateInterval = 5 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
)

func defaultCoherenceThresholds() map[int]float64 {
	return map[int]float64{0: 0.90, 1: 0.80, 2: 0.70, 3: 0.60}
}

func (o Options) withDefaults() Options {
	if o.EvaluateInterval <= 0 {
		o.EvaluateInterval = defaultEvaluateInterval
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.CoherenceInitial <= 0 {
		o.CoherenceInitial = 1.0
	}
	if o.CoherenceThresholds == nil {
		o.CoherenceThresholds = defaultCoherenceThresholds()
	}
	return o
}

// Config assembles a Coordinator's collaborators.
type Config struct {
	Principal  ref.PrincipalID
	Registry   *registry.Registry
	Health     HealthSource
	Handshaker Handshaker

	// Recorder persists lifecycle events; nil disables persistence.
	Recorder Recorder

	// TrustTier selects the coherence threshold. 0 is the most
	// trusted deployment class.
	TrustTier int

	// LastGeneration seeds the generation counter, normally from
	// journal replay, so generations never repeat across restarts.
	LastGeneration uint64

	Presence presence.Options
	Options  Options

	Clock  clock.Clock
	Logger *slog.Logger
}

// Coordinator is the sole writer of the principal's Binding. All
// decisions run on one goroutine (Run); readers load atomic
// snapshots.
type Coordinator struct {
	principal  ref.PrincipalID
	registry   *registry.Registry
	health     HealthSource
	handshaker Handshaker
	recorder   Recorder
	estimator  *presence.Estimator
	clock      clock.Clock
	logger     *slog.Logger
	opts       Options
	trustTier  int

	binding     atomic.Pointer[Binding]
	evaluation  atomic.Pointer[presence.Evaluation]
	transaction atomic.Pointer[Transaction]

	// coherence holds math.Float64bits of the latest identity
	// coherence score. Written by the status plane, read by the loop.
	coherence atomic.Uint64

	// generation is owned by the evaluation loop.
	generation uint64
}

// NewCoordinator validates cfg and returns an unbound Coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	opts := cfg.Options.withDefaults()

	var errs []error
	if cfg.Principal.IsZero() {
		errs = append(errs, errors.New("principal is required"))
	}
	if cfg.Registry == nil {
		errs = append(errs, errors.New("registry is required"))
	}
	if cfg.Health == nil {
		errs = append(errs, errors.New("health source is required"))
	}
	if cfg.Handshaker == nil {
		errs = append(errs, errors.New("handshaker is required"))
	}
	if cfg.Clock == nil {
		errs = append(errs, errors.New("clock is required"))
	}
	if cfg.Logger == nil {
		errs = append(errs, errors.New("logger is required"))
	}
	if _, ok := opts.CoherenceThresholds[cfg.TrustTier]; !ok {
		errs = append(errs, fmt.Errorf("no coherence threshold for trust tier %d", cfg.TrustTier))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("binding coordinator config: %w", errors.Join(errs...))
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	c := &Coordinator{
		principal:  cfg.Principal,
		registry:   cfg.Registry,
		health:     cfg.Health,
		handshaker: cfg.Handshaker,
		recorder:   recorder,
		estimator:  presence.New(cfg.Presence),
		clock:      cfg.Clock,
		logger:     cfg.Logger.With("component", "binding"),
		opts:       opts,
		trustTier:  cfg.TrustTier,
		generation: cfg.LastGeneration,
	}
	c.coherence.Store(math.Float64bits(opts.CoherenceInitial))
	return c, nil
}

// Run evaluates until ctx is cancelled: on a fixed cadence, and
// immediately whenever a transport changes state.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator started",
		"principal", c.principal,
		"generation", c.generation,
		"trust_tier", c.trustTier)

	ticker := c.clock.NewTicker(c.opts.EvaluateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopped")
			return nil
		case <-ticker.C:
			c.evaluate(ctx)
		case tr := <-c.health.Transitions():
			c.logger.Debug("transport transition",
				"endpoint", tr.Endpoint,
				"channel", tr.Channel,
				"to", tr.To)
			c.evaluate(ctx)
		}
	}
}

// Snapshot returns the current Binding, or false before the first
// attachment.
func (c *Coordinator) Snapshot() (Binding, bool) {
	b := c.binding.Load()
	if b == nil {
		return Binding{}, false
	}
	return *b, true
}

// Evaluation returns the most recent presence evaluation, or false if
// none has run yet. The scores slice is shared and read-only.
func (c *Coordinator) Evaluation() (presence.Evaluation, bool) {
	e := c.evaluation.Load()
	if e == nil {
		return presence.Evaluation{}, false
	}
	return *e, true
}

// LastTransaction returns the most recent migration attempt, or false
// if none has been proposed.
func (c *Coordinator) LastTransaction() (Transaction, bool) {
	t := c.transaction.Load()
	if t == nil {
		return Transaction{}, false
	}
	return *t, true
}

// SetCoherence records the identity plane's session coherence score.
func (c *Coordinator) SetCoherence(score float64) error {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return fmt.Errorf("coherence score %v out of range [0, 1]", score)
	}
	c.coherence.Store(math.Float64bits(score))
	return nil
}

// Coherence returns the latest identity coherence score.
func (c *Coordinator) Coherence() float64 {
	return math.Float64frombits(c.coherence.Load())
}

// evaluate runs one decision pass. Only the Run goroutine calls it.
func (c *Coordinator) evaluate(ctx context.Context) {
	now := c.clock.Now()
	records := c.health.SnapshotAll()
	eval := c.estimator.Evaluate(now, records)
	c.evaluation.Store(&eval)

	current := c.binding.Load()
	switch {
	case current == nil:
		c.tryAttach(ctx, eval, records, now)
		return
	case current.State == StateAwaitingReconnect:
		c.tryRecover(ctx, current, eval, records, now)
		return
	}

	// Bound. Keep the session carried: if the active transport went
	// dark, swap to the best surviving one on the same endpoint.
	boundRecords := records[current.Endpoint]
	if rec, ok := boundRecords[current.Transport]; !ok || rec.State != heartbeat.StateUp {
		swapped, ok := c.trySwapTransport(current, boundRecords, now)
		if !ok {
			// The bound endpoint is dark on every channel. Move the
			// session immediately if anywhere else is live; otherwise
			// hold the binding and wait.
			if eval.Nearest != nil && eval.Nearest.Endpoint != current.Endpoint {
				if c.migrate(ctx, current, eval.Nearest.Endpoint, "bound endpoint unreachable") {
					return
				}
				current = c.binding.Load()
			}
			c.suspend(current, now)
			return
		}
		current = swapped
	}

	// Migration evaluation: a sufficiently better endpoint must hold
	// its lead for the dwell window before it becomes a candidate.
	if target, ok := c.estimator.Candidate(eval, current.Endpoint); ok {
		c.migrate(ctx, current, target, "presence shifted")
	}
}

// tryAttach performs the first attachment once anything is live.
func (c *Coordinator) tryAttach(ctx context.Context, eval presence.Evaluation, records map[ref.EndpointID]map[registry.Channel]heartbeat.Record, now time.Time) {
	if eval.Nearest == nil {
		return
	}
	target := eval.Nearest.Endpoint
	reg, ok := c.liveRegistration(target, records[target])
	if !ok {
		return
	}

	generation := c.generation + 1
	if _, err := c.handshake(ctx, reg, generation); err != nil {
		c.logger.Warn("attach handshake failed",
			"endpoint", target,
			"channel", reg.Channel,
			"error", err)
		return
	}

	if err := c.recorder.Append(journal.Record{
		Time:       now,
		Event:      journal.EventAttach,
		Principal:  c.principal,
		Endpoint:   target,
		Transport:  reg.Channel,
		Generation: generation,
	}); err != nil {
		c.logger.Error("recording attachment", "error", err)
		return
	}

	c.generation = generation
	c.publish(&Binding{
		Principal:  c.principal,
		Endpoint:   target,
		Transport:  reg.Channel,
		Generation: generation,
		State:      StateBound,
		Since:      now,
	})
	c.logger.Info("attached",
		"endpoint", target,
		"transport", reg.Channel,
		"generation", generation)
}

// trySwapTransport moves the session to the best UP channel on the
// bound endpoint. Same endpoint, same generation — not a migration.
func (c *Coordinator) trySwapTransport(current *Binding, boundRecords map[registry.Channel]heartbeat.Record, now time.Time) (*Binding, bool) {
	ordered, err := c.registry.List(current.Endpoint)
	if err != nil {
		return nil, false
	}
	ch, ok := presence.BestTransport(ordered, boundRecords)
	if !ok {
		return nil, false
	}

	next := *current
	next.Transport = ch
	c.publish(&next)
	if err := c.recorder.Append(journal.Record{
		Time:       now,
		Event:      journal.EventTransport,
		Principal:  c.principal,
		Endpoint:   current.Endpoint,
		Transport:  ch,
		Generation: current.Generation,
		Reason:     fmt.Sprintf("%s down", current.Transport),
	}); err != nil {
		c.logger.Error("recording transport swap", "error", err)
	}
	c.logger.Info("transport swapped",
		"endpoint", current.Endpoint,
		"from", current.Transport,
		"to", ch,
		"generation", current.Generation)
	return &next, true
}

// suspend retains the binding while the endpoint is unreachable.
func (c *Coordinator) suspend(current *Binding, now time.Time) {
	next := *current
	next.State = StateAwaitingReconnect
	c.publish(&next)
	if err := c.recorder.Append(journal.Record{
		Time:       now,
		Event:      journal.EventSuspend,
		Principal:  c.principal,
		Endpoint:   current.Endpoint,
		Transport:  current.Transport,
		Generation: current.Generation,
	}); err != nil {
		c.logger.Error("recording suspension", "error", err)
	}
	c.logger.Warn("awaiting reconnect",
		"endpoint", current.Endpoint,
		"generation", current.Generation)
}

// tryRecover leaves AWAITING_RECONNECT: back to the same endpoint
// without ceremony the moment it answers, or to a different live
// endpoint through the full migration path.
func (c *Coordinator) tryRecover(ctx context.Context, current *Binding, eval presence.Evaluation, records map[ref.EndpointID]map[registry.Channel]heartbeat.Record, now time.Time) {
	if ordered, err := c.registry.List(current.Endpoint); err == nil {
		if ch, ok := presence.BestTransport(ordered, records[current.Endpoint]); ok {
			next := *current
			next.State = StateBound
			next.Transport = ch
			c.publish(&next)
			if err := c.recorder.Append(journal.Record{
				Time:       now,
				Event:      journal.EventResume,
				Principal:  c.principal,
				Endpoint:   current.Endpoint,
				Transport:  ch,
				Generation: current.Generation,
			}); err != nil {
				c.logger.Error("recording resume", "error", err)
			}
			c.logger.Info("endpoint recovered",
				"endpoint", current.Endpoint,
				"transport", ch,
				"generation", current.Generation)
			return
		}
	}

	if eval.Nearest != nil && eval.Nearest.Endpoint != current.Endpoint {
		c.migrate(ctx, current, eval.Nearest.Endpoint, "bound endpoint unreachable")
	}
}

// migrate runs the two-phase move to target. Reports whether the
// migration committed; on any failure the prior binding is republished
// unchanged.
func (c *Coordinator) migrate(ctx context.Context, prior *Binding, target ref.EndpointID, cause string) bool {
	now := c.clock.Now()

	reg, ok := c.liveRegistration(target, c.health.Snapshot(target))
	if !ok {
		c.logger.Debug("migration target has no live transport", "target", target)
		return false
	}

	threshold := c.opts.CoherenceThresholds[c.trustTier]
	if score := c.Coherence(); score < threshold {
		c.logger.Warn("migration refused",
			"target", target,
			"coherence", score,
			"threshold", threshold,
			"error", ErrCoherenceBelowThreshold)
		return false
	}

	// Propose. The prior endpoint keeps carrying the session while the
	// handshake is in flight.
	proposedGeneration := c.generation + 1
	tx := Transaction{
		From:               prior.Endpoint,
		To:                 target,
		Transport:          reg.Channel,
		ProposedGeneration: proposedGeneration,
		Phase:              PhaseProposed,
		StartedAt:          now,
	}
	proposed := tx
	c.transaction.Store(&proposed)

	migrating := *prior
	migrating.State = StateMigrating
	c.publish(&migrating)
	c.logger.Info("migration proposed",
		"from", prior.Endpoint,
		"to", target,
		"transport", reg.Channel,
		"generation", proposedGeneration,
		"cause", cause)

	if _, err := c.handshake(ctx, reg, proposedGeneration); err != nil {
		c.abort(prior, tx, fmt.Sprintf("handshake: %v", err))
		return false
	}

	// Re-check against evidence gathered while the handshake ran. A
	// proposal that no longer holds is abandoned, not committed.
	records := c.health.SnapshotAll()
	freshEval := c.estimator.Evaluate(c.clock.Now(), records)
	c.evaluation.Store(&freshEval)

	ordered, err := c.registry.List(target)
	if err != nil {
		c.abort(prior, tx, fmt.Sprintf("target deregistered: %v", err))
		return false
	}
	ch, ok := presence.BestTransport(ordered, records[target])
	if !ok {
		c.abort(prior, tx, "target lost every transport during handshake")
		return false
	}
	if freshEval.Nearest == nil || freshEval.Nearest.Endpoint != target {
		c.abort(prior, tx, "superseded by fresher presence evidence")
		return false
	}

	// Commit: the journal entry lands first, then one atomic publish.
	committed := c.clock.Now()
	if err := c.recorder.Append(journal.Record{
		Time:          committed,
		Event:         journal.EventCommit,
		Principal:     c.principal,
		Endpoint:      target,
		PriorEndpoint: prior.Endpoint,
		Transport:     ch,
		Generation:    proposedGeneration,
	}); err != nil {
		c.abort(prior, tx, fmt.Sprintf("recording commit: %v", err))
		return false
	}

	c.generation = proposedGeneration
	c.publish(&Binding{
		Principal:  c.principal,
		Endpoint:   target,
		Transport:  ch,
		Generation: proposedGeneration,
		State:      StateBound,
		Since:      committed,
	})
	tx.Phase = PhaseCommitted
	tx.FinishedAt = committed
	c.transaction.Store(&tx)
	c.logger.Info("migration committed",
		"from", prior.Endpoint,
		"to", target,
		"transport", ch,
		"generation", proposedGeneration)
	return true
}

// abort republishes the prior binding exactly as it was.
func (c *Coordinator) abort(prior *Binding, tx Transaction, reason string) {
	c.publish(prior)
	tx.Phase = PhaseAborted
	tx.FinishedAt = c.clock.Now()
	tx.Reason = reason
	c.transaction.Store(&tx)
	if err := c.recorder.Append(journal.Record{
		Time:          tx.FinishedAt,
		Event:         journal.EventAbort,
		Principal:     c.principal,
		Endpoint:      tx.To,
		PriorEndpoint: tx.From,
		Reason:        reason,
	}); err != nil {
		c.logger.Error("recording abort", "error", err)
	}
	c.logger.Warn("migration aborted",
		"from", tx.From,
		"to", tx.To,
		"reason", reason)
}

// handshake runs the readiness exchange, folding a refusal into the
// returned error.
func (c *Coordinator) handshake(ctx context.Context, reg registry.Registration, generation uint64) (wire.HandshakeResponse, error) {
	hctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	resp, err := c.handshaker.Handshake(hctx, reg, wire.HandshakeRequest{
		Principal:           c.principal,
		ProposingGeneration: generation,
	})
	if err != nil {
		return wire.HandshakeResponse{}, err
	}
	if !resp.Accept {
		return resp, fmt.Errorf("%w: %s", ErrHandshakeRefused, resp.Reason)
	}
	return resp, nil
}

// liveRegistration picks the best UP channel's registration for an
// endpoint.
func (c *Coordinator) liveRegistration(endpoint ref.EndpointID, records map[registry.Channel]heartbeat.Record) (registry.Registration, bool) {
	ordered, err := c.registry.List(endpoint)
	if err != nil {
		return registry.Registration{}, false
	}
	ch, ok := presence.BestTransport(ordered, records)
	if !ok {
		return registry.Registration{}, false
	}
	for _, reg := range ordered {
		if reg.Channel == ch {
			return reg, true
		}
	}
	return registry.Registration{}, false
}

func (c *Coordinator) publish(b *Binding) {
	c.binding.Store(b)
}

type nopRecorder struct{}

func (nopRecorder) Append(journal.Record) error { return nil }
