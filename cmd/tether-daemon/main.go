// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// tether-daemon tracks one principal's session: it probes every
// registered endpoint over every channel, scores presence, and moves
// the session binding as the principal moves. State is queried and
// mutated through the status socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tether-foundation/tether/binding"
	"github.com/tether-foundation/tether/heartbeat"
	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/lib/config"
	"github.com/tether-foundation/tether/lib/journal"
	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/lib/service"
	"github.com/tether-foundation/tether/lib/version"
	"github.com/tether-foundation/tether/presence"
	"github.com/tether-foundation/tether/registry"
	"github.com/tether-foundation/tether/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to the daemon configuration file (required)")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("tether-daemon %s\n", version.Info())
		return nil
	}
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config %s: %w", configPath, err)
	}

	// Validate has verified both of these already.
	principal, err := ref.ParsePrincipalID(cfg.Principal)
	if err != nil {
		return fmt.Errorf("principal: %w", err)
	}
	compression, err := journal.ParseCompression(cfg.Journal.ArchiveCompression)
	if err != nil {
		return fmt.Errorf("journal compression: %w", err)
	}

	jnl, err := journal.Open(cfg.Journal.Path, logger, journal.Options{
		RotateBytes: cfg.Journal.RotateBytes,
		Compression: compression,
	})
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer func() {
		if err := jnl.Close(); err != nil {
			logger.Error("closing journal", "error", err)
		}
	}()
	logger.Info("journal opened",
		"path", cfg.Journal.Path,
		"last_generation", jnl.LastGeneration())

	clk := clock.Real()
	reg := registry.New(clk)

	// Direct and bridge-terminated channels dial plain TCP; brokered
	// channels need the rendezvous transport, configured only when a
	// signaling address is present. A daemon without one still probes
	// its directly dialable channels.
	dialers := map[registry.Kind]transport.Dialer{
		registry.KindIP:     &transport.TCPDialer{},
		registry.KindBridge: &transport.TCPDialer{},
	}
	if cfg.WebRTC.SignalAddress != "" {
		rtc := transport.NewWebRTCTransport(
			transport.NewTCPSignaler(cfg.WebRTC.SignalAddress),
			cfg.Principal,
			transport.ICEConfigFromSTUN(cfg.WebRTC.STUNServers),
			logger,
		)
		defer rtc.Close()
		dialers[registry.KindBrokered] = rtc
		logger.Info("rendezvous transport configured",
			"signal_address", cfg.WebRTC.SignalAddress,
			"stun_servers", len(cfg.WebRTC.STUNServers))
	}
	caller := transport.NewCaller(dialers)

	engine := heartbeat.NewEngine(principal, caller, clk, logger, heartbeat.Options{
		Interval:      time.Duration(cfg.Heartbeat.Interval),
		AckTimeout:    time.Duration(cfg.Heartbeat.AckTimeout),
		MissThreshold: cfg.Heartbeat.MissThreshold,
	})
	defer engine.Close()

	coordinator, err := binding.NewCoordinator(binding.Config{
		Principal:      principal,
		Registry:       reg,
		Health:         engine,
		Handshaker:     caller,
		Recorder:       jnl,
		TrustTier:      cfg.TrustTier,
		LastGeneration: jnl.LastGeneration(),
		Presence: presence.Options{
			Weights: presence.Weights{
				UpCount:    cfg.Presence.Weights.UpCount,
				Confidence: cfg.Presence.Weights.Confidence,
				Recency:    cfg.Presence.Weights.Recency,
			},
			UpCountCap:    cfg.Presence.UpCountCap,
			RecencyWindow: time.Duration(cfg.Presence.RecencyWindow),
			DwellWindow:   time.Duration(cfg.Migration.DwellWindow),
			MinDelta:      cfg.Migration.MinDelta,
		},
		Options: binding.Options{
			EvaluateInterval:    time.Duration(cfg.Migration.EvaluateInterval),
			HandshakeTimeout:    time.Duration(cfg.Migration.HandshakeTimeout),
			CoherenceInitial:    cfg.Migration.CoherenceInitial,
			CoherenceThresholds: cfg.Migration.CoherenceThresholds,
		},
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("building coordinator: %w", err)
	}

	daemon := &Daemon{
		registry:    reg,
		engine:      engine,
		coordinator: coordinator,
		journal:     jnl,
		clock:       clk,
		principal:   principal,
		startedAt:   clk.Now(),
		logger:      logger,
	}

	seeds, err := cfg.Seeds()
	if err != nil {
		return err
	}
	pairs, err := daemon.seedEndpoints(ctx, seeds)
	if err != nil {
		return err
	}
	logger.Info("registry seeded", "endpoints", len(seeds), "pairs", pairs)

	socketServer := service.NewSocketServer(cfg.StatusSocket, logger)
	daemon.registerActions(socketServer)

	coordinatorDone := make(chan error, 1)
	go func() {
		coordinatorDone <- coordinator.Run(ctx)
	}()

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	logger.Info("daemon running",
		"version", version.Short(),
		"principal", cfg.Principal,
		"socket", cfg.StatusSocket,
		"trust_tier", cfg.TrustTier)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-socketDone; err != nil {
		logger.Error("status socket error", "error", err)
	}
	if err := <-coordinatorDone; err != nil {
		logger.Error("coordinator error", "error", err)
	}
	return nil
}

// Daemon is the runtime state shared between the wiring in run() and
// the status socket handlers.
type Daemon struct {
	registry    *registry.Registry
	engine      *heartbeat.Engine
	coordinator *binding.Coordinator
	journal     *journal.Journal
	clock       clock.Clock
	principal   ref.PrincipalID
	startedAt   time.Time
	logger      *slog.Logger
}

// registerEndpoint records one endpoint×channel registration and
// starts probing it. Config seeding and the register-endpoint action
// both come through here so a registration is never left untracked.
func (d *Daemon) registerEndpoint(ctx context.Context, endpoint ref.EndpointID, channel registry.Channel, address string) (registry.Registration, error) {
	reg, err := d.registry.Register(endpoint, channel, address)
	if err != nil {
		return registry.Registration{}, err
	}
	if err := d.engine.Track(ctx, reg); err != nil {
		return registry.Registration{}, err
	}
	return reg, nil
}

// seedEndpoints registers every configured endpoint×channel pair,
// returning how many pairs are now tracked. Probe loops start
// immediately; the first evaluation can attach as soon as acks arrive.
func (d *Daemon) seedEndpoints(ctx context.Context, seeds []config.EndpointSeed) (int, error) {
	pairs := 0
	for _, seed := range seeds {
		endpoint, err := ref.ParseEndpointID(seed.ID)
		if err != nil {
			return pairs, fmt.Errorf("seeding endpoint %q: %w", seed.ID, err)
		}
		for _, ch := range seed.Channels {
			channel, err := registry.ParseChannel(ch.Channel)
			if err != nil {
				return pairs, fmt.Errorf("seeding endpoint %q: %w", seed.ID, err)
			}
			if _, err := d.registerEndpoint(ctx, endpoint, channel, ch.Address); err != nil {
				return pairs, fmt.Errorf("seeding endpoint %q: %w", seed.ID, err)
			}
			pairs++
		}
	}
	return pairs, nil
}
