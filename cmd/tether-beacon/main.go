// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// tether-beacon is the endpoint-side agent: it listens on every
// channel the endpoint supports, acks heartbeat probes, and answers
// migration readiness handshakes. A beacon can additionally host the
// site's signaling rendezvous for brokered channels.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/lib/version"
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
	flag.StringVar(&configPath, "config", "", "path to the beacon configuration file (required)")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("tether-beacon %s\n", version.Info())
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

	cfg, err := Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config %s: %w", configPath, err)
	}
	endpoint, err := ref.ParseEndpointID(cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}

	handler := NewHandler(cfg, endpoint, clock.Real(), logger)

	// Collect every serving goroutine's exit; the first error after
	// shutdown is reported, listener close noise is not.
	var wg sync.WaitGroup
	errs := make(chan error, len(cfg.Channels)+2)

	// Hosting the rendezvous comes first so the local WebRTC transport
	// can reach it during startup.
	if cfg.SignalListen != "" {
		signalServer, err := transport.NewSignalServer(cfg.SignalListen, logger)
		if err != nil {
			return fmt.Errorf("starting signal server: %w", err)
		}
		defer signalServer.Close()
		logger.Info("signal server listening", "address", signalServer.Address())

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := signalServer.Serve(ctx); err != nil {
				errs <- fmt.Errorf("signal server: %w", err)
			}
		}()
	}

	// One WebRTC transport serves every brokered channel; it is
	// reachable under the endpoint id at the rendezvous.
	var rtc *transport.WebRTCTransport
	served := 0
	for _, ch := range cfg.Channels {
		channel, err := registry.ParseChannel(ch.Channel)
		if err != nil {
			return err
		}
		desc, _ := registry.Describe(channel)

		if desc.Kind == registry.KindBrokered {
			if rtc == nil {
				signalAddress := cfg.WebRTC.SignalAddress
				if signalAddress == "" {
					signalAddress = cfg.SignalListen
				}
				rtc = transport.NewWebRTCTransport(
					transport.NewTCPSignaler(signalAddress),
					cfg.Endpoint,
					transport.ICEConfigFromSTUN(cfg.WebRTC.STUNServers),
					logger,
				)
				defer rtc.Close()

				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := rtc.Serve(ctx, handler); err != nil {
						errs <- fmt.Errorf("webrtc transport: %w", err)
					}
				}()
			}
			logger.Info("channel served", "channel", channel, "via", "rendezvous", "address", rtc.Address())
			served++
			continue
		}

		listener, err := transport.NewTCPListener(ch.Listen)
		if err != nil {
			return fmt.Errorf("listening on %s for %s: %w", ch.Listen, channel, err)
		}
		defer listener.Close()
		logger.Info("channel served", "channel", channel, "address", listener.Address())
		served++

		wg.Add(1)
		go func(channel registry.Channel, listener *transport.TCPListener) {
			defer wg.Done()
			if err := listener.Serve(ctx, handler); err != nil {
				errs <- fmt.Errorf("listener for %s: %w", channel, err)
			}
		}(channel, listener)
	}

	logger.Info("beacon running",
		"version", version.Short(),
		"endpoint", cfg.Endpoint,
		"channels", served,
		"capacity", cfg.Capacity,
		"draining", cfg.Draining)

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			logger.Error("serve error", "error", err)
		}
	}
	return nil
}
