// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tether-foundation/tether/lib/config"
	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/registry"
)

// Config is the beacon's YAML configuration: which endpoint this
// beacon answers for, which channels it listens on, and its session
// hosting policy.
type Config struct {
	// Endpoint is this beacon's endpoint id, e.g. "hall/panel-2".
	// Probes addressed to any other endpoint are refused.
	Endpoint string `yaml:"endpoint"`

	// Capacity is the maximum number of distinct principals this
	// endpoint will host at once. Zero means unlimited.
	Capacity int `yaml:"capacity"`

	// Draining refuses new migration handshakes while still answering
	// heartbeats, so coordinators steer sessions elsewhere before the
	// endpoint goes down for maintenance.
	Draining bool `yaml:"draining"`

	// SessionTTL expires a hosted principal that has not renewed its
	// handshake, freeing capacity. Migrations away do not notify the
	// old endpoint; expiry is how its slot comes back.
	SessionTTL config.Duration `yaml:"session_ttl"`

	// Channels are the transport listeners this beacon serves.
	Channels []ChannelConfig `yaml:"channels"`

	// SignalListen, when set, additionally hosts the TCP signaling
	// rendezvous service on this address for the site's brokered
	// channels.
	SignalListen string `yaml:"signal_listen"`

	// WebRTC configures the brokered-channel transport. SignalAddress
	// is required when any configured channel is brokered.
	WebRTC config.WebRTCConfig `yaml:"webrtc"`
}

// ChannelConfig is one served channel.
type ChannelConfig struct {
	// Channel names a catalog channel.
	Channel string `yaml:"channel"`

	// Listen is the bind address for directly dialable channels.
	// Brokered channels ignore it; they are reached through the
	// rendezvous under the beacon's endpoint id.
	Listen string `yaml:"listen"`

	// Quality is the static link-quality reading reported in probe
	// acks, in [0, 1]. A real deployment would read the radio; the
	// beacon reports a configured figure.
	Quality float64 `yaml:"quality"`
}

// Default returns a configuration with every optional field at its
// default. Endpoint and Channels must still be supplied.
func Default() *Config {
	return &Config{
		SessionTTL: config.Duration(5 * time.Minute),
	}
}

// Load reads path over Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading beacon config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing beacon config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration, joining every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	} else if _, err := ref.ParseEndpointID(c.Endpoint); err != nil {
		errs = append(errs, err)
	}
	if c.Capacity < 0 {
		errs = append(errs, fmt.Errorf("capacity must not be negative, got %d", c.Capacity))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session_ttl must be positive"))
	}
	if len(c.Channels) == 0 {
		errs = append(errs, errors.New("at least one channel is required"))
	}

	seen := make(map[registry.Channel]bool, len(c.Channels))
	needsSignaling := false
	for i, ch := range c.Channels {
		channel, err := registry.ParseChannel(ch.Channel)
		if err != nil {
			errs = append(errs, fmt.Errorf("channels[%d]: %w", i, err))
			continue
		}
		if seen[channel] {
			errs = append(errs, fmt.Errorf("channels[%d]: duplicate channel %s", i, channel))
		}
		seen[channel] = true

		desc, _ := registry.Describe(channel)
		if desc.Kind == registry.KindBrokered {
			needsSignaling = true
		} else if ch.Listen == "" {
			errs = append(errs, fmt.Errorf("channels[%d]: %s requires a listen address", i, channel))
		}
		if ch.Quality < 0 || ch.Quality > 1 {
			errs = append(errs, fmt.Errorf("channels[%d]: quality must be in [0, 1], got %g", i, ch.Quality))
		}
	}

	if needsSignaling && c.WebRTC.SignalAddress == "" && c.SignalListen == "" {
		errs = append(errs, errors.New("brokered channels require webrtc.signal_address or signal_listen"))
	}

	return errors.Join(errs...)
}
