// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/tether-foundation/tether/lib/journal"
	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/registry"
)

// Duration wraps time.Duration so YAML can say "750ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler via time.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration notation.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the tether daemon configuration.
type Config struct {
	// Principal is the session this daemon tracks, e.g. "person/ada".
	// Required; one daemon hosts exactly one principal.
	Principal string `yaml:"principal"`

	// TrustTier selects the coherence threshold for migrations.
	// 0 is the most trusted deployment class.
	TrustTier int `yaml:"trust_tier"`

	// StatusSocket is the unix socket path for the status interface.
	StatusSocket string `yaml:"status_socket"`

	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Presence  PresenceConfig  `yaml:"presence"`
	Migration MigrationConfig `yaml:"migration"`
	Journal   JournalConfig   `yaml:"journal"`

	// Endpoints seeds the registry at startup. Further endpoints
	// arrive through the status socket.
	Endpoints []EndpointSeed `yaml:"endpoints"`

	// EndpointsFile optionally names a JSONC document holding more
	// seeds in the same shape.
	EndpointsFile string `yaml:"endpoints_file"`

	WebRTC WebRTCConfig `yaml:"webrtc"`
}

// HeartbeatConfig tunes the probe engine.
type HeartbeatConfig struct {
	// Interval between probes on every endpoint×channel pair.
	Interval Duration `yaml:"interval"`

	// AckTimeout is the base ack deadline; each channel scales it by
	// its catalog latency class.
	AckTimeout Duration `yaml:"ack_timeout"`

	// MissThreshold is how many consecutive misses mark a pair DOWN.
	MissThreshold int `yaml:"miss_threshold"`
}

// PresenceConfig tunes the presence estimator.
type PresenceConfig struct {
	// RecencyWindow is the ack age at which recency decays to zero.
	RecencyWindow Duration `yaml:"recency_window"`

	// UpCountCap is where the live-channel diversity term saturates.
	UpCountCap int `yaml:"up_count_cap"`

	// Weights splits the score across its three terms; they must sum
	// to 1 so scores stay in [0, 1].
	Weights WeightsConfig `yaml:"weights"`
}

// WeightsConfig holds the presence score weights.
type WeightsConfig struct {
	UpCount    float64 `yaml:"up_count"`
	Confidence float64 `yaml:"confidence"`
	Recency    float64 `yaml:"recency"`
}

// MigrationConfig tunes the binding coordinator.
type MigrationConfig struct {
	// EvaluateInterval is the periodic decision cadence; transport
	// transitions wake the loop sooner.
	EvaluateInterval Duration `yaml:"evaluate_interval"`

	// DwellWindow is how long a better endpoint must hold its lead
	// before migration is proposed.
	DwellWindow Duration `yaml:"dwell_window"`

	// MinDelta is the score lead required throughout the dwell.
	MinDelta float64 `yaml:"min_delta"`

	// HandshakeTimeout bounds the migration readiness exchange.
	HandshakeTimeout Duration `yaml:"handshake_timeout"`

	// CoherenceInitial is assumed until the identity plane reports.
	CoherenceInitial float64 `yaml:"coherence_initial"`

	// CoherenceThresholds maps trust tier to the minimum coherence
	// score that permits migration.
	CoherenceThresholds map[int]float64 `yaml:"coherence_thresholds"`
}

// JournalConfig tunes binding event persistence.
type JournalConfig struct {
	// Path is the journal directory.
	Path string `yaml:"path"`

	// RotateBytes is the live segment size that triggers rotation.
	RotateBytes int64 `yaml:"rotate_bytes"`

	// ArchiveCompression names the codec for rotated segments:
	// "zstd", "lz4", or "none".
	ArchiveCompression string `yaml:"archive_compression"`
}

// EndpointSeed registers one endpoint's channels at startup.
type EndpointSeed struct {
	ID       string        `yaml:"id" json:"id"`
	Channels []ChannelSeed `yaml:"channels" json:"channels"`
}

// ChannelSeed is one channel an endpoint answers on.
type ChannelSeed struct {
	Channel string `yaml:"channel" json:"channel"`
	Address string `yaml:"address" json:"address"`
}

// WebRTCConfig configures the rendezvous transport.
type WebRTCConfig struct {
	// STUNServers are handed to pion for candidate gathering.
	STUNServers []string `yaml:"stun_servers"`

	// SignalAddress is the TCP signaling rendezvous. Required only
	// when a registered channel is of the rendezvous kind.
	SignalAddress string `yaml:"signal_address"`
}

// Default returns a fully-populated configuration. Only Principal must
// be filled in before it validates.
func Default() *Config {
	return &Config{
		TrustTier:    2,
		StatusSocket: "/run/tether/status.sock",
		Heartbeat: HeartbeatConfig{
			Interval:      Duration(2 * time.Second),
			AckTimeout:    Duration(750 * time.Millisecond),
			MissThreshold: 3,
		},
		Presence: PresenceConfig{
			RecencyWindow: Duration(30 * time.Second),
			UpCountCap:    3,
			Weights: WeightsConfig{
				UpCount:    0.20,
				Confidence: 0.50,
				Recency:    0.30,
			},
		},
		Migration: MigrationConfig{
			EvaluateInterval: Duration(5 * time.Second),
			DwellWindow:      Duration(10 * time.Second),
			MinDelta:         0.15,
			HandshakeTimeout: Duration(3 * time.Second),
			CoherenceInitial: 1.0,
			CoherenceThresholds: map[int]float64{
				0: 0.90,
				1: 0.80,
				2: 0.70,
				3: 0.60,
			},
		},
		Journal: JournalConfig{
			Path:               "/var/lib/tether/journal",
			RotateBytes:        8 << 20,
			ArchiveCompression: "zstd",
		},
	}
}

// Load reads path over the defaults. The file is the single source of
// truth; nothing else overrides it. Call Validate before wiring.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration, returning every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Principal == "" {
		errs = append(errs, errors.New("principal is required"))
	} else if _, err := ref.ParsePrincipalID(c.Principal); err != nil {
		errs = append(errs, fmt.Errorf("principal: %w", err))
	}
	if c.TrustTier < 0 {
		errs = append(errs, fmt.Errorf("trust_tier %d is negative", c.TrustTier))
	}
	if c.StatusSocket == "" {
		errs = append(errs, errors.New("status_socket is required"))
	}

	if c.Heartbeat.Interval <= 0 {
		errs = append(errs, errors.New("heartbeat.interval must be positive"))
	}
	if c.Heartbeat.AckTimeout <= 0 {
		errs = append(errs, errors.New("heartbeat.ack_timeout must be positive"))
	}
	if c.Heartbeat.MissThreshold < 1 {
		errs = append(errs, errors.New("heartbeat.miss_threshold must be at least 1"))
	}

	if c.Presence.RecencyWindow <= 0 {
		errs = append(errs, errors.New("presence.recency_window must be positive"))
	}
	if c.Presence.UpCountCap < 1 {
		errs = append(errs, errors.New("presence.up_count_cap must be at least 1"))
	}
	w := c.Presence.Weights
	if w.UpCount < 0 || w.Confidence < 0 || w.Recency < 0 {
		errs = append(errs, errors.New("presence.weights must not be negative"))
	} else if sum := w.UpCount + w.Confidence + w.Recency; math.Abs(sum-1) > 1e-9 {
		errs = append(errs, fmt.Errorf("presence.weights sum to %v, want 1", sum))
	}

	if c.Migration.EvaluateInterval <= 0 {
		errs = append(errs, errors.New("migration.evaluate_interval must be positive"))
	}
	if c.Migration.DwellWindow <= 0 {
		errs = append(errs, errors.New("migration.dwell_window must be positive"))
	}
	if c.Migration.MinDelta <= 0 || c.Migration.MinDelta > 1 {
		errs = append(errs, fmt.Errorf("migration.min_delta %v out of range (0, 1]", c.Migration.MinDelta))
	}
	if c.Migration.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("migration.handshake_timeout must be positive"))
	}
	if s := c.Migration.CoherenceInitial; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("migration.coherence_initial %v out of range [0, 1]", s))
	}
	for tier, threshold := range c.Migration.CoherenceThresholds {
		if threshold < 0 || threshold > 1 {
			errs = append(errs, fmt.Errorf("migration.coherence_thresholds[%d] = %v out of range [0, 1]", tier, threshold))
		}
	}
	if _, ok := c.Migration.CoherenceThresholds[c.TrustTier]; !ok {
		errs = append(errs, fmt.Errorf("no coherence threshold for trust tier %d", c.TrustTier))
	}

	if c.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path is required"))
	}
	if c.Journal.RotateBytes <= 0 {
		errs = append(errs, errors.New("journal.rotate_bytes must be positive"))
	}
	if _, err := journal.ParseCompression(c.Journal.ArchiveCompression); err != nil {
		errs = append(errs, fmt.Errorf("journal.archive_compression: %w", err))
	}

	for _, seed := range c.Endpoints {
		if err := seed.validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Seeds returns the registry seeds: the inline list plus, when
// endpoints_file is set, the validated contents of that document.
func (c *Config) Seeds() ([]EndpointSeed, error) {
	seeds := append([]EndpointSeed(nil), c.Endpoints...)
	if c.EndpointsFile == "" {
		return seeds, nil
	}
	fromFile, err := ReadEndpointsFile(c.EndpointsFile)
	if err != nil {
		return nil, err
	}
	return append(seeds, fromFile...), nil
}

// ReadEndpointsFile parses a JSONC endpoint seed document: a top-level
// array of {id, channels: [{channel, address}]} objects. The format is
// JSON extended with // line comments, /* block comments */, and
// trailing commas.
func ReadEndpointsFile(path string) ([]EndpointSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var seeds []EndpointSeed
	if err := json.Unmarshal(jsonc.ToJSON(data), &seeds); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	var errs []error
	for _, seed := range seeds {
		if err := seed.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s: %w", path, errors.Join(errs...))
	}
	return seeds, nil
}

func (s EndpointSeed) validate() error {
	var errs []error
	if _, err := ref.ParseEndpointID(s.ID); err != nil {
		errs = append(errs, fmt.Errorf("endpoint id %q: %w", s.ID, err))
	}
	if len(s.Channels) == 0 {
		errs = append(errs, fmt.Errorf("endpoint %q lists no channels", s.ID))
	}
	for _, ch := range s.Channels {
		if _, err := registry.ParseChannel(ch.Channel); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %q: %w", s.ID, err))
		}
		if ch.Address == "" {
			errs = append(errs, fmt.Errorf("endpoint %q channel %q: address is required", s.ID, ch.Channel))
		}
	}
	return errors.Join(errs...)
}
