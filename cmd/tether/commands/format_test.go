// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"seconds", 42 * time.Second, "42s"},
		{"minutes", 3*time.Minute + 5*time.Second, "3m 5s"},
		{"hours", 2*time.Hour + 10*time.Minute, "2h 10m 0s"},
		{"days", 49*time.Hour + time.Minute, "2d 1h 1m 0s"},
		{"negative clamps", -5 * time.Second, "0s"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := formatDuration(c.duration); got != c.want {
				t.Errorf("formatDuration(%v) = %q, want %q", c.duration, got, c.want)
			}
		})
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		then time.Time
		want string
	}{
		{"zero time", time.Time{}, "-"},
		{"seconds", now.Add(-9 * time.Second), "9s"},
		{"minutes", now.Add(-5 * time.Minute), "5m"},
		{"hours", now.Add(-3 * time.Hour), "3h"},
		{"days", now.Add(-50 * time.Hour), "2d"},
		{"future clamps", now.Add(time.Minute), "0s"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := formatAge(now, c.then); got != c.want {
				t.Errorf("formatAge(%v) = %q, want %q", c.then, got, c.want)
			}
		})
	}
}

func TestFormatLatency(t *testing.T) {
	cases := []struct {
		name    string
		latency time.Duration
		want    string
	}{
		{"unmeasured", 0, "-"},
		{"sub-millisecond", 250 * time.Microsecond, "250µs"},
		{"milliseconds", 42 * time.Millisecond, "42ms"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := formatLatency(c.latency); got != c.want {
				t.Errorf("formatLatency(%v) = %q, want %q", c.latency, got, c.want)
			}
		})
	}
}

func TestRootTreeWellFormed(t *testing.T) {
	root := Root()
	seen := map[string]bool{}
	for _, sub := range root.Subcommands {
		if seen[sub.Name] {
			t.Errorf("duplicate command %q", sub.Name)
		}
		seen[sub.Name] = true
		if sub.Summary == "" {
			t.Errorf("command %q has no summary", sub.Name)
		}
		if sub.Run == nil && len(sub.Subcommands) == 0 {
			t.Errorf("command %q has neither Run nor subcommands", sub.Name)
		}
	}
	for _, want := range []string{"status", "health", "endpoints", "history", "endpoint", "coherence", "version"} {
		if !seen[want] {
			t.Errorf("root tree missing %q", want)
		}
	}
}
