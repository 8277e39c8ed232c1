// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"time"
)

// formatDuration renders a duration as days, hours, minutes, and
// seconds, dropping leading zero units.
func formatDuration(duration time.Duration) string {
	if duration < 0 {
		duration = 0
	}
	days := int(duration.Hours()) / 24
	hours := int(duration.Hours()) % 24
	minutes := int(duration.Minutes()) % 60
	seconds := int(duration.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// formatAge renders the gap between now and then compactly for table
// cells: "3s", "2m", "1h", "4d", or "-" for a zero time.
func formatAge(now, then time.Time) string {
	if then.IsZero() {
		return "-"
	}
	age := now.Sub(then)
	switch {
	case age < 0:
		return "0s"
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours())/24)
	}
}

// formatLatency renders a round-trip time, or "-" when none has been
// measured.
func formatLatency(latency time.Duration) string {
	if latency <= 0 {
		return "-"
	}
	if latency < time.Millisecond {
		return fmt.Sprintf("%dµs", latency.Microseconds())
	}
	return fmt.Sprintf("%dms", latency.Milliseconds())
}
