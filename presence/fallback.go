// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"github.com/tether-foundation/tether/heartbeat"
	"github.com/tether-foundation/tether/registry"
)

// BestTransport picks the channel that should carry the session to one
// endpoint: the highest-priority registration whose pair is currently
// UP. The ordered slice comes from Registry.List (ascending priority).
// Returns false when nothing is live — the caller decides what an
// unreachable endpoint means.
//
// Pure function over its inputs. Presence scores never enter into it:
// carry preference is the catalog's fixed priority order, full stop.
func BestTransport(ordered []registry.Registration, records map[registry.Channel]heartbeat.Record) (registry.Channel, bool) {
	for _, reg := range ordered {
		if rec, ok := records[reg.Channel]; ok && rec.State == heartbeat.StateUp {
			return reg.Channel, true
		}
	}
	return "", false
}
