// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// EndpointID identifies a physical endpoint device a principal can be
// bound to: a wall panel, a vehicle console, a desk terminal.
// Hierarchical lowercase path form, e.g. "hall/panel-2" or "den/tv".
type EndpointID struct{ id string }

// ParseEndpointID validates s and returns it as an EndpointID.
func ParseEndpointID(s string) (EndpointID, error) {
	if err := validateID(s, "endpoint id"); err != nil {
		return EndpointID{}, err
	}
	return EndpointID{id: s}, nil
}

// MustEndpointID is ParseEndpointID that panics on error. For tests
// and package-level literals only.
func MustEndpointID(s string) EndpointID {
	e, err := ParseEndpointID(s)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the canonical path form.
func (e EndpointID) String() string { return e.id }

// IsZero reports whether e is the zero (unset) reference.
func (e EndpointID) IsZero() bool { return e.id == "" }

// Less orders endpoints lexically by their canonical form. Presence
// ties resolve on this ordering so evaluation stays deterministic.
func (e EndpointID) Less(other EndpointID) bool { return e.id < other.id }

// MarshalText implements encoding.TextMarshaler.
func (e EndpointID) MarshalText() ([]byte, error) { return []byte(e.id), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// produces the zero value.
func (e *EndpointID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*e = EndpointID{}
		return nil
	}
	parsed, err := ParseEndpointID(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal EndpointID: %w", err)
	}
	*e = parsed
	return nil
}
