// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// PrincipalID identifies a mobile principal — the live session that
// follows a person across endpoints. Hierarchical lowercase path form,
// e.g. "person/ada" or "crew/ops/lena".
type PrincipalID struct{ id string }

// ParsePrincipalID validates s and returns it as a PrincipalID.
func ParsePrincipalID(s string) (PrincipalID, error) {
	if err := validateID(s, "principal id"); err != nil {
		return PrincipalID{}, err
	}
	return PrincipalID{id: s}, nil
}

// MustPrincipalID is ParsePrincipalID that panics on error. For tests
// and package-level literals only.
func MustPrincipalID(s string) PrincipalID {
	p, err := ParsePrincipalID(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the canonical path form.
func (p PrincipalID) String() string { return p.id }

// IsZero reports whether p is the zero (unset) reference.
func (p PrincipalID) IsZero() bool { return p.id == "" }

// MarshalText implements encoding.TextMarshaler; the canonical form is
// the path itself.
func (p PrincipalID) MarshalText() ([]byte, error) { return []byte(p.id), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// produces the zero value.
func (p *PrincipalID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*p = PrincipalID{}
		return nil
	}
	parsed, err := ParsePrincipalID(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal PrincipalID: %w", err)
	}
	*p = parsed
	return nil
}
