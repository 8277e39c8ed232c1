// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"strings"
	"testing"
)

func TestParsePrincipalIDValid(t *testing.T) {
	tests := []string{
		"person/ada",
		"crew/ops/lena",
		"guest-42",
		"person/ada.mobile",
		"a",
	}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			p, err := ParsePrincipalID(input)
			if err != nil {
				t.Fatalf("ParsePrincipalID(%q): %v", input, err)
			}
			if got := p.String(); got != input {
				t.Errorf("String() = %q, want %q", got, input)
			}
			if p.IsZero() {
				t.Error("IsZero() = true for a parsed id")
			}
		})
	}
}

func TestParseIDInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string // substring of the error
	}{
		{"empty", "", "is empty"},
		{"uppercase", "Person/Ada", "invalid character"},
		{"space", "person ada", "invalid character"},
		{"leading slash", "/person/ada", "must not start with /"},
		{"trailing slash", "person/ada/", "must not end with /"},
		{"double slash", "person//ada", "empty segment"},
		{"traversal", "person/../etc", "'..' segment"},
		{"hidden segment", "person/.ada", "starts with '.'"},
		{"too long", strings.Repeat("a", maxIDLength+1), "maximum is"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePrincipalID(tt.input); err == nil {
				t.Errorf("ParsePrincipalID(%q) succeeded, want error containing %q", tt.input, tt.want)
			} else if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
			if _, err := ParseEndpointID(tt.input); err == nil {
				t.Errorf("ParseEndpointID(%q) succeeded, want error containing %q", tt.input, tt.want)
			}
		})
	}
}

func TestEndpointIDLess(t *testing.T) {
	a := MustEndpointID("den/tv")
	b := MustEndpointID("hall/panel-2")
	if !a.Less(b) {
		t.Errorf("%q.Less(%q) = false, want true", a, b)
	}
	if b.Less(a) {
		t.Errorf("%q.Less(%q) = true, want false", b, a)
	}
	if a.Less(a) {
		t.Error("id compares Less than itself")
	}
}

func TestTextRoundTrip(t *testing.T) {
	original := MustEndpointID("hall/panel-2")
	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var decoded EndpointID
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip = %q, want %q", decoded, original)
	}

	var zero EndpointID
	if err := zero.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(nil): %v", err)
	}
	if !zero.IsZero() {
		t.Error("UnmarshalText(nil) did not produce the zero value")
	}
}

func TestUnmarshalTextRejectsInvalid(t *testing.T) {
	var p PrincipalID
	if err := p.UnmarshalText([]byte("Not Valid")); err == nil {
		t.Error("UnmarshalText accepted an invalid id")
	}
	if !p.IsZero() {
		t.Error("failed UnmarshalText left a non-zero value")
	}
}
