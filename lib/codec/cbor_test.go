// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestDeterministicEncoding(t *testing.T) {
	// Journal digests depend on equal values encoding to equal bytes.
	value := map[string]any{"endpoint": "hall-panel", "generation": 7, "up": true}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("same value encoded differently:\n%x\n%x", first, second)
	}
}

func TestAnyTargetDecodesToStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": 1}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := outer["outer"].(map[string]any); !ok {
		t.Errorf("nested value type = %T, want map[string]any", outer["outer"])
	}
}

// badgeID exercises the TextMarshaler configuration the validated
// identifier types rely on.
type badgeID string

func (b badgeID) MarshalText() ([]byte, error)  { return []byte(b), nil }
func (b *badgeID) UnmarshalText(p []byte) error { *b = badgeID(p); return nil }

func TestTextMarshalerEncodesAsString(t *testing.T) {
	type carrier struct {
		Badge badgeID `cbor:"badge"`
	}
	data, err := Marshal(carrier{Badge: "lobby-7"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded carrier
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Badge != "lobby-7" {
		t.Errorf("Badge = %q, want %q", decoded.Badge, "lobby-7")
	}

	// A text-marshaled value is a CBOR text string: major type 3.
	var asString struct {
		Badge string `cbor:"badge"`
	}
	if err := Unmarshal(data, &asString); err != nil {
		t.Fatalf("decoding badge as plain string: %v", err)
	}
	if asString.Badge != "lobby-7" {
		t.Errorf("badge as string = %q, want %q", asString.Badge, "lobby-7")
	}
}
