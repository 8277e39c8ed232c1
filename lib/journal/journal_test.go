// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tether-foundation/tether/lib/ref"
	"github.com/tether-foundation/tether/registry"
)

var (
	testPrincipal = ref.MustPrincipalID("person/ada")
	testHall      = ref.MustEndpointID("hall/panel-2")
	testDen       = ref.MustEndpointID("den/tv")
	testStart     = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

func testRecord(gen uint64, event Event) Record {
	return Record{
		Time:       testStart.Add(time.Duration(gen) * time.Minute),
		Event:      event,
		Principal:  testPrincipal,
		Endpoint:   testHall,
		Transport:  registry.ChannelWiFi,
		Generation: gen,
	}
}

func openTest(t *testing.T, dir string, opts Options) *Journal {
	t.Helper()
	j, err := Open(dir, discardLogger(), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j := openTest(t, dir, Options{})

	want := []Record{
		testRecord(1, EventAttach),
		{
			Time:          testStart.Add(time.Hour),
			Event:         EventCommit,
			Principal:     testPrincipal,
			Endpoint:      testDen,
			PriorEndpoint: testHall,
			Transport:     registry.ChannelBLE,
			Generation:    2,
		},
		{
			Time:      testStart.Add(2 * time.Hour),
			Event:     EventAbort,
			Principal: testPrincipal,
			Endpoint:  testHall,
			Reason:    "handshake timeout",
		},
	}
	for _, rec := range want {
		if err := j.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	var got []Record
	if err := j.Replay(func(rec Record) error {
		got = append(got, rec)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("replayed %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Time.Equal(want[i].Time) {
			t.Errorf("record %d time = %v, want %v", i, got[i].Time, want[i].Time)
		}
		got[i].Time = want[i].Time
		if got[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLastGenerationRecoveredAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	j := openTest(t, dir, Options{})
	for gen := uint64(1); gen <= 4; gen++ {
		event := EventCommit
		if gen == 1 {
			event = EventAttach
		}
		if err := j.Append(testRecord(gen, event)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// Aborts carry no generation and must not disturb the count.
	if err := j.Append(Record{Time: testStart, Event: EventAbort, Principal: testPrincipal, Reason: "stale"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := openTest(t, dir, Options{})
	if gen := reopened.LastGeneration(); gen != 4 {
		t.Errorf("LastGeneration = %d, want 4", gen)
	}
}

func TestDigestMismatchDetected(t *testing.T) {
	dir := t.TempDir()
	j := openTest(t, dir, Options{})
	if err := j.Append(testRecord(1, EventAttach)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Flip one payload byte in place.
	path := filepath.Join(dir, segmentName(1))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Open(dir, discardLogger(), Options{}); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("Open on corrupt journal = %v, want ErrDigestMismatch", err)
	}
}

func TestTruncatedTailToleratedAndRepaired(t *testing.T) {
	dir := t.TempDir()
	j := openTest(t, dir, Options{})
	if err := j.Append(testRecord(1, EventAttach)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Append(testRecord(2, EventCommit)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Chop the last frame mid-payload, as a crash during append would.
	path := filepath.Join(dir, segmentName(1))
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-10); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	reopened := openTest(t, dir, Options{})
	if gen := reopened.LastGeneration(); gen != 1 {
		t.Errorf("LastGeneration after torn tail = %d, want 1", gen)
	}

	// The torn frame is gone from disk: appends land on a clean
	// boundary and a full replay sees exactly the surviving record
	// plus the new one.
	if err := reopened.Append(testRecord(2, EventCommit)); err != nil {
		t.Fatalf("Append after repair: %v", err)
	}
	var events []Event
	if err := reopened.Replay(func(rec Record) error {
		events = append(events, rec.Event)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 2 || events[0] != EventAttach || events[1] != EventCommit {
		t.Errorf("events after repair = %v, want [attach commit]", events)
	}
}

func TestRotationArchivesSegments(t *testing.T) {
	for _, tc := range []struct {
		compression Compression
		suffix      string
	}{
		{CompressionZstd, zstdSuffix},
		{CompressionLZ4, lz4Suffix},
	} {
		t.Run(tc.compression.String(), func(t *testing.T) {
			dir := t.TempDir()
			// Tiny rotate threshold so every append rotates.
			j := openTest(t, dir, Options{RotateBytes: 64, Compression: tc.compression})

			const total = 5
			for gen := uint64(1); gen <= total; gen++ {
				if err := j.Append(testRecord(gen, EventCommit)); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			archives, err := filepath.Glob(filepath.Join(dir, "*.journal"+tc.suffix))
			if err != nil {
				t.Fatalf("Glob: %v", err)
			}
			if len(archives) == 0 {
				t.Fatal("no archived segments after rotation")
			}

			// Every record must survive the archive round trip.
			var gens []uint64
			if err := j.Replay(func(rec Record) error {
				gens = append(gens, rec.Generation)
				return nil
			}); err != nil {
				t.Fatalf("Replay: %v", err)
			}
			if len(gens) != total {
				t.Fatalf("replayed %d records, want %d", len(gens), total)
			}
			for i, gen := range gens {
				if gen != uint64(i+1) {
					t.Errorf("record %d generation = %d, want %d", i, gen, i+1)
				}
			}

			// A fresh Open must recover the generation from archives.
			if err := j.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			reopened := openTest(t, dir, Options{Compression: tc.compression})
			if gen := reopened.LastGeneration(); gen != total {
				t.Errorf("LastGeneration from archives = %d, want %d", gen, total)
			}
		})
	}
}

func TestLargeRecordCompressedPerFrame(t *testing.T) {
	dir := t.TempDir()
	j := openTest(t, dir, Options{Compression: CompressionZstd})

	rec := testRecord(1, EventAbort)
	rec.Reason = strings.Repeat("handshake refused: endpoint draining; ", 40)
	if err := j.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// The stored segment must be smaller than the raw record text.
	info, err := os.Stat(filepath.Join(dir, segmentName(1)))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() >= int64(len(rec.Reason)) {
		t.Errorf("segment size %d not reduced below reason length %d", info.Size(), len(rec.Reason))
	}

	var got Record
	if err := j.Replay(func(r Record) error {
		got = r
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if got.Reason != rec.Reason {
		t.Error("compressed record did not round-trip")
	}
}

func TestRecentReturnsTrailingRecords(t *testing.T) {
	dir := t.TempDir()
	j := openTest(t, dir, Options{})
	for gen := uint64(1); gen <= 10; gen++ {
		if err := j.Append(testRecord(gen, EventCommit)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := j.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Recent returned %d records, want 3", len(recent))
	}
	for i, want := range []uint64{8, 9, 10} {
		if recent[i].Generation != want {
			t.Errorf("recent[%d] generation = %d, want %d", i, recent[i].Generation, want)
		}
	}
}

func TestAbandonedArchiveTmpRemoved(t *testing.T) {
	dir := t.TempDir()
	j := openTest(t, dir, Options{})
	if err := j.Append(testRecord(1, EventAttach)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tmp := filepath.Join(dir, segmentName(1)+zstdSuffix+".tmp")
	if err := os.WriteFile(tmp, []byte("partial"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	openTest(t, dir, Options{})
	if _, err := os.Stat(tmp); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("abandoned tmp archive still present: %v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
