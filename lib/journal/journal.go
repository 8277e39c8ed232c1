// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/tether-foundation/tether/lib/codec"
)

// ErrDigestMismatch is returned by replay when a frame's payload does
// not match its recorded digest. Unlike a truncated tail this is never
// tolerated: it means the journal was altered or the disk is lying.
var ErrDigestMismatch = errors.New("journal: record digest mismatch")

// errTruncated marks a frame cut short by a crash mid-append. Replay
// tolerates it on the live segment's final frame only.
var errTruncated = errors.New("truncated frame")

// Frame layout: 4-byte big-endian payload length, 1-byte compression
// tag, 32-byte blake3 digest of the uncompressed record bytes, then
// the payload. The digest is over the record so replay verifies the
// decompression path too.
const (
	frameHeaderSize = 4 + 1 + 32

	// maxFrameSize bounds the allocation replay makes for one frame.
	// A record is a few hundred bytes; anything near this is garbage.
	maxFrameSize = 1 << 20

	// compressMin is the smallest payload worth per-frame compression.
	// Typical records are far below it and are stored raw.
	compressMin = 512
)

// Options tunes a Journal. Zero fields take the defaults below.
type Options struct {
	// RotateBytes is the live segment size that triggers rotation.
	RotateBytes int64

	// Compression is applied to rotated segment archives, and to any
	// single frame whose payload is large enough to benefit.
	Compression Compression
}

const defaultRotateBytes = 8 << 20

func (o Options) withDefaults() Options {
	if o.RotateBytes <= 0 {
		o.RotateBytes = defaultRotateBytes
	}
	return o
}

// Journal is an append-only record log in a directory of numbered
// segments. Safe for concurrent use; appends are serialized and
// fsynced before they return.
type Journal struct {
	dir    string
	logger *slog.Logger
	opts   Options

	// mu protects the fields below and serializes file access.
	mu             sync.Mutex
	file           *os.File
	seq            uint64
	size           int64
	lastGeneration uint64
}

// Open opens the journal in dir, creating it if needed. It replays
// every existing segment to recover the last generation, truncates a
// torn final frame left by a crash, and fails on any digest mismatch.
func Open(dir string, logger *slog.Logger, opts Options) (*Journal, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	j := &Journal{
		dir:    dir,
		logger: logger.With("component", "journal"),
		opts:   opts,
	}

	segments, err := reconcile(dir, j.logger)
	if err != nil {
		return nil, err
	}

	// The live segment is the highest-numbered bare one; if the newest
	// segment is already archived (or the directory is empty), start a
	// fresh segment after it.
	liveSeq := uint64(1)
	haveLive := false
	if n := len(segments); n > 0 {
		last := segments[n-1]
		if last.archived {
			liveSeq = last.seq + 1
		} else {
			liveSeq = last.seq
			haveLive = true
		}
	}

	for _, seg := range segments {
		path := filepath.Join(dir, seg.name)
		isLive := haveLive && !seg.archived && seg.seq == liveSeq

		good, replayErr := replayFile(path, seg.name, func(rec Record) error {
			if rec.Generation > j.lastGeneration {
				j.lastGeneration = rec.Generation
			}
			return nil
		})
		switch {
		case replayErr == nil:
			if isLive {
				j.size = good
			}
		case errors.Is(replayErr, errTruncated) && isLive:
			info, statErr := os.Stat(path)
			if statErr != nil {
				return nil, fmt.Errorf("inspecting truncated segment: %w", statErr)
			}
			j.logger.Warn("truncating torn journal tail",
				"segment", seg.name,
				"dropped_bytes", info.Size()-good)
			if err := os.Truncate(path, good); err != nil {
				return nil, fmt.Errorf("truncating journal tail: %w", err)
			}
			j.size = good
		default:
			return nil, fmt.Errorf("replaying journal segment %s: %w", seg.name, replayErr)
		}
	}

	livePath := filepath.Join(dir, segmentName(liveSeq))
	f, err := os.OpenFile(livePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening journal segment: %w", err)
	}
	j.file = f
	j.seq = liveSeq
	return j, nil
}

// Append encodes rec, frames it, and appends it durably. The record
// is on disk when Append returns.
func (j *Journal) Append(rec Record) error {
	payload, err := codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding journal record: %w", err)
	}
	digest := blake3.Sum256(payload)

	stored, tag := payload, CompressionNone
	if len(payload) >= compressMin && j.opts.Compression != CompressionNone {
		compressed, err := compress(payload, j.opts.Compression)
		switch {
		case err == nil:
			stored, tag = compressed, j.opts.Compression
		case errors.Is(err, errIncompressible):
			// Stored raw.
		default:
			return fmt.Errorf("compressing journal record: %w", err)
		}
	}

	frame := make([]byte, frameHeaderSize+len(stored))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(stored)))
	frame[4] = byte(tag)
	copy(frame[5:frameHeaderSize], digest[:])
	copy(frame[frameHeaderSize:], stored)

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Write(frame); err != nil {
		return fmt.Errorf("appending journal record: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("syncing journal: %w", err)
	}
	j.size += int64(len(frame))
	if rec.Generation > j.lastGeneration {
		j.lastGeneration = rec.Generation
	}

	if j.size >= j.opts.RotateBytes {
		if err := j.rotateLocked(); err != nil {
			// The append above is already durable; rotation retries on
			// the next append.
			j.logger.Error("rotating journal", "error", err)
		}
	}
	return nil
}

// LastGeneration returns the highest generation recorded, or zero for
// an empty journal.
func (j *Journal) LastGeneration() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastGeneration
}

// Replay calls fn for every record in order, oldest first, across
// archived and live segments.
func (j *Journal) Replay(fn func(Record) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	segments, err := listSegments(j.dir)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		_, err := replayFile(filepath.Join(j.dir, seg.name), seg.name, fn)
		if err != nil && !errors.Is(err, errTruncated) {
			return fmt.Errorf("replaying journal segment %s: %w", seg.name, err)
		}
	}
	return nil
}

// Recent returns the trailing limit records, oldest first.
func (j *Journal) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 32
	}
	ring := make([]Record, 0, limit)
	next := 0
	err := j.Replay(func(rec Record) error {
		if len(ring) < limit {
			ring = append(ring, rec)
			return nil
		}
		ring[next] = rec
		next = (next + 1) % limit
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(ring) == limit && next != 0 {
		out := make([]Record, 0, limit)
		out = append(out, ring[next:]...)
		out = append(out, ring[:next]...)
		return out, nil
	}
	return ring, nil
}

// Close syncs and closes the live segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	syncErr := j.file.Sync()
	closeErr := j.file.Close()
	j.file = nil
	if syncErr != nil {
		return fmt.Errorf("syncing journal on close: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing journal: %w", closeErr)
	}
	return nil
}

// rotateLocked opens the next segment, swaps appends onto it, then
// archives the finished one. Archive failure is not fatal: a bare
// rotated segment replays the same as an archived one.
func (j *Journal) rotateLocked() error {
	nextSeq := j.seq + 1
	f, err := os.OpenFile(filepath.Join(j.dir, segmentName(nextSeq)), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("creating journal segment: %w", err)
	}
	if err := j.file.Close(); err != nil {
		f.Close()
		return fmt.Errorf("closing rotated segment: %w", err)
	}

	finishedSeq := j.seq
	j.file = f
	j.seq = nextSeq
	j.size = 0
	j.logger.Info("rotated journal segment",
		"segment", segmentName(nextSeq),
		"finished", segmentName(finishedSeq))

	if j.opts.Compression.archiveSuffix() != "" {
		if err := j.archiveLocked(finishedSeq); err != nil {
			j.logger.Warn("archiving rotated segment",
				"segment", segmentName(finishedSeq), "error", err)
		}
	}
	return nil
}

// archiveLocked compresses one finished segment whole, fsyncs the
// archive, renames it into place, and removes the original. The
// rename is the commit point: replay prefers a completed archive over
// a leftover original.
func (j *Journal) archiveLocked(seq uint64) error {
	src := filepath.Join(j.dir, segmentName(seq))
	dst := src + j.opts.Compression.archiveSuffix()
	tmp := dst + ".tmp"

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening segment: %w", err)
	}
	defer in.Close()

	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	aw, err := newArchiveWriter(out, j.opts.Compression)
	if err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if _, err := io.Copy(aw, in); err != nil {
		aw.Close()
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("compressing segment: %w", err)
	}
	if err := aw.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("flushing archive: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing archive: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing archive: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing archived segment: %w", err)
	}
	j.logger.Info("archived journal segment", "archive", filepath.Base(dst))
	return nil
}

// --- segment files ---

type segmentFile struct {
	seq      uint64
	name     string
	archived bool
}

func segmentName(seq uint64) string {
	return fmt.Sprintf("%06d.journal", seq)
}

// parseSegmentName extracts the sequence number from a segment or
// archive file name.
func parseSegmentName(name string) (seq uint64, archived bool, ok bool) {
	base := name
	switch {
	case strings.HasSuffix(base, zstdSuffix):
		archived = true
		base = strings.TrimSuffix(base, zstdSuffix)
	case strings.HasSuffix(base, lz4Suffix):
		archived = true
		base = strings.TrimSuffix(base, lz4Suffix)
	}
	rest, found := strings.CutSuffix(base, ".journal")
	if !found {
		return 0, false, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false, false
	}
	return n, archived, true
}

// listSegments returns dir's segments in replay order.
func listSegments(dir string) ([]segmentFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading journal directory: %w", err)
	}
	var segments []segmentFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		seq, archived, ok := parseSegmentName(entry.Name())
		if !ok {
			continue
		}
		segments = append(segments, segmentFile{seq: seq, name: entry.Name(), archived: archived})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].seq < segments[j].seq })
	return segments, nil
}

// reconcile cleans up after a crash mid-rotation: leftover .tmp
// archives are removed, and where both a segment and its completed
// archive exist the bare segment is dropped (the archive's rename
// happened, so it is whole).
func reconcile(dir string, logger *slog.Logger) ([]segmentFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading journal directory: %w", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			logger.Warn("removing abandoned archive", "file", entry.Name())
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				return nil, fmt.Errorf("removing abandoned archive: %w", err)
			}
		}
	}

	segments, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	archivedSeqs := make(map[uint64]bool)
	for _, seg := range segments {
		if seg.archived {
			archivedSeqs[seg.seq] = true
		}
	}
	kept := segments[:0]
	for _, seg := range segments {
		if !seg.archived && archivedSeqs[seg.seq] {
			logger.Warn("removing segment superseded by its archive", "segment", seg.name)
			if err := os.Remove(filepath.Join(dir, seg.name)); err != nil {
				return nil, fmt.Errorf("removing superseded segment: %w", err)
			}
			continue
		}
		kept = append(kept, seg)
	}
	return kept, nil
}

// --- frame replay ---

// replayFile streams one segment (bare or archived) through fn.
// Returns the byte offset just past the last whole frame — meaningful
// for bare segments only — and errTruncated if the file ends inside a
// frame.
func replayFile(path, name string, fn func(Record) error) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening segment: %w", err)
	}
	defer f.Close()

	r, err := newArchiveReader(f, name)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	var good int64
	for {
		rec, consumed, err := readFrame(r)
		if err == io.EOF {
			return good, nil
		}
		if err != nil {
			return good, err
		}
		if err := fn(rec); err != nil {
			return good, err
		}
		good += consumed
	}
}

// readFrame reads one frame. io.EOF means a clean end between frames;
// errTruncated means the stream ended inside a frame.
func readFrame(r io.Reader) (Record, int64, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return Record{}, 0, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Record{}, 0, errTruncated
		default:
			return Record{}, 0, fmt.Errorf("reading frame header: %w", err)
		}
	}

	length := binary.BigEndian.Uint32(header[0:4])
	if length == 0 || length > maxFrameSize {
		return Record{}, 0, fmt.Errorf("frame length %d out of range", length)
	}
	tag := Compression(header[4])

	stored := make([]byte, length)
	if _, err := io.ReadFull(r, stored); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, 0, errTruncated
		}
		return Record{}, 0, fmt.Errorf("reading frame payload: %w", err)
	}

	payload, err := decompress(stored, tag)
	if err != nil {
		return Record{}, 0, err
	}
	digest := blake3.Sum256(payload)
	if !bytes.Equal(digest[:], header[5:frameHeaderSize]) {
		return Record{}, 0, ErrDigestMismatch
	}

	var rec Record
	if err := codec.Unmarshal(payload, &rec); err != nil {
		return Record{}, 0, fmt.Errorf("decoding record: %w", err)
	}
	return rec, int64(frameHeaderSize) + int64(length), nil
}
