// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm applied to a frame payload or
// a rotated segment archive. Frame tags are stored on disk (1 byte
// each) — changing these values breaks existing journals.
type Compression uint8

const (
	// CompressionNone stores bytes as written. The live default:
	// records are small and the fsync dominates the append anyway.
	CompressionNone Compression = 0

	// CompressionLZ4 is LZ4 frame compression. Fast, modest ratio.
	CompressionLZ4 Compression = 1

	// CompressionZstd is zstd at the default level. Better ratio on
	// the repetitive text a long journal accumulates.
	CompressionZstd Compression = 2
)

// String returns the configuration name of the compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name from configuration.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// Archive name suffixes appended to a rotated segment's file name.
const (
	zstdSuffix = ".zst"
	lz4Suffix  = ".lz4"
)

// archiveSuffix returns the file suffix for segments archived with c,
// or "" when rotation leaves segments uncompressed.
func (c Compression) archiveSuffix() string {
	switch c {
	case CompressionLZ4:
		return lz4Suffix
	case CompressionZstd:
		return zstdSuffix
	default:
		return ""
	}
}

// zstdEncoder and zstdDecoder are reused across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("journal: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("journal: zstd decoder initialization failed: " + err.Error())
	}
}

// errIncompressible is returned when compressed output would not be
// smaller than the input. The caller falls back to CompressionNone.
var errIncompressible = errors.New("data is incompressible")

// compress encodes payload with the given algorithm. Returns the
// input unchanged (no copy) for CompressionNone.
func compress(payload []byte, tag Compression) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return payload, nil

	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if buf.Len() >= len(payload) {
			return nil, errIncompressible
		}
		return buf.Bytes(), nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(payload, nil)
		if len(compressed) >= len(payload) {
			return nil, errIncompressible
		}
		return compressed, nil

	default:
		return nil, fmt.Errorf("unsupported compression: %d", tag)
	}
}

// decompress decodes payload that was compressed with the given
// algorithm.
func decompress(payload []byte, tag Compression) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return payload, nil

	case CompressionLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil

	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported compression: %d", tag)
	}
}

// newArchiveWriter wraps w in a stream compressor for whole-segment
// archiving. The caller must Close the result to flush the container.
func newArchiveWriter(w io.Writer, tag Compression) (io.WriteCloser, error) {
	switch tag {
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	default:
		return nil, fmt.Errorf("unsupported archive compression: %d", tag)
	}
}

// newArchiveReader wraps r in the decompressor implied by the archive
// file name, or returns r as-is for a bare segment. Close releases
// decoder resources, not r itself.
func newArchiveReader(r io.Reader, name string) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(name, zstdSuffix):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening zstd archive: %w", err)
		}
		return zr.IOReadCloser(), nil
	case strings.HasSuffix(name, lz4Suffix):
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return io.NopCloser(r), nil
	}
}
