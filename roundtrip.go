// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recabac

import (
	"bytes"
	"errors"
	"io"

	"github.com/recabac/recabac/internal/xlog"
	"github.com/recabac/recabac/parser"
)

// errRoundtrip reports that decompressing a fresh archive did not reproduce
// the input.
var errRoundtrip = errors.New("recabac: roundtrip mismatch")

// RoundtripStats summarizes a successful roundtrip.
type RoundtripStats struct {
	OriginalSize   int
	CompressedSize int
	// BlockBytes is the payload share of the archive; the rest is
	// envelope overhead.
	BlockBytes int
}

// Ratio is the compressed size relative to the original.
func (s *RoundtripStats) Ratio() float64 {
	if s.OriginalSize == 0 {
		return 1
	}
	return float64(s.CompressedSize) / float64(s.OriginalSize)
}

// Overhead is the envelope share of the archive.
func (s *RoundtripStats) Overhead() float64 {
	if s.CompressedSize == 0 {
		return 0
	}
	return float64(s.CompressedSize-s.BlockBytes) /
		float64(s.CompressedSize)
}

// Roundtrip compresses data, decompresses the result and verifies that the
// reconstruction is byte-identical. On success the archive is written to w
// if w is not nil.
func Roundtrip(w io.Writer, data []byte, p parser.Parser, l xlog.Logger) (*RoundtripStats, error) {
	compressed := new(bytes.Buffer)
	c := &Compressor{Parser: p, Logger: l}
	if err := c.Compress(compressed, data); err != nil {
		return nil, err
	}
	decompressed := new(bytes.Buffer)
	d := &Decompressor{Parser: p, Logger: l}
	if err := d.Decompress(decompressed, compressed.Bytes()); err != nil {
		return nil, err
	}
	if !bytes.Equal(data, decompressed.Bytes()) {
		return nil, errRoundtrip
	}
	stats := &RoundtripStats{
		OriginalSize:   len(data),
		CompressedSize: compressed.Len(),
	}
	blocks, err := parseArchive(compressed.Bytes())
	if err != nil {
		return nil, err
	}
	for _, b := range blocks {
		// A literal run occupies its stored size, which is the xz form
		// whenever writeBlock chose it.
		n := len(b.literal)
		if n >= literalXZMin {
			if z, err := xzCompress(b.literal); err == nil && len(z) < n {
				n = len(z)
			}
		}
		stats.BlockBytes += n + len(b.cabac)
	}
	if w != nil {
		if _, err := w.Write(compressed.Bytes()); err != nil {
			return nil, err
		}
	}
	return stats, nil
}
