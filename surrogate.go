// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recabac

import "fmt"

// SurrogateMarkerBytes is the length of a surrogate marker. CABAC blocks
// smaller than this are never recoded: the marker must fit into the stand-in
// block the decompressor feeds through the parser.
const SurrogateMarkerBytes = 8

// markerSequence generates surrogate markers from a monotone counter. The
// zero value starts the sequence.
type markerSequence struct {
	n uint64
}

// next returns a unique 8-byte marker containing no zero bytes, so NAL
// escaping cannot alter a stand-in block.
func (s *markerSequence) next() []byte {
	s.n++
	n := s.n
	m := make([]byte, SurrogateMarkerBytes)
	for i := range m {
		m[i] = byte(n%255) + 1
		n /= 255
	}
	return m
}

// surrogateBlock builds the stand-in for a coded block: the marker followed
// by NAL-safe padding up to the original block size.
func surrogateBlock(marker []byte, size int) ([]byte, error) {
	if size < len(marker) {
		return nil, fmt.Errorf(
			"recabac: coded block size %d below marker size", size)
	}
	b := make([]byte, size)
	copy(b, marker)
	for i := len(marker); i < size; i++ {
		b[i] = 'X'
	}
	return b, nil
}
