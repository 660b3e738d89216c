// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cabac

import (
	"io"
	"math/bits"

	"github.com/recabac/recabac/arith"
)

// Params are the arithmetic coder parameters that make the generic coder
// reproduce CABAC output: 64-bit word, 16-bit internal digits serialized as
// bytes, a renormalization threshold of 0x200 so that range/2 in PutBypass
// never loses precision, and an initial range whose normalized value is
// 0x1FE as the CABAC specification requires.
var Params = arith.Params{
	DigitBits: 16,
	MinRange:  0x200,
	InitRange: 0x1FE << 54,
}

// Encoder re-emits an H.264 CABAC byte stream from a trace of decisions.
// The produced bytes match a conforming CABAC encoder except for trailing
// stop-bit padding, which callers reconcile when re-emitting a slice.
type Encoder struct {
	e *arith.Encoder
}

// NewEncoder creates a CABAC re-encoder writing to w.
func NewEncoder(w io.ByteWriter) *Encoder {
	e, err := arith.NewEncoder(w, Params)
	if err != nil {
		panic("cabac: " + err.Error())
	}
	return &Encoder{e: e}
}

// normalizeShift returns the shift that scales the 9-bit CABAC range into
// the coder's 64-bit range.
func normalizeShift(rng uint64) uint {
	return uint(bits.Len64(rng>>8) - 1)
}

// Put encodes one context-coded decision and advances the context state.
func (e *Encoder) Put(symbol int, state *uint8) error {
	s := *state
	lps := symbol != int(s&1)
	var sym int
	if lps {
		sym = 1
	}
	err := e.e.Put(sym, func(rng uint64) uint64 {
		normalize := normalizeShift(rng)
		// The two bits below the leading range bit select the
		// quantized range column.
		rangeApprox := rng >> (normalize - 1)
		return uint64(lpsRange[(rangeApprox&0x180)+uint64(s)]) << normalize
	})
	if err != nil {
		return err
	}
	if lps {
		*state = mlpsState[127-s]
	} else {
		*state = mlpsState[128+s]
	}
	return nil
}

// PutBypass encodes one bypass decision with probability 1/2.
func (e *Encoder) PutBypass(symbol int) error {
	return e.e.Put(symbol, func(rng uint64) uint64 { return rng / 2 })
}

// PutTerminate encodes the end-of-slice decision, which CABAC assigns a
// fixed subrange of 2. A one finalizes the byte stream.
func (e *Encoder) PutTerminate(endOfStream int) error {
	err := e.e.Put(endOfStream, func(rng uint64) uint64 {
		return 2 << normalizeShift(rng)
	})
	if err != nil {
		return err
	}
	if endOfStream != 0 {
		return e.e.Close()
	}
	return nil
}
