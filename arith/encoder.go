// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arith

import (
	"io"
	"math/bits"
)

// Encoder encodes a sequence of binary symbols into a digit stream. The low
// value never exceeds One outside of Put; a carry produced by the interval
// update is resolved immediately against the pending digit queue.
type Encoder struct {
	w    io.ByteWriter
	p    Params
	low  uint64
	rng  uint64
	unit uint64
	// pending holds digits whose emission is deferred because a carry may
	// still increment them. Emission order is head first; carries
	// propagate from the tail.
	pending []uint64
	closed  bool
}

// NewEncoder creates an encoder writing compressed digits to w.
func NewEncoder(w io.ByteWriter, p Params) (*Encoder, error) {
	if err := p.Verify(); err != nil {
		return nil, err
	}
	p.applyDefaults()
	return &Encoder{
		w:    w,
		p:    p,
		rng:  p.InitRange,
		unit: One >> p.DigitBits,
	}, nil
}

// Put encodes a single symbol. p1 receives the current range and returns the
// subrange of symbol 1; it must return a value in (0, range).
func (e *Encoder) Put(symbol int, p1 Prob) error {
	if e.closed {
		panic("arith: Put after Close")
	}
	r1 := p1(e.rng)
	if r1 == 0 || r1 >= e.rng {
		panic("arith: probability out of range")
	}
	r0 := e.rng - r1
	if symbol != 0 {
		e.low += r0
		e.rng = r1
		if e.low >= One {
			e.carry()
			e.low -= One
		}
	} else {
		e.rng = r0
	}
	for e.rng < e.p.MinRange {
		if err := e.emitDigit(); err != nil {
			return err
		}
	}
	return nil
}

// carry propagates a +1 into the pending digit queue, tail to head. The head
// digit cannot wrap: a digit is only queued while the interval still fits
// below One, so the cascade always terminates inside the queue.
func (e *Encoder) carry() {
	for i := len(e.pending) - 1; i >= 0; i-- {
		e.pending[i]++
		if e.pending[i] < e.p.digitBase() {
			return
		}
		e.pending[i] = 0
	}
	panic("arith: carry underflow into emitted digits")
}

// emitDigit performs one renormalization step. If the top digit of the
// interval is still ambiguous the digit is queued; otherwise the queue is
// flushed followed by the new digit.
func (e *Encoder) emitDigit() error {
	digit := e.low / e.unit
	if digit != (e.low+e.rng-1)/e.unit {
		// A later carry may still increment this digit.
		e.pending = append(e.pending, digit)
	} else {
		if err := e.flushPending(); err != nil {
			return err
		}
		if err := e.writeDigit(digit); err != nil {
			return err
		}
	}
	e.low = (e.low - digit*e.unit) << e.p.DigitBits
	e.rng <<= e.p.DigitBits
	return nil
}

// flushPending writes out all queued digits in emission order.
func (e *Encoder) flushPending() error {
	for _, d := range e.pending {
		if err := e.writeDigit(d); err != nil {
			return err
		}
	}
	e.pending = e.pending[:0]
	return nil
}

// writeDigit serializes one digit most-significant byte first.
func (e *Encoder) writeDigit(d uint64) error {
	for s := int(e.p.DigitBits) - 8; s >= 0; s -= 8 {
		if err := e.w.WriteByte(byte(d >> uint(s))); err != nil {
			return err
		}
	}
	return nil
}

// Close selects the shortest value identifying the final interval and emits
// its remaining nonzero digits. The encoder must not be used afterwards.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	// The largest k with 2^k <= range guarantees a multiple of 2^k in
	// [low, low+range); rounding low up to it yields the shortest digit
	// tail.
	k := uint(bits.Len64(e.rng) - 1)
	mask := uint64(1)<<k - 1
	v := (e.low + mask) &^ mask
	if v >= One {
		e.carry()
		v -= One
	}
	if err := e.flushPending(); err != nil {
		return err
	}
	for v != 0 {
		digit := v / e.unit
		if err := e.writeDigit(digit); err != nil {
			return err
		}
		v = (v - digit*e.unit) << e.p.DigitBits
	}
	e.low = 0
	e.rng = One
	return nil
}
