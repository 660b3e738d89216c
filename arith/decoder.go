// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arith

import "io"

// Decoder recovers the symbol sequence produced by an Encoder with the same
// parameters. It tracks the difference between the reconstructed value window
// and the interval low end modulo 2^64; at that scale encoder carries cancel
// out and need no queue.
type Decoder struct {
	r   io.ByteReader
	p   Params
	rng uint64
	// off is (value - low) scaled by 2: digits enter at bit 0 of a full
	// 64-bit window while One occupies bit 63.
	off uint64
}

// NewDecoder creates a decoder reading compressed digits from r. It primes
// the value window with one full word of digits; a short or empty stream is
// padded with zero digits.
func NewDecoder(r io.ByteReader, p Params) (*Decoder, error) {
	if err := p.Verify(); err != nil {
		return nil, err
	}
	p.applyDefaults()
	d := &Decoder{r: r, p: p, rng: p.InitRange}
	for i := uint(0); i < wordBits/p.DigitBits; i++ {
		d.off = d.off<<p.DigitBits | d.nextDigit()
	}
	return d, nil
}

// nextDigit reads one digit, most-significant byte first. Past the end of
// the stream it returns zero digits, mirroring the encoder's shortest-prefix
// Close.
func (d *Decoder) nextDigit() uint64 {
	var v uint64
	for i := uint(0); i < d.p.DigitBits/8; i++ {
		b, err := d.r.ReadByte()
		if err != nil {
			b = 0
		}
		v = v<<8 | uint64(b)
	}
	return v
}

// Get decodes a single symbol. p1 must compute the same subrange for symbol 1
// as was used during encoding.
func (d *Decoder) Get(p1 Prob) int {
	r1 := p1(d.rng)
	if r1 == 0 || r1 >= d.rng {
		panic("arith: probability out of range")
	}
	r0 := d.rng - r1
	var symbol int
	if d.off >= r0<<1 {
		symbol = 1
		d.off -= r0 << 1
		d.rng = r1
	} else {
		d.rng = r0
	}
	for d.rng < d.p.MinRange {
		d.off = d.off<<d.p.DigitBits | d.nextDigit()
		d.rng <<= d.p.DigitBits
	}
	return symbol
}
