// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arith

import (
	"bytes"
	"math"
	"math/rand"
	"testing"
)

func TestParamsVerify(t *testing.T) {
	tests := []struct {
		name string
		p    Params
		ok   bool
	}{
		{"recode", Params{DigitBits: 8}, true},
		{"cabac", Params{DigitBits: 16, MinRange: 0x200,
			InitRange: 0x1FE << 54}, true},
		{"zero digits", Params{}, false},
		{"odd digits", Params{DigitBits: 12}, false},
		{"min range too small", Params{DigitBits: 8, MinRange: 1}, false},
		{"min range too large", Params{DigitBits: 8,
			MinRange: One >> 7}, false},
		{"init range too large", Params{DigitBits: 8,
			InitRange: One + 1}, false},
	}
	for _, tc := range tests {
		err := tc.p.Verify()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: no error", tc.name)
		}
	}
}

// ratioProb builds a probability function for a/b. Ranges below b leave no
// room for the ratio; there it returns the smallest valid subrange, 1.
func ratioProb(a, b uint64) Prob {
	return func(r uint64) uint64 {
		if p := r / b * a; p > 0 {
			return p
		}
		return 1
	}
}

// roundtrip encodes the symbol sequence and verifies the decode under the
// given parameters.
func roundtrip(t *testing.T, p Params, syms []int, probs []Prob) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	e, err := NewEncoder(buf, p)
	if err != nil {
		t.Fatalf("NewEncoder error %v", err)
	}
	for i, s := range syms {
		if err = e.Put(s, probs[i]); err != nil {
			t.Fatalf("Put error %v", err)
		}
	}
	if err = e.Close(); err != nil {
		t.Fatalf("Close error %v", err)
	}
	d, err := NewDecoder(bytes.NewReader(buf.Bytes()), p)
	if err != nil {
		t.Fatalf("NewDecoder error %v", err)
	}
	for i := range syms {
		if g := d.Get(probs[i]); g != syms[i] {
			t.Fatalf("symbol %d: got %d; want %d", i, g, syms[i])
		}
	}
	return buf.Bytes()
}

func TestRoundtripRandom(t *testing.T) {
	params := []Params{
		Recode,
		{DigitBits: 16, MinRange: 0x200, InitRange: 0x1FE << 54},
	}
	rng := rand.New(rand.NewSource(1))
	for _, p := range params {
		for round := 0; round < 4; round++ {
			n := 10000
			syms := make([]int, n)
			probs := make([]Prob, n)
			for i := range syms {
				a := uint64(1 + rng.Intn(999))
				probs[i] = ratioProb(a, 1000)
				if uint64(rng.Intn(1000)) < a {
					syms[i] = 1
				}
			}
			roundtrip(t, p, syms, probs)
		}
	}
}

// TestRoundtripExtremes drives the coder with probabilities at the edge of
// the permitted interval, which exercises the carry queue: long runs of the
// improbable branch keep the interval glued to a digit boundary.
func TestRoundtripExtremes(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	n := 5000
	syms := make([]int, n)
	probs := make([]Prob, n)
	for i := range syms {
		switch rng.Intn(4) {
		case 0:
			probs[i] = func(r uint64) uint64 { return 1 }
		case 1:
			probs[i] = func(r uint64) uint64 { return r - 1 }
		case 2:
			probs[i] = ratioProb(1, 1000)
		default:
			probs[i] = ratioProb(999, 1000)
		}
		syms[i] = rng.Intn(2)
	}
	roundtrip(t, Recode, syms, probs)
}

// TestEntropyBound checks that the compressed size stays within 16 bits of
// the sequence's entropy for a five-bin random source.
func TestEntropyBound(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var bins [5]int
	for i := range bins {
		bins[i] = 1 + rng.Intn(99)
	}
	n := 10000
	syms := make([]int, n)
	probs := make([]Prob, n)
	entropy := 0.0
	for i := range syms {
		b := bins[rng.Intn(len(bins))]
		probs[i] = ratioProb(uint64(b), 100)
		p := float64(b) / 100
		if rng.Intn(100) < b {
			syms[i] = 1
			entropy += -math.Log2(p)
		} else {
			entropy += -math.Log2(1 - p)
		}
	}
	out := roundtrip(t, Recode, syms, probs)
	if limit := entropy + 16; float64(len(out)*8) > limit {
		t.Errorf("compressed to %d bits; entropy bound %.1f bits",
			len(out)*8, limit)
	}
}

// TestShortStream verifies that an empty and a single-symbol stream decode
// with zero-digit padding.
func TestShortStream(t *testing.T) {
	roundtrip(t, Recode, nil, nil)
	roundtrip(t, Recode, []int{1}, []Prob{ratioProb(1, 2)})
	roundtrip(t, Recode, []int{0}, []Prob{ratioProb(1, 2)})
}

func TestPutAfterClosePanics(t *testing.T) {
	buf := new(bytes.Buffer)
	e, err := NewEncoder(buf, Recode)
	if err != nil {
		t.Fatalf("NewEncoder error %v", err)
	}
	if err = e.Close(); err != nil {
		t.Fatalf("Close error %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("no panic for Put after Close")
		}
	}()
	e.Put(1, ratioProb(1, 2))
}
