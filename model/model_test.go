// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/recabac/recabac/arith"
)

// encCoder and decCoder adapt the arithmetic coder pair to the Coder
// interface the way the drivers do.
type encCoder struct {
	e *arith.Encoder
	t *testing.T
}

func (c encCoder) Code(symbol int, p arith.Prob) int {
	if err := c.e.Put(symbol, p); err != nil {
		c.t.Fatalf("Put error %v", err)
	}
	return symbol
}

type decCoder struct {
	d *arith.Decoder
}

func (c decCoder) Code(symbol int, p arith.Prob) int { return c.d.Get(p) }

// countCoder records coded symbols without a coder behind it.
type countCoder struct {
	syms []int
}

func (c *countCoder) Code(symbol int, p arith.Prob) int {
	c.syms = append(c.syms, symbol)
	return symbol
}

// TestEstimatorMonotonic checks that observing a symbol weakly raises its
// probability on the next query.
func TestEstimatorMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	var ctx uint8
	m := New()
	k := Key{Ctx: &ctx, D1: 3, D2: 7}
	const r = uint64(1) << 60
	for i := 0; i < 1000; i++ {
		s := rng.Intn(2)
		before := m.Prob(k)(r)
		if s == 0 {
			before = r - before
		}
		m.update(k, s, capDefault)
		after := m.Prob(k)(r)
		if s == 0 {
			after = r - after
		}
		if after < before {
			t.Fatalf("step %d: probability of %d fell from %d to %d",
				i, s, before, after)
		}
	}
}

// TestEstimatorCap checks the halving cap.
func TestEstimatorCap(t *testing.T) {
	e := &Estimator{Pos: 1, Neg: 1}
	for i := 0; i < 1000; i++ {
		e.update(1, capSigMap)
		if e.Pos+e.Neg > capSigMap {
			t.Fatalf("sum %d exceeds cap", e.Pos+e.Neg)
		}
	}
	if e.Pos < e.Neg {
		t.Error("majority symbol lost its majority")
	}
}

// TestNeighborGrid verifies that the scan-8 neighbor relation is the packed
// grid's: inside a macroblock the left and above neighbors differ by one
// column and one row, and lookups at the plane edge cross the macroblock
// boundary into the right column or bottom row of the same plane.
func TestNeighborGrid(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 10000; i++ {
		c := Coord{
			MBX:   1 + rng.Intn(4),
			MBY:   1 + rng.Intn(4),
			Scan8: rng.Intn(ScanY),
		}
		cell := scan8[c.Scan8]
		r, col := int(cell>>3), int(cell&7)
		for _, above := range []bool{false, true} {
			n, ok := Neighbor(above, c)
			if !ok {
				t.Fatalf("no neighbor for %+v above=%t", c, above)
			}
			ncell := scan8[n.Scan8]
			nr, ncol := int(ncell>>3), int(ncell&7)
			if above {
				switch {
				case n.MBY == c.MBY:
					if nr != r-1 || ncol != col {
						t.Fatalf("%+v above: got cell (%d,%d)",
							c, nr, ncol)
					}
				case n.MBY == c.MBY-1:
					if nr != r+3 || ncol != col {
						t.Fatalf("%+v above crossing: got cell (%d,%d)",
							c, nr, ncol)
					}
				default:
					t.Fatalf("%+v above: bad mb %d", c, n.MBY)
				}
			} else {
				switch {
				case n.MBX == c.MBX:
					if nr != r || ncol != col-1 {
						t.Fatalf("%+v left: got cell (%d,%d)",
							c, nr, ncol)
					}
				case n.MBX == c.MBX-1:
					if nr != r || ncol != 7 {
						t.Fatalf("%+v left crossing: got cell (%d,%d)",
							c, nr, ncol)
					}
				default:
					t.Fatalf("%+v left: bad mb %d", c, n.MBX)
				}
			}
		}
	}
	// Frame edges report no neighbor.
	if _, ok := Neighbor(false, Coord{MBX: 0, MBY: 0, Scan8: 0}); ok {
		t.Error("left neighbor at frame edge")
	}
	if _, ok := Neighbor(true, Coord{MBX: 0, MBY: 0, Scan8: 0}); ok {
		t.Error("above neighbor at frame edge")
	}
	// DC blocks neighbor the same DC block of the adjacent macroblock.
	n, ok := Neighbor(true, Coord{MBX: 2, MBY: 2, Scan8: ScanV})
	if !ok || n.Scan8 != ScanV || n.MBY != 1 || n.MBX != 2 {
		t.Errorf("DC above neighbor = %+v, ok=%t", n, ok)
	}
}

// TestNeighborCoefficient checks the raster walk inside a transform grid
// and its inverse.
func TestNeighborCoefficient(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	for _, maxCoeff := range []int{4, 8, 16, 64} {
		for i := 0; i < 2000; i++ {
			c := Coord{Zigzag: rng.Intn(maxCoeff)}
			pos, width := rasterPos(maxCoeff, c.Zigzag)
			n, ok := NeighborCoefficient(false, maxCoeff, c)
			if ok {
				npos, _ := rasterPos(maxCoeff, n.Zigzag)
				if npos != pos-1 {
					t.Fatalf("size %d zz %d: left pos %d; want %d",
						maxCoeff, c.Zigzag, npos, pos-1)
				}
				// A left neighbor exists only off the row's
				// first column.
				if pos%width == 0 {
					t.Fatalf("size %d: left neighbor across row edge",
						maxCoeff)
				}
			} else if pos%width != 0 {
				t.Fatalf("size %d zz %d: missing left neighbor",
					maxCoeff, c.Zigzag)
			}
			n, ok = NeighborCoefficient(true, maxCoeff, c)
			if ok {
				npos, _ := rasterPos(maxCoeff, n.Zigzag)
				if npos != pos-width {
					t.Fatalf("size %d zz %d: above pos %d; want %d",
						maxCoeff, c.Zigzag, npos, pos-width)
				}
			} else if pos >= width {
				t.Fatalf("size %d zz %d: missing above neighbor",
					maxCoeff, c.Zigzag)
			}
		}
	}
}

// sigSymbols derives the explicit significance-map decisions of a pattern.
func sigSymbols(nonzero []bool) (syms []int, eobs []bool) {
	n := 0
	for _, b := range nonzero {
		if b {
			n++
		}
	}
	last := len(nonzero) - 1
	remaining := n
	for pos := 0; pos < last; pos++ {
		if !nonzero[pos] {
			syms = append(syms, 0)
			eobs = append(eobs, false)
			continue
		}
		syms = append(syms, 1)
		eobs = append(eobs, false)
		remaining--
		if remaining == 0 {
			syms = append(syms, 1)
			eobs = append(eobs, true)
			return syms, eobs
		}
		syms = append(syms, 0)
		eobs = append(eobs, true)
	}
	return syms, eobs
}

// randomPattern returns a significance pattern with at least one nonzero
// coefficient.
func randomPattern(rng *rand.Rand, size int) []bool {
	p := make([]bool, size)
	any := false
	for i := range p {
		if rng.Intn(3) == 0 {
			p[i] = true
			any = true
		}
	}
	if !any {
		p[rng.Intn(size)] = true
	}
	return p
}

// driveSig runs one significance map through the model on the given coder
// side. On the decoding side syms is ignored.
func driveSig(m *Model, c Coder, syms []int, nQueries int) []int {
	var out []int
	var state uint8
	for i := 0; i < nQueries; i++ {
		s := -1
		if syms != nil {
			s = syms[i]
		}
		out = append(out, m.Symbol(c, s, &state))
	}
	m.EndCodingType(c, SignificanceMap)
	return out
}

// TestPreludeWidth checks the nonzero-count prelude: its bit width per
// sub-block size and that the recovered count equals the number of ones in
// the significance map.
func TestPreludeWidth(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	tests := []struct {
		maxCoeff, width int
	}{
		{4, 2}, {16, 4}, {64, 6},
	}
	for _, tc := range tests {
		for round := 0; round < 50; round++ {
			pattern := randomPattern(rng, tc.maxCoeff)
			syms, _ := sigSymbols(pattern)
			n := 0
			for _, b := range pattern {
				if b {
					n++
				}
			}

			m := New()
			m.FrameSpec(0, 4, 4)
			m.MBXY(1, 1)
			m.BeginSubMB(2, 0, tc.maxCoeff, false, false)
			m.BeginCodingType(SignificanceMap, 0, 0, 0)
			cc := &countCoder{}
			driveSig(m, cc, syms, len(syms))

			// The coded stream holds the prelude plus every
			// explicit map symbol; end-of-block symbols are
			// dropped.
			mapCount := 0
			for i := range syms {
				if isMapIndex(syms, i) {
					mapCount++
				}
			}
			want := tc.width + mapCount
			if len(cc.syms) != want {
				t.Fatalf("size %d: coded %d symbols; want %d",
					tc.maxCoeff, len(cc.syms), want)
			}
			value := 0
			for _, b := range cc.syms[:tc.width] {
				value = value<<1 | b
			}
			if value+1 != n {
				t.Fatalf("size %d: prelude count %d; want %d",
					tc.maxCoeff, value+1, n)
			}
		}
	}
}

// isMapIndex reports whether syms[i] is a map symbol under the alternation
// rule: an end-of-block question follows every map one.
func isMapIndex(syms []int, i int) bool {
	expectEOB := false
	for j := 0; j <= i; j++ {
		if j == i {
			return !expectEOB
		}
		if expectEOB {
			expectEOB = false
		} else if syms[j] != 0 {
			expectEOB = true
		}
	}
	return false
}

// TestModelSymmetry encodes residual sub-blocks through one model and
// decodes them through a fresh one, verifying that every recovered decision
// matches. This covers the prelude, the implicit end-of-block symbols and
// the buffered replay keying.
func TestModelSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(27))
	for round := 0; round < 20; round++ {
		type phase struct {
			scan8, maxCoeff int
			cat             int
			isDC            bool
			syms            []int
		}
		var phases []phase
		nmb := 2 + rng.Intn(3)
		for i := 0; i < nmb; i++ {
			for _, cfg := range []struct {
				scan8, maxCoeff, cat int
				isDC                 bool
			}{
				{rng.Intn(16), 16, 2, false},
				{ScanU, 4, 3, true},
				{rng.Intn(16), 15, 4, false},
			} {
				pattern := randomPattern(rng, cfg.maxCoeff)
				syms, _ := sigSymbols(pattern)
				phases = append(phases, phase{
					scan8:    cfg.scan8,
					maxCoeff: cfg.maxCoeff,
					cat:      cfg.cat,
					isDC:     cfg.isDC,
					syms:     syms,
				})
			}
		}

		drive := func(m *Model, c Coder, encode bool) [][]int {
			var got [][]int
			m.FrameSpec(round, 4, 4)
			i := 0
			for _, ph := range phases {
				m.MBXY(i%4, i/4%4)
				i++
				zzStart := 0
				if ph.maxCoeff == 15 {
					zzStart = 1
				}
				m.BeginSubMB(ph.cat, ph.scan8, ph.maxCoeff,
					ph.isDC, false)
				m.BeginCodingType(SignificanceMap, zzStart,
					0, 0)
				var out []int
				var state uint8
				for j := range ph.syms {
					s := -1
					if encode {
						s = ph.syms[j]
					}
					out = append(out,
						m.Symbol(c, s, &state))
				}
				m.EndCodingType(c, SignificanceMap)
				m.EndSubMB()
				got = append(got, out)
			}
			return got
		}

		buf := new(bytes.Buffer)
		e, err := arith.NewEncoder(buf, arith.Recode)
		if err != nil {
			t.Fatalf("NewEncoder error %v", err)
		}
		menc := New()
		drive(menc, encCoder{e: e, t: t}, true)
		if err = e.Close(); err != nil {
			t.Fatalf("Close error %v", err)
		}

		d, err := arith.NewDecoder(bytes.NewReader(buf.Bytes()),
			arith.Recode)
		if err != nil {
			t.Fatalf("NewDecoder error %v", err)
		}
		mdec := New()
		got := drive(mdec, decCoder{d: d}, false)

		for i, ph := range phases {
			for j, want := range ph.syms {
				if got[i][j] != want {
					t.Fatalf("round %d phase %d symbol %d: got %d; want %d",
						round, i, j, got[i][j], want)
				}
			}
		}
	}
}

// TestFrameRotation checks that a new frame number rotates the buffers and
// exposes the previous frame's nonzero counts.
func TestFrameRotation(t *testing.T) {
	m := New()
	m.FrameSpec(0, 2, 2)
	m.MBXY(1, 1)
	cell := m.cur.at(1, 1)
	cell.NumNonzeros[5] = 9
	cell.Coded = true
	m.FrameSpec(1, 2, 2)
	if got := m.prev.numNonzeros(Coord{MBX: 1, MBY: 1, Scan8: 5}); got != 9 {
		t.Errorf("previous frame count = %d; want 9", got)
	}
	if got := m.cur.numNonzeros(Coord{MBX: 1, MBY: 1, Scan8: 5}); got != 0 {
		t.Errorf("current frame count = %d; want 0", got)
	}
	// Same frame number keeps the buffers.
	m.cur.at(0, 0).NumNonzeros[1] = 3
	m.cur.at(0, 0).Coded = true
	m.FrameSpec(1, 2, 2)
	if got := m.cur.numNonzeros(Coord{MBX: 0, MBY: 0, Scan8: 1}); got != 3 {
		t.Errorf("count after same-frame spec = %d; want 3", got)
	}
}
