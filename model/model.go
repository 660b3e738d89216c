// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package model implements the adaptive statistical model for H.264 CABAC
// symbols. For every symbol the hosted parser reports, the model derives a
// key from the decoding position and its spatio-temporal neighborhood and
// maintains a table of binary estimators addressed by such keys. The same
// model instance drives the encoding and the decoding side; the direction is
// abstracted by the Coder interface so both sides compute identical keys.
package model

import "github.com/recabac/recabac/arith"

// CodingType classifies the symbol the parser is about to deliver.
type CodingType int

const (
	Unknown CodingType = iota
	Unreachable
	Residuals
	SignificanceMap
	SignificanceEOB
	SignificanceNZ
)

// Coder abstracts the coding direction. The encoding side passes the known
// symbol to Code and receives it back after writing; the decoding side
// passes -1 and receives the recovered symbol.
type Coder interface {
	Code(symbol int, p arith.Prob) int
}

// subMB describes the residual sub-block currently being coded.
type subMB struct {
	cat       int
	scan8     int
	maxCoeff  int
	isDC      bool
	chroma422 bool
}

// sigState is the decoding-position state machine of one significance map.
type sigState struct {
	zzStart     int
	zigzag      int
	expectEOB   bool
	done        bool
	total       int
	seen        int
	havePrelude bool
}

// queued is one buffered significance symbol on the encoding side.
type queued struct {
	symbol int
	eob    bool
}

// Model holds the estimator table, the two frame buffers and the per-block
// decoding state.
type Model struct {
	estimators map[Key]*Estimator

	frames []Frame
	cur    *Frame
	prev   *Frame

	mbX, mbY int

	ct    CodingType
	sub   subMB
	sig   sigState
	queue []queued

	// Context anchors owned by the model. Only their addresses matter:
	// they are the Ctx component of keys that do not belong to a parser
	// context state.
	bypassCtx    uint8
	terminateCtx uint8
	sigMapCtx    uint8
	nzBitCtx     [6]uint8
}

// New creates a model. The terminate context starts biased: the end-of-slice
// symbol is zero for all but the last macroblock.
func New() *Model {
	m := &Model{
		estimators: make(map[Key]*Estimator),
		frames:     make([]Frame, 2),
	}
	m.cur, m.prev = &m.frames[0], &m.frames[1]
	m.estimators[m.TerminateKey()] = &Estimator{Pos: 1, Neg: 0x180 / 2}
	return m
}

// Reset clears the per-block scratch state. Estimators and frame buffers
// persist for the whole run; the model keeps warming up across blocks.
func (m *Model) Reset() {
	m.ct = Unknown
	m.sub = subMB{}
	m.sig = sigState{}
	m.queue = m.queue[:0]
}

// BypassKey returns the key of bypass-coded symbols.
func (m *Model) BypassKey() Key { return Key{Ctx: &m.bypassCtx} }

// TerminateKey returns the key of the end-of-slice symbol.
func (m *Model) TerminateKey() Key { return Key{Ctx: &m.terminateCtx} }

// Prob returns the probability-of-one function for key k against the coder's
// current range.
func (m *Model) Prob(k Key) arith.Prob {
	e := m.estimator(k)
	return e.p1
}

// update trains the estimator at k on symbol.
func (m *Model) update(k Key, symbol, cap_ int) {
	m.estimator(k).update(symbol, cap_)
}

// FrameSpec reports the frame number and macroblock dimensions. A new frame
// number or changed dimensions rotate the frame buffers and zero the new
// current frame.
func (m *Model) FrameSpec(frameNum, mbWidth, mbHeight int) {
	if m.cur.sameFrame(frameNum, mbWidth, mbHeight) {
		return
	}
	m.cur, m.prev = m.prev, m.cur
	m.cur.init(mbWidth, mbHeight)
	m.cur.frameNum = frameNum
}

// MBXY positions the model at macroblock (x, y).
func (m *Model) MBXY(x, y int) { m.mbX, m.mbY = x, y }

// BeginSubMB starts a residual sub-block.
func (m *Model) BeginSubMB(cat, scan8Index, maxCoeff int, isDC, chroma422 bool) {
	m.sub = subMB{
		cat:       cat,
		scan8:     scan8Index,
		maxCoeff:  maxCoeff,
		isDC:      isDC,
		chroma422: chroma422,
	}
	if cell := m.cur.at(m.mbX, m.mbY); cell != nil && maxCoeff > 16 {
		cell.Is8x8 = true
	}
}

// EndSubMB ends the current residual sub-block.
func (m *Model) EndSubMB() { m.sub = subMB{} }

// BeginCodingType starts a coding phase. For the significance map,
// zigzagIndex is the scan position of the first coefficient.
func (m *Model) BeginCodingType(ct CodingType, zigzagIndex, param0, param1 int) {
	m.ct = ct
	if ct == SignificanceMap {
		m.sig = sigState{zzStart: zigzagIndex, zigzag: zigzagIndex}
		m.queue = m.queue[:0]
	}
}

// CodingType returns the phase the model is in, refining the significance
// map into its sub-phases.
func (m *Model) CodingType() CodingType {
	if m.ct == SignificanceMap {
		switch {
		case m.sig.done:
			return Unreachable
		case m.sig.expectEOB:
			return SignificanceEOB
		}
	}
	return m.ct
}

// lastZigzag is the final scan position of the current sub-block; its
// coefficient is never coded explicitly.
func (m *Model) lastZigzag() int {
	return m.sig.zzStart + m.sub.maxCoeff - 1
}

// recordSig stores a significant coefficient at the current scan position.
func (m *Model) recordSig() {
	cell := m.cur.at(m.mbX, m.mbY)
	if cell == nil {
		return
	}
	pos, _ := rasterPos(m.sub.maxCoeff, m.sig.zigzag)
	s8 := m.sub.scan8
	if m.sub.maxCoeff > 16 {
		// The 8x8 transform spreads over four 4x4 cells.
		s8 += pos >> 4
		pos &= 15
	}
	if s8 < numSubBlocks {
		cell.Residual[s8][pos] = 1
	}
	cell.Coded = true
}

// advanceSig moves the significance scan to position zz. Reaching the final
// position makes the last coefficient implicitly significant and ends the
// sub-block.
func (m *Model) advanceSig(zz int) {
	m.sig.zigzag = zz
	if zz >= m.lastZigzag() {
		m.recordSig()
		m.sig.seen++
		m.sig.done = true
	}
}

// observeSig applies one significance-map transition.
func (m *Model) observeSig(symbol int) {
	if m.sig.done {
		panic("model: significance symbol after end of sub-block")
	}
	if m.sig.expectEOB {
		m.sig.expectEOB = false
		if symbol != 0 {
			m.sig.done = true
		} else {
			m.advanceSig(m.sig.zigzag + 1)
		}
		return
	}
	if symbol != 0 {
		m.recordSig()
		m.sig.seen++
		m.sig.expectEOB = true
	} else {
		m.advanceSig(m.sig.zigzag + 1)
	}
}

// resetSigTracking rewinds the decoding-position state machine so buffered
// symbols can be replayed with the same keys the decoding side derives.
func (m *Model) resetSigTracking() {
	total := m.sig.total
	m.sig = sigState{
		zzStart:     m.sig.zzStart,
		zigzag:      m.sig.zzStart,
		total:       total,
		havePrelude: true,
	}
}

// preludeWidth is the bit width of the nonzero-count prelude.
func preludeWidth(maxCoeff int) int {
	switch {
	case maxCoeff <= 4:
		return 2
	case maxCoeff <= 16:
		return 4
	default:
		return 6
	}
}

// nzBitKey derives the key of prelude bit i given the bits serialized so
// far. The discriminator compares the nonzero counts of the temporal and
// spatial neighbor sub-blocks against the bit's weight.
func (m *Model) nzBitKey(i, prefix int) Key {
	here := Coord{MBX: m.mbX, MBY: m.mbY, Scan8: m.sub.scan8}
	d1 := int32(prefix)
	if m.prev.numNonzeros(here) >= 1<<uint(i) {
		d1 |= 1 << 6
	}
	if c, ok := Neighbor(false, here); ok && m.cur.numNonzeros(c) >= 1<<uint(i) {
		d1 |= 1 << 7
	}
	if c, ok := Neighbor(true, here); ok && m.cur.numNonzeros(c) >= 1<<uint(i) {
		d1 |= 1 << 8
	}
	d2 := int32(0)
	if m.sub.maxCoeff > 16 {
		d2 |= 1
	}
	if m.sub.isDC {
		d2 |= 2
	}
	if m.sub.chroma422 {
		d2 |= 4
	}
	d2 |= int32(m.sub.cat) << 3
	return Key{Ctx: &m.nzBitCtx[i], D1: d1, D2: d2}
}

// sigMapKey derives the key of the current significance-map symbol.
func (m *Model) sigMapKey() Key {
	zz := m.sig.zigzag
	var zzOffset int
	switch {
	case m.sub.isDC && m.sub.chroma422:
		zzOffset = int(sigCoeffOffsetDC[zz])
	case m.sub.maxCoeff > 16:
		zzOffset = int(sigCoeffFlagOffset8x8[0][zz])
	default:
		zzOffset = zz
	}
	d2 := int32(2 * zzOffset)
	if m.sub.isDC {
		d2++
	}
	d2 += 32 * int32(catLookup[m.sub.cat])
	return Key{
		Ctx: &m.sigMapCtx,
		D1:  int32(64*m.sig.total + m.sig.seen),
		D2:  d2,
	}
}

// codePrelude transmits the nonzero count of the sub-block as a fixed-width
// integer, most-significant bit first. A coded sub-block holds at least one
// nonzero coefficient, so the value on the wire is count-1. It returns the
// recovered total.
func (m *Model) codePrelude(c Coder, total int) int {
	width := preludeWidth(m.sub.maxCoeff)
	value := total - 1
	prefix := 0
	for i := width - 1; i >= 0; i-- {
		bit := -1
		if total > 0 {
			bit = (value >> uint(i)) & 1
		}
		k := m.nzBitKey(i, prefix)
		bit = c.Code(bit, m.Prob(k))
		m.update(k, bit, capDefault)
		prefix = prefix<<1 | bit
	}
	return prefix + 1
}

// Symbol handles one context-coded decision. The encoding side passes the
// symbol the parser decoded; the decoding side passes -1. Significance-map
// symbols are buffered on the encoding side and coded at EndCodingType; on
// the decoding side the count prelude is consumed before the first map
// symbol, and end-of-block symbols are answered from the counts without
// touching the compressed stream.
func (m *Model) Symbol(c Coder, symbol int, state *uint8) int {
	if m.ct != SignificanceMap {
		k := Key{Ctx: state}
		symbol = c.Code(symbol, m.Prob(k))
		m.update(k, symbol, capDefault)
		return symbol
	}
	if symbol >= 0 {
		// Encoding side: buffer and track, code later.
		m.queue = append(m.queue, queued{symbol: symbol, eob: m.sig.expectEOB})
		m.observeSig(symbol)
		return symbol
	}
	// Decoding side.
	if m.sig.done {
		// Only reachable when the recoded stream is corrupt; the
		// divergence surfaces as a reconstruction mismatch.
		return 0
	}
	if !m.sig.havePrelude {
		m.sig.total = m.codePrelude(c, 0)
		m.sig.havePrelude = true
	}
	if m.sig.expectEOB {
		symbol = 0
		if m.sig.seen == m.sig.total {
			symbol = 1
		}
		m.observeSig(symbol)
		return symbol
	}
	k := m.sigMapKey()
	symbol = c.Code(-1, m.Prob(k))
	m.update(k, symbol, capSigMap)
	m.observeSig(symbol)
	return symbol
}

// Bypass handles one bypass-coded decision.
func (m *Model) Bypass(c Coder, symbol int) int {
	k := m.BypassKey()
	symbol = c.Code(symbol, m.Prob(k))
	m.update(k, symbol, capDefault)
	return symbol
}

// Terminate handles the end-of-slice decision.
func (m *Model) Terminate(c Coder, symbol int) int {
	k := m.TerminateKey()
	symbol = c.Code(symbol, m.Prob(k))
	m.update(k, symbol, capDefault)
	return symbol
}

// EndCodingType ends a coding phase. Ending the significance map flushes the
// buffered symbols on the encoding side: the count prelude goes out first,
// then the map symbols in original order; end-of-block symbols are dropped
// as the count determines them. Both sides then publish the sub-block's
// nonzero count to the frame buffer.
func (m *Model) EndCodingType(c Coder, ct CodingType) {
	if ct == SignificanceMap && m.ct == SignificanceMap {
		if len(m.queue) > 0 || m.sig.seen > 0 {
			if len(m.queue) > 0 && m.sig.seen == 0 {
				panic("model: significance map without nonzero coefficients")
			}
			if !m.sig.havePrelude {
				// Encoding side: replay the buffer against a
				// rewound state machine.
				m.sig.total = m.sig.seen
				queue := m.queue
				m.resetSigTracking()
				m.codePrelude(c, m.sig.total)
				for _, q := range queue {
					if q.eob {
						m.observeSig(q.symbol)
						continue
					}
					k := m.sigMapKey()
					m.update(k, c.Code(q.symbol, m.Prob(k)), capSigMap)
					m.observeSig(q.symbol)
				}
				m.queue = m.queue[:0]
			}
			if cell := m.cur.at(m.mbX, m.mbY); cell != nil {
				cell.NumNonzeros[m.sub.scan8] = uint8(m.sig.seen)
				cell.Coded = true
			}
		}
		m.sig = sigState{}
	}
	m.ct = Unknown
}
