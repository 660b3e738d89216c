// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recabac

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/recabac/recabac/arith"
	"github.com/recabac/recabac/cabac"
	"github.com/recabac/recabac/internal/xlog"
	"github.com/recabac/recabac/model"
	"github.com/recabac/recabac/parser"
)

// Decompressor reproduces the original file from an archive. The Parser
// field must hold the same hosted parser the archive was produced with.
type Decompressor struct {
	Parser parser.Parser
	Logger xlog.Logger
}

// Decompress replays the parser against a surrogate input stream assembled
// from the archive and writes the reconstructed file to w.
func (d *Decompressor) Decompress(w io.Writer, archive []byte) error {
	if d.Parser == nil {
		return errors.New("recabac: decompressor requires a parser")
	}
	blocks, err := parseArchive(archive)
	if err != nil {
		return err
	}
	run := &decompressRun{
		blocks: blocks,
		states: make([]blockState, len(blocks)),
		m:      model.New(),
		logger: d.Logger,
	}
	if err = d.Parser.DecodeVideo(run, run); err != nil {
		return err
	}
	if run.err != nil {
		return run.err
	}
	for i := range blocks {
		st := &run.states[i]
		if !st.done {
			// Literal runs behind the last coded block need no
			// parser involvement.
			if blocks[i].tag == tagLiteral {
				st.out = blocks[i].literal
				st.done = true
			} else {
				return errUndecoded
			}
		}
		if _, err = w.Write(st.out); err != nil {
			return err
		}
	}
	return nil
}

// blockState tracks the decoding of one archive block.
type blockState struct {
	coded  bool
	marker []byte
	out    []byte
	done   bool
}

// decompressRun assembles the surrogate stream for the parser (io.Reader)
// and intercepts its CABAC slices (parser.Hooks).
type decompressRun struct {
	blocks []*block
	states []blockState

	markers    markerSequence
	readIndex  int
	readOffset int
	readBlock  []byte
	nextCoded  int

	m      *model.Model
	active *blockDecoder
	err    error
	logger xlog.Logger
}

// Read serves the surrogate stream: literal blocks pass through, coded
// blocks turn into a marker followed by NAL-safe padding, skip blocks
// contribute nothing themselves as their bytes arrive in the following
// literal run.
func (r *decompressRun) Read(p []byte) (int, error) {
	n := 0
	for len(p) > 0 && r.readIndex < len(r.blocks) {
		if r.readBlock == nil && r.readOffset == 0 {
			if err := r.prepareBlock(); err != nil {
				return n, err
			}
		}
		k := copy(p, r.readBlock[r.readOffset:])
		r.readOffset += k
		p = p[k:]
		n += k
		if r.readOffset >= len(r.readBlock) {
			r.readBlock = nil
			r.readOffset = 0
			r.readIndex++
		}
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// prepareBlock stages the surrogate bytes of block readIndex.
func (r *decompressRun) prepareBlock() error {
	b := r.blocks[r.readIndex]
	st := &r.states[r.readIndex]
	switch b.tag {
	case tagLiteral:
		st.out = b.literal
		st.done = true
		r.readBlock = b.literal
	case tagCabac:
		st.coded = true
		st.marker = r.markers.next()
		sb, err := surrogateBlock(st.marker, b.size)
		if err != nil {
			return err
		}
		r.readBlock = sb
	case tagSkip:
		st.coded = true
		st.done = true
		r.readBlock = nil
	}
	if r.readBlock == nil {
		// Zero-length stand-in: the block is consumed immediately.
		r.readBlock = []byte{}
	}
	return nil
}

// errSurrogate indicates that a CABAC init does not line up with the coded
// blocks recorded in the archive.
var errSurrogate = errors.New("recabac: surrogate mismatch in coded block")

// recognizeCodedBlock maps a CABAC init to the archive block it replays.
func (r *decompressRun) recognizeCodedBlock(buf []byte) (int, error) {
	for {
		if r.nextCoded >= r.readIndex || r.nextCoded >= len(r.blocks) {
			return 0, fmt.Errorf(
				"recabac: coded block expected, but not recorded in the archive")
		}
		if r.states[r.nextCoded].coded {
			break
		}
		r.nextCoded++
	}
	i := r.nextCoded
	r.nextCoded++
	b := r.blocks[i]
	if b.size != len(buf) {
		return 0, errSurrogate
	}
	if b.tag == tagCabac &&
		!bytes.HasPrefix(buf, r.states[i].marker) {
		return 0, errSurrogate
	}
	return i, nil
}

// InitCABAC recognizes the coded block behind buf. Skip blocks return nil
// hooks: the parser decodes their original bytes itself.
func (r *decompressRun) InitCABAC(buf []byte) (parser.CABACHooks, error) {
	i, err := r.recognizeCodedBlock(buf)
	if err != nil {
		return nil, err
	}
	blk := r.blocks[i]
	if blk.tag == tagSkip {
		return nil, nil
	}
	r.m.Reset()
	bd := &blockDecoder{
		run: r,
		blk: blk,
		st:  &r.states[i],
		m:   r.m,
		out: new(bytes.Buffer),
	}
	dec, err := arith.NewDecoder(bytes.NewReader(blk.cabac), arith.Recode)
	if err != nil {
		return nil, err
	}
	bd.dec = dec
	bd.cenc = cabac.NewEncoder(bd.out)
	r.active = bd
	return bd, nil
}

func (r *decompressRun) FrameSpec(frameNum, mbWidth, mbHeight int) {
	r.m.FrameSpec(frameNum, mbWidth, mbHeight)
}

func (r *decompressRun) MBXY(x, y int) { r.m.MBXY(x, y) }

func (r *decompressRun) BeginSubMB(cat, scan8Index, maxCoeff int, isDC, chroma422 bool) {
	if r.active != nil {
		r.m.BeginSubMB(cat, scan8Index, maxCoeff, isDC, chroma422)
	}
}

func (r *decompressRun) EndSubMB(cat, scan8Index, maxCoeff int, isDC, chroma422 bool) {
	if r.active != nil {
		r.m.EndSubMB()
	}
}

func (r *decompressRun) BeginCodingType(ct model.CodingType, zigzagIndex, param0, param1 int) {
	if r.active != nil {
		r.m.BeginCodingType(ct, zigzagIndex, param0, param1)
	}
}

func (r *decompressRun) EndCodingType(ct model.CodingType) {
	if r.active != nil {
		r.m.EndCodingType(r.active, ct)
	}
}

// blockDecoder replays one recoded block: decisions are recovered from the
// archive's arithmetic stream and re-emitted as the original CABAC bytes.
type blockDecoder struct {
	run  *decompressRun
	blk  *block
	st   *blockState
	m    *model.Model
	dec  *arith.Decoder
	out  *bytes.Buffer
	cenc *cabac.Encoder
}

// Code implements model.Coder for the decoding side: the symbol comes from
// the recoded stream.
func (b *blockDecoder) Code(symbol int, p arith.Prob) int {
	return b.dec.Get(p)
}

func (b *blockDecoder) Get(state *uint8) int {
	symbol := b.m.Symbol(b, -1, state)
	if err := b.cenc.Put(symbol, state); err != nil {
		b.run.err = err
	}
	return symbol
}

func (b *blockDecoder) GetBypass() int {
	symbol := b.m.Bypass(b, -1)
	if err := b.cenc.PutBypass(symbol); err != nil {
		b.run.err = err
	}
	return symbol
}

func (b *blockDecoder) GetTerminate() int {
	symbol := b.m.Terminate(b, -1)
	if err := b.cenc.PutTerminate(symbol); err != nil {
		b.run.err = err
	}
	if symbol != 0 {
		if err := b.finish(); err != nil {
			b.run.err = err
		}
		b.run.active = nil
	}
	return symbol
}

// cabacDigitBytes is the serialized width of one digit of the CABAC
// re-encoder; the re-emitted stream grows in steps of this size.
const cabacDigitBytes = 2

// finish reconciles the re-emitted bytes with the original block. The
// re-encoder emits whole digits and stops at the last nonzero one, while
// the original encoder flushed down to its stop bit, so the streams may
// diverge within the trailing digit: the overage of a final partial digit
// is trimmed, a length-parity difference against the original is settled
// by appending the stored last byte, the remaining shortfall is the
// original's byte-alignment padding, and the stored last byte replaces the
// final byte.
func (b *blockDecoder) finish() error {
	p := b.out.Bytes()
	if over := len(p) - b.blk.size; over > 0 {
		// More than one digit of overage means the streams diverged
		// before the tail; that is corruption, not padding policy.
		if over > cabacDigitBytes {
			return fmt.Errorf(
				"recabac: re-emitted block has %d bytes, original %d",
				len(p), b.blk.size)
		}
		p = p[:b.blk.size]
	}
	if byte(len(p)&1) != b.blk.parity {
		p = append(p, b.blk.lastByte)
	}
	for len(p) < b.blk.size {
		p = append(p, 0)
	}
	p[b.blk.size-1] = b.blk.lastByte
	b.st.out = p
	b.st.done = true
	xlog.Printf(b.run.logger, "re-emitted coded block of %d bytes",
		b.blk.size)
	return nil
}
