// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recabac

import (
	"bytes"
	"errors"
	"io"

	"github.com/recabac/recabac/arith"
	"github.com/recabac/recabac/cabac"
	"github.com/recabac/recabac/internal/xlog"
	"github.com/recabac/recabac/model"
	"github.com/recabac/recabac/parser"
)

// Compressor turns an input file into a recoded archive. The Parser field
// must hold the hosted H.264 parser; Logger optionally receives stream
// diagnostics.
type Compressor struct {
	Parser parser.Parser
	Logger xlog.Logger
}

// Compress runs the parser over data and writes the archive to w. Input that
// the parser reports no CABAC slices for, H.264 or not, ends up as a single
// literal run.
func (c *Compressor) Compress(w io.Writer, data []byte) error {
	if c.Parser == nil {
		return errors.New("recabac: compressor requires a parser")
	}
	if c.Logger != nil {
		if info, err := Probe(data); err == nil {
			xlog.Printf(c.Logger, "input: %s", info)
		}
	}
	run := &compressRun{input: data, m: model.New(), logger: c.Logger}
	if err := c.Parser.DecodeVideo(run, run); err != nil {
		return err
	}
	if run.err != nil {
		return run.err
	}
	// Flush the bytes behind the last coded block.
	run.blocks = append(run.blocks, &block{
		tag:     tagLiteral,
		literal: data[run.prevCodedEnd:],
	})
	return writeArchive(w, run.blocks)
}

// compressRun is the per-file driver state. It serves the parser's input
// (io.Reader) and receives its decoding events (parser.Hooks).
type compressRun struct {
	input        []byte
	readOffset   int
	prevCodedEnd int
	blocks       []*block
	m            *model.Model
	active       *blockEncoder
	err          error
	logger       xlog.Logger
}

// Read supplies the parser with the input bytes.
func (r *compressRun) Read(p []byte) (int, error) {
	n := copy(p, r.input[r.readOffset:])
	r.readOffset += n
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// InitCABAC opens a coded block. The payload the parser hands in is located
// in the window of input bytes that have been delivered but not yet claimed
// by an earlier block; payloads that cannot be found verbatim (NAL escaping
// already undone by the parser) or are too short for a surrogate marker are
// recorded as skip blocks and left to the parser's own CABAC engine.
func (r *compressRun) InitCABAC(buf []byte) (parser.CABACHooks, error) {
	blk := r.findCodedBlock(buf)
	if blk == nil {
		return nil, nil
	}
	r.m.Reset()
	be := &blockEncoder{
		run:    r,
		blk:    blk,
		m:      r.m,
		engine: cabac.NewDecoder(buf),
		out:    new(bytes.Buffer),
	}
	enc, err := arith.NewEncoder(be.out, arith.Recode)
	if err != nil {
		return nil, err
	}
	be.enc = enc
	r.active = be
	return be, nil
}

// findCodedBlock emits the literal gap in front of the coded payload and
// appends the block the recoder will fill, or a skip block when the payload
// cannot be recoded.
func (r *compressRun) findCodedBlock(buf []byte) *block {
	window := r.input[r.prevCodedEnd:r.readOffset]
	idx := bytes.Index(window, buf)
	if idx < 0 || len(buf) < SurrogateMarkerBytes {
		xlog.Printf(r.logger, "skipping coded block of %d bytes", len(buf))
		r.blocks = append(r.blocks, &block{tag: tagSkip, size: len(buf)})
		return nil
	}
	r.blocks = append(r.blocks, &block{
		tag:     tagLiteral,
		literal: window[:idx],
	})
	r.prevCodedEnd += idx + len(buf)
	blk := &block{
		tag:      tagCabac,
		size:     len(buf),
		parity:   byte(len(buf) & 1),
		lastByte: buf[len(buf)-1],
	}
	r.blocks = append(r.blocks, blk)
	return blk
}

func (r *compressRun) FrameSpec(frameNum, mbWidth, mbHeight int) {
	r.m.FrameSpec(frameNum, mbWidth, mbHeight)
}

func (r *compressRun) MBXY(x, y int) { r.m.MBXY(x, y) }

func (r *compressRun) BeginSubMB(cat, scan8Index, maxCoeff int, isDC, chroma422 bool) {
	if r.active != nil {
		r.m.BeginSubMB(cat, scan8Index, maxCoeff, isDC, chroma422)
	}
}

func (r *compressRun) EndSubMB(cat, scan8Index, maxCoeff int, isDC, chroma422 bool) {
	if r.active != nil {
		r.m.EndSubMB()
	}
}

func (r *compressRun) BeginCodingType(ct model.CodingType, zigzagIndex, param0, param1 int) {
	if r.active != nil {
		r.m.BeginCodingType(ct, zigzagIndex, param0, param1)
	}
}

func (r *compressRun) EndCodingType(ct model.CodingType) {
	if r.active != nil {
		r.m.EndCodingType(r.active, ct)
	}
}

// blockEncoder recodes one CABAC block: the parser's decisions come from the
// real CABAC engine over the original payload and go out through the
// model-driven arithmetic coder.
type blockEncoder struct {
	run    *compressRun
	blk    *block
	m      *model.Model
	engine *cabac.Decoder
	enc    *arith.Encoder
	out    *bytes.Buffer
}

// Code implements model.Coder for the encoding side: the symbol is known and
// written out. Writes to the in-memory buffer cannot fail.
func (b *blockEncoder) Code(symbol int, p arith.Prob) int {
	if err := b.enc.Put(symbol, p); err != nil {
		b.run.err = err
	}
	return symbol
}

func (b *blockEncoder) Get(state *uint8) int {
	symbol := b.engine.Get(state)
	return b.m.Symbol(b, symbol, state)
}

func (b *blockEncoder) GetBypass() int {
	return b.m.Bypass(b, b.engine.GetBypass())
}

func (b *blockEncoder) GetTerminate() int {
	symbol := b.m.Terminate(b, b.engine.GetTerminate())
	if symbol != 0 {
		if err := b.enc.Close(); err != nil {
			b.run.err = err
		}
		b.blk.cabac = append([]byte(nil), b.out.Bytes()...)
		b.run.active = nil
	}
	return symbol
}
