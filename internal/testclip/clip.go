// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testclip synthesizes H.264-like inputs for the replay parser: a
// byte blob containing real CABAC slice payloads plus the syntax trace that
// decodes them. The self-test command and the package tests drive full
// compress/decompress roundtrips with it.
package testclip

import (
	"bytes"
	"math/rand"

	"github.com/recabac/recabac/cabac"
	"github.com/recabac/recabac/model"
	"github.com/recabac/recabac/parser"
)

// Config controls the synthesized clip.
type Config struct {
	// Frames is the number of frames; each becomes one CABAC slice.
	// Defaults to 2.
	Frames int
	// MBWidth and MBHeight are the macroblock dimensions. Default 2x2.
	MBWidth, MBHeight int
	// Seed makes the clip reproducible.
	Seed int64
	// ShortSlice appends a slice whose payload is below the surrogate
	// marker minimum, forcing the skip path.
	ShortSlice bool
	// EscapedSlice appends a slice whose payload carries NAL emulation
	// prevention in the file: the parser delivers the unescaped bytes,
	// which the compressor cannot find verbatim and must skip.
	EscapedSlice bool
}

func (cfg *Config) applyDefaults() {
	if cfg.Frames == 0 {
		cfg.Frames = 2
	}
	if cfg.MBWidth == 0 {
		cfg.MBWidth = 2
	}
	if cfg.MBHeight == 0 {
		cfg.MBHeight = 2
	}
}

// Clip is a synthesized input.
type Clip struct {
	// Data is the file image: header runs interleaved with CABAC
	// payloads.
	Data []byte
	// Trace replays the decode of Data.
	Trace *parser.Replay
	// Payloads are the CABAC slice payloads as the parser delivers them
	// to the hooks. For an escaped slice the file carries the escaped
	// form, which is longer than the payload recorded here.
	Payloads [][]byte
}

// symbol is one recorded CABAC decision of a slice.
type symbol struct {
	kind parser.EventKind
	ctx  int
	sym  int
}

// Synthesize builds a clip.
func Synthesize(cfg Config) *Clip {
	cfg.applyDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))
	clip := &Clip{Trace: &parser.Replay{}}
	var data bytes.Buffer

	frames := cfg.Frames
	if cfg.EscapedSlice {
		frames++
	}
	for frame := 0; frame < frames; frame++ {
		header := randomHeader(rng, 24+rng.Intn(40))
		data.Write(header)
		clip.event(parser.Event{Kind: parser.EvRead, N: len(header)})
		clip.event(parser.Event{
			Kind:     parser.EvFrameSpec,
			FrameNum: frame,
			MBWidth:  cfg.MBWidth,
			MBHeight: cfg.MBHeight,
		})
		escape := cfg.EscapedSlice && frame == frames-1
		data.Write(clip.slice(rng, cfg.MBWidth, cfg.MBHeight, escape))
	}
	if cfg.ShortSlice {
		header := randomHeader(rng, 16)
		data.Write(header)
		clip.event(parser.Event{Kind: parser.EvRead, N: len(header)})
		data.Write(clip.shortSlice(rng))
	}
	tail := randomHeader(rng, 16+rng.Intn(16))
	data.Write(tail)
	clip.event(parser.Event{Kind: parser.EvRead, N: len(tail)})
	clip.Data = data.Bytes()
	return clip
}

func (c *Clip) event(ev parser.Event) {
	c.Trace.Events = append(c.Trace.Events, ev)
}

// randomHeader produces filler bytes standing in for container boxes and
// slice headers.
func randomHeader(rng *rand.Rand, n int) []byte {
	p := make([]byte, n)
	rng.Read(p)
	return p
}

// slice generates the events of one coded slice and returns the bytes the
// file carries for it. The trace events reference the payload only through
// its length; the decisions themselves are encoded into the payload so the
// replay parser's CABAC engine reproduces them. With escape set, the file
// form carries NAL emulation prevention: the parser delivers the unescaped
// payload, which then occurs nowhere in the file.
func (c *Clip) slice(rng *rand.Rand, mbWidth, mbHeight int, escape bool) []byte {
	var syms []symbol
	initIdx := len(c.Trace.Events)
	c.event(parser.Event{Kind: parser.EvInitCABAC})

	for y := 0; y < mbHeight; y++ {
		for x := 0; x < mbWidth; x++ {
			c.event(parser.Event{Kind: parser.EvMBXY, X: x, Y: y})
			// Two 4x4 luma sub-blocks and the chroma U DC block.
			for i := 0; i < 2; i++ {
				syms = c.subBlock(rng, syms, 2, 4*i, 16, false)
			}
			syms = c.subBlock(rng, syms, 3, model.ScanU, 4, true)
			last := y == mbHeight-1 && x == mbWidth-1
			syms = append(syms, symbol{
				kind: parser.EvGetTerminate,
				sym:  boolToInt(last),
			})
			c.event(parser.Event{Kind: parser.EvGetTerminate})
		}
	}

	payload := encodeSlice(syms)
	if !escape {
		c.Trace.Events[initIdx].N = len(payload)
		c.Payloads = append(c.Payloads, payload)
		return payload
	}
	// A trailing zero run after the terminate is never read by the
	// engine but guarantees at least one emulation-prevention byte in
	// the escaped form.
	payload = append(payload, 0, 0, 0)
	file := escapeNAL(payload)
	c.Trace.Events[initIdx].N = len(file)
	c.Trace.Events[initIdx].Unescape = true
	c.Payloads = append(c.Payloads, payload)
	return file
}

// escapeNAL inserts the emulation-prevention byte 0x03 after every pair of
// zero bytes followed by a byte below four.
func escapeNAL(p []byte) []byte {
	out := make([]byte, 0, len(p)+4)
	zeros := 0
	for _, b := range p {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// shortSlice generates a minimal slice whose payload stays below the
// surrogate marker size.
func (c *Clip) shortSlice(rng *rand.Rand) []byte {
	initIdx := len(c.Trace.Events)
	c.event(parser.Event{Kind: parser.EvInitCABAC})
	var syms []symbol
	for i := 0; i < 3; i++ {
		syms = append(syms, symbol{
			kind: parser.EvGet,
			ctx:  60 + i,
			sym:  rng.Intn(2),
		})
		c.event(parser.Event{Kind: parser.EvGet, Ctx: 60 + i})
	}
	syms = append(syms, symbol{kind: parser.EvGetTerminate, sym: 1})
	c.event(parser.Event{Kind: parser.EvGetTerminate})
	payload := encodeSlice(syms)
	c.Trace.Events[initIdx].N = len(payload)
	c.Payloads = append(c.Payloads, payload)
	return payload
}

// subBlock generates the significance map and residual decisions of one
// residual sub-block.
func (c *Clip) subBlock(rng *rand.Rand, syms []symbol, cat, scan8, maxCoeff int, isDC bool) []symbol {
	c.event(parser.Event{
		Kind:     parser.EvBeginSubMB,
		Cat:      cat,
		Scan8:    scan8,
		MaxCoeff: maxCoeff,
		IsDC:     isDC,
	})

	// At least one nonzero coefficient, biased sparse.
	last := maxCoeff - 1
	nonzero := make([]bool, maxCoeff)
	n := 0
	for i := range nonzero {
		if rng.Intn(4) == 0 {
			nonzero[i] = true
			n++
		}
	}
	if n == 0 {
		nonzero[rng.Intn(maxCoeff)] = true
		n = 1
	}

	c.event(parser.Event{
		Kind: parser.EvBeginCodingType,
		CT:   model.SignificanceMap,
	})
	remaining := n
	for pos := 0; pos < last; pos++ {
		mapSym := boolToInt(nonzero[pos])
		syms = append(syms, symbol{
			kind: parser.EvGet,
			ctx:  100 + pos,
			sym:  mapSym,
		})
		c.event(parser.Event{Kind: parser.EvGet, Ctx: 100 + pos})
		if mapSym == 0 {
			continue
		}
		remaining--
		eob := boolToInt(remaining == 0)
		syms = append(syms, symbol{
			kind: parser.EvGet,
			ctx:  140 + pos,
			sym:  eob,
		})
		c.event(parser.Event{Kind: parser.EvGet, Ctx: 140 + pos})
		if eob != 0 {
			break
		}
	}
	c.event(parser.Event{
		Kind: parser.EvEndCodingType,
		CT:   model.SignificanceMap,
	})

	// Magnitude and sign decisions for every nonzero coefficient.
	c.event(parser.Event{
		Kind: parser.EvBeginCodingType,
		CT:   model.Residuals,
	})
	for i := 0; i < n; i++ {
		syms = append(syms, symbol{
			kind: parser.EvGet,
			ctx:  180 + i%8,
			sym:  rng.Intn(2),
		})
		c.event(parser.Event{Kind: parser.EvGet, Ctx: 180 + i%8})
		syms = append(syms, symbol{
			kind: parser.EvGetBypass,
			sym:  rng.Intn(2),
		})
		c.event(parser.Event{Kind: parser.EvGetBypass})
	}
	c.event(parser.Event{
		Kind: parser.EvEndCodingType,
		CT:   model.Residuals,
	})

	c.event(parser.Event{
		Kind:     parser.EvEndSubMB,
		Cat:      cat,
		Scan8:    scan8,
		MaxCoeff: maxCoeff,
		IsDC:     isDC,
	})
	return syms
}

// encodeSlice encodes the decisions into a CABAC payload. The context
// states mirror the replay parser's: zeroed at slice start.
func encodeSlice(syms []symbol) []byte {
	var states [1024]uint8
	buf := new(bytes.Buffer)
	enc := cabac.NewEncoder(buf)
	for _, s := range syms {
		switch s.kind {
		case parser.EvGet:
			enc.Put(s.sym, &states[s.ctx])
		case parser.EvGetBypass:
			enc.PutBypass(s.sym)
		case parser.EvGetTerminate:
			enc.PutTerminate(s.sym)
		}
	}
	return buf.Bytes()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
