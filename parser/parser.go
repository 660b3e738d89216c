// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package parser defines the contract between the recoding drivers and a
// hosted H.264 parser. The parser pulls its input through an io.Reader the
// driver supplies and reports decoding events through the Hooks interface;
// at every CABAC slice boundary it asks the driver for a CABACHooks to
// decode the slice's binary decisions through. The package also provides
// Replay, a parser that re-runs a recorded syntax trace over the real CABAC
// bit engine; it backs the test suite and the self-test command.
package parser

import (
	"io"

	"github.com/recabac/recabac/model"
)

// CABACHooks produce the binary decisions of one CABAC slice. A hosted
// parser calls them instead of its own arithmetic decoding engine.
type CABACHooks interface {
	// Get returns the decision for the context state and advances the
	// state.
	Get(state *uint8) int
	// GetBypass returns a bypass decision.
	GetBypass() int
	// GetTerminate returns the end-of-slice decision.
	GetTerminate() int
}

// Hooks receive the parser's decoding events. InitCABAC is called at every
// CABAC slice with the slice's coded bytes; returning a nil CABACHooks tells
// the parser to run its own unhooked CABAC path for that slice. The
// remaining callbacks report decoding position to the statistical model.
type Hooks interface {
	InitCABAC(buf []byte) (CABACHooks, error)

	FrameSpec(frameNum, mbWidth, mbHeight int)
	MBXY(x, y int)
	BeginSubMB(cat, scan8Index, maxCoeff int, isDC, chroma422 bool)
	EndSubMB(cat, scan8Index, maxCoeff int, isDC, chroma422 bool)
	BeginCodingType(ct model.CodingType, zigzagIndex, param0, param1 int)
	EndCodingType(ct model.CodingType)
}

// Parser drives the decode of all video frames in src, reporting events to
// h. Implementations must consume src strictly sequentially: the drivers
// reconstruct stream positions from the amount of data the parser has
// pulled.
type Parser interface {
	DecodeVideo(src io.Reader, h Hooks) error
}
