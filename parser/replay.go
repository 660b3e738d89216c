// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package parser

import (
	"errors"
	"fmt"
	"io"

	"github.com/recabac/recabac/cabac"
	"github.com/recabac/recabac/model"
)

// EventKind enumerates the events of a recorded syntax trace.
type EventKind int

const (
	// EvRead consumes N bytes of the input outside of coded slices.
	EvRead EventKind = iota
	// EvInitCABAC consumes the N bytes of a CABAC slice payload and
	// opens the slice.
	EvInitCABAC
	// EvGet asks for a context-coded decision on context index Ctx.
	EvGet
	// EvGetBypass asks for a bypass decision.
	EvGetBypass
	// EvGetTerminate asks for the end-of-slice decision; a one closes
	// the slice.
	EvGetTerminate
	// The remaining kinds report decoding position.
	EvFrameSpec
	EvMBXY
	EvBeginSubMB
	EvEndSubMB
	EvBeginCodingType
	EvEndCodingType
)

// Event is one step of a trace. Only the fields of the respective kind are
// meaningful.
type Event struct {
	Kind EventKind

	N   int // EvRead, EvInitCABAC
	Ctx int // EvGet

	// Unescape makes EvInitCABAC undo NAL emulation prevention on the
	// bytes read from the input before handing them to the hooks, the
	// way a real parser delivers a slice payload. The driver then sees
	// bytes that no longer occur verbatim in the stream.
	Unescape bool // EvInitCABAC

	FrameNum, MBWidth, MBHeight int // EvFrameSpec
	X, Y                        int // EvMBXY

	Cat, Scan8, MaxCoeff int  // EvBeginSubMB, EvEndSubMB
	IsDC, Chroma422      bool // EvBeginSubMB, EvEndSubMB

	CT             model.CodingType // EvBeginCodingType, EvEndCodingType
	Zigzag, P0, P1 int              // EvBeginCodingType
}

// numContexts is the size of the replay parser's context-state array,
// matching the CABAC context count a slice decoder carries.
const numContexts = 1024

// Replay is a Parser that re-runs a recorded trace. The binary decisions
// themselves are not part of the trace: they are produced by the hooked
// driver, or by the parser's own CABAC engine for slices the driver leaves
// unhooked. Context states are reinitialized for every slice.
type Replay struct {
	Events []Event

	states [numContexts]uint8
}

var errTraceMisaligned = errors.New("parser: trace event outside coded slice")

// DecodeVideo replays the trace against src and h.
func (r *Replay) DecodeVideo(src io.Reader, h Hooks) error {
	var (
		hooks  CABACHooks
		engine *cabac.Decoder
		buf    []byte
	)
	inSlice := func() bool { return hooks != nil || engine != nil }
	for i := range r.Events {
		ev := &r.Events[i]
		switch ev.Kind {
		case EvRead:
			buf = grow(buf, ev.N)
			if _, err := io.ReadFull(src, buf); err != nil {
				return fmt.Errorf("parser: short read: %w", err)
			}
		case EvInitCABAC:
			if inSlice() {
				return errors.New("parser: slice not terminated")
			}
			payload := make([]byte, ev.N)
			if _, err := io.ReadFull(src, payload); err != nil {
				return fmt.Errorf("parser: short slice read: %w", err)
			}
			if ev.Unescape {
				payload = unescapeNAL(payload)
			}
			for j := range r.states {
				r.states[j] = 0
			}
			ch, err := h.InitCABAC(payload)
			if err != nil {
				return err
			}
			if ch != nil {
				hooks = ch
			} else {
				engine = cabac.NewDecoder(payload)
			}
		case EvGet:
			if !inSlice() {
				return errTraceMisaligned
			}
			state := &r.states[ev.Ctx]
			if hooks != nil {
				hooks.Get(state)
			} else {
				engine.Get(state)
			}
		case EvGetBypass:
			if !inSlice() {
				return errTraceMisaligned
			}
			if hooks != nil {
				hooks.GetBypass()
			} else {
				engine.GetBypass()
			}
		case EvGetTerminate:
			if !inSlice() {
				return errTraceMisaligned
			}
			var sym int
			if hooks != nil {
				sym = hooks.GetTerminate()
			} else {
				sym = engine.GetTerminate()
			}
			if sym != 0 {
				hooks, engine = nil, nil
			}
		case EvFrameSpec:
			h.FrameSpec(ev.FrameNum, ev.MBWidth, ev.MBHeight)
		case EvMBXY:
			h.MBXY(ev.X, ev.Y)
		case EvBeginSubMB:
			h.BeginSubMB(ev.Cat, ev.Scan8, ev.MaxCoeff, ev.IsDC,
				ev.Chroma422)
		case EvEndSubMB:
			h.EndSubMB(ev.Cat, ev.Scan8, ev.MaxCoeff, ev.IsDC,
				ev.Chroma422)
		case EvBeginCodingType:
			h.BeginCodingType(ev.CT, ev.Zigzag, ev.P0, ev.P1)
		case EvEndCodingType:
			h.EndCodingType(ev.CT)
		default:
			return fmt.Errorf("parser: unknown event kind %d", ev.Kind)
		}
	}
	if inSlice() {
		return errors.New("parser: trace ended inside coded slice")
	}
	return nil
}

func grow(p []byte, n int) []byte {
	if cap(p) < n {
		return make([]byte, n)
	}
	return p[:n]
}

// unescapeNAL removes the emulation-prevention bytes of a NAL payload: a
// 0x03 following two zero bytes is dropped.
func unescapeNAL(p []byte) []byte {
	out := make([]byte, 0, len(p))
	zeros := 0
	for _, b := range p {
		if zeros >= 2 && b == 3 {
			zeros = 0
			continue
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
