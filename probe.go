// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recabac

import (
	"errors"
	"fmt"

	"github.com/nareix/joy4/codec/h264parser"
)

// Info summarizes the H.264 content of an input file.
type Info struct {
	Profile   uint
	Level     uint
	Width     uint
	Height    uint
	MBWidth   uint
	MBHeight  uint
	NALUnits  int
	SPSCount  int
	PPSCount  int
	IDRSlices int
}

// String renders the summary in one line.
func (i *Info) String() string {
	return fmt.Sprintf(
		"h264 profile %d level %d, %dx%d (%dx%d mb), %d NAL units, %d SPS, %d PPS, %d IDR slices",
		i.Profile, i.Level, i.Width, i.Height, i.MBWidth, i.MBHeight,
		i.NALUnits, i.SPSCount, i.PPSCount, i.IDRSlices)
}

// errNoH264 reports input without recognizable H.264 NAL units.
var errNoH264 = errors.New("recabac: no H.264 stream recognized")

// Probe scans data for H.264 NAL units and summarizes the stream. The
// compressor itself treats the input as an opaque byte blob; the summary
// only feeds diagnostics.
func Probe(data []byte) (*Info, error) {
	nalus, typ := h264parser.SplitNALUs(data)
	if typ == h264parser.NALU_RAW || len(nalus) == 0 {
		return nil, errNoH264
	}
	info := &Info{NALUnits: len(nalus)}
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		// NAL unit types per Rec. ITU-T H.264 Table 7-1.
		switch nalu[0] & 0x1f {
		case 7:
			info.SPSCount++
			if sps, err := h264parser.ParseSPS(nalu); err == nil {
				info.Profile = sps.ProfileIdc
				info.Level = sps.LevelIdc
				info.Width = sps.Width
				info.Height = sps.Height
				info.MBWidth = sps.MbWidth
				info.MBHeight = sps.MbHeight
			}
		case 8:
			info.PPSCount++
		case 5:
			info.IDRSlices++
		}
	}
	if info.SPSCount == 0 {
		return nil, errNoH264
	}
	return info, nil
}
