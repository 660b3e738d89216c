// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"

	"github.com/recabac/recabac"
	"github.com/recabac/recabac/arith"
	"github.com/recabac/recabac/cabac"
	"github.com/recabac/recabac/internal/testclip"
	"github.com/recabac/recabac/internal/xlog"
)

// selfTest exercises the coding pipeline end to end: the generic arithmetic
// coder on random sequences, the CABAC engine pair, and full roundtrips over
// synthesized clips including the skip path.
func selfTest(logger xlog.Logger, quiet bool) error {
	report := func(name string) {
		if !quiet {
			fmt.Printf("%-24s ok\n", name)
		}
	}
	if err := coderTest(); err != nil {
		return err
	}
	report("arithmetic coder")
	if err := cabacTest(); err != nil {
		return err
	}
	report("cabac engine")
	for _, cfg := range []testclip.Config{
		{Seed: 42},
		{Seed: 42, ShortSlice: true},
		{Seed: 42, EscapedSlice: true},
	} {
		clip := testclip.Synthesize(cfg)
		stats, err := recabac.Roundtrip(nil, clip.Data, clip.Trace,
			logger)
		if err != nil {
			return err
		}
		xlog.Printf(logger, "clip roundtrip ratio %.2f%%",
			stats.Ratio()*100)
	}
	report("clip roundtrip")
	return nil
}

// coderTest runs random symbol sequences with a handful of probability bins
// through the recode coder and verifies the decode.
func coderTest() error {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 10; round++ {
		var bins [5]uint64
		for i := range bins {
			bins[i] = uint64(1 + rng.Intn(99))
		}
		n := 10000
		ctxs := make([]int, n)
		syms := make([]int, n)
		for i := range syms {
			ctxs[i] = rng.Intn(len(bins))
			if uint64(rng.Intn(100)) < bins[ctxs[i]] {
				syms[i] = 1
			}
		}
		p1 := func(bin uint64) arith.Prob {
			return func(r uint64) uint64 { return r / 100 * bin }
		}
		buf := new(bytes.Buffer)
		e, err := arith.NewEncoder(buf, arith.Recode)
		if err != nil {
			return err
		}
		for i, s := range syms {
			if err = e.Put(s, p1(bins[ctxs[i]])); err != nil {
				return err
			}
		}
		if err = e.Close(); err != nil {
			return err
		}
		d, err := arith.NewDecoder(bytes.NewReader(buf.Bytes()),
			arith.Recode)
		if err != nil {
			return err
		}
		for i := range syms {
			if d.Get(p1(bins[ctxs[i]])) != syms[i] {
				return fmt.Errorf(
					"recabac: coder self-test: symbol %d differs", i)
			}
		}
	}
	return nil
}

// cabacTest encodes a random decision trace and verifies that the CABAC
// engine decodes it.
func cabacTest() error {
	rng := rand.New(rand.NewSource(11))
	var encStates, decStates [64]uint8
	syms := make([]int, 4096)
	ctxs := make([]int, len(syms))
	for i := range syms {
		syms[i] = rng.Intn(2)
		ctxs[i] = rng.Intn(len(encStates))
	}
	buf := new(bytes.Buffer)
	e := cabac.NewEncoder(buf)
	for i, s := range syms {
		if err := e.Put(s, &encStates[ctxs[i]]); err != nil {
			return err
		}
	}
	if err := e.PutTerminate(1); err != nil {
		return err
	}
	d := cabac.NewDecoder(buf.Bytes())
	for i := range syms {
		if d.Get(&decStates[ctxs[i]]) != syms[i] {
			return fmt.Errorf(
				"recabac: cabac self-test: symbol %d differs", i)
		}
	}
	if d.GetTerminate() != 1 {
		return errors.New("recabac: cabac self-test: terminate differs")
	}
	return nil
}
