// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

// Key identifies an estimator slot: an anchoring context byte plus two
// integer discriminators.
type Key struct {
	Ctx    *uint8
	D1, D2 int32
}

// Estimator is a pair of symbol counters. Both start at one so that the
// estimate is defined before any training.
type Estimator struct {
	Pos, Neg uint32
}

// Estimator halving caps. The significance map trains on a shorter horizon.
const (
	capDefault = 0x60
	capSigMap  = 0x50
)

// update counts the observed symbol and halves both counters with round-up
// once their sum exceeds the cap.
func (e *Estimator) update(symbol, cap_ int) {
	if symbol != 0 {
		e.Pos++
	} else {
		e.Neg++
	}
	if e.Pos+e.Neg > uint32(cap_) {
		e.Pos = (e.Pos + 1) / 2
		e.Neg = (e.Neg + 1) / 2
	}
}

// p1 computes the subrange of symbol 1. The division happens first so the
// result stays below range even for small ranges.
func (e *Estimator) p1(rng uint64) uint64 {
	total := uint64(e.Pos + e.Neg)
	return (rng / total) * uint64(e.Pos)
}

// estimator returns the slot for k, creating it on first use.
func (m *Model) estimator(k Key) *Estimator {
	if e, ok := m.estimators[k]; ok {
		return e
	}
	e := &Estimator{Pos: 1, Neg: 1}
	m.estimators[k] = e
	return e
}
