// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package recabac provides lossless recompression of H.264/AVC video
// files. The CABAC entropy-coded payload of every slice is replaced by the
// output of a more effective arithmetic coder driven by an adaptive
// statistical model; all other bytes of the container pass through as
// literal runs. Decompression reproduces the original file byte for byte.
//
// The package implements the compress and decompress drivers, the archive
// format and the surrogate-marker protocol that lets an unmodified hosted
// H.264 parser replay its decisions during decompression. The arithmetic
// coder, the CABAC re-emission engine and the statistical model live in the
// subpackages arith, cabac and model.
package recabac
