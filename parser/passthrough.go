// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package parser

import (
	"io"
)

// Passthrough is a Parser that reports no CABAC slices at all. Driving the
// compressor with it turns any input into a single literal run, which is the
// correct lossless behavior when no hosted H.264 parser is available.
type Passthrough struct{}

// DecodeVideo drains src without reporting any events.
func (Passthrough) DecodeVideo(src io.Reader, h Hooks) error {
	_, err := io.Copy(io.Discard, src)
	return err
}
