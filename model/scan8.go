// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

// The scan-8 layout packs the 48 AC sub-blocks of a macroblock and the three
// DC blocks into a 15x8 grid whose horizontal and vertical steps are 1 and 8.
// Luma occupies rows 1-4, Cb rows 6-9, Cr rows 11-14, always columns 4-7;
// the DC blocks sit in column 0 of rows 0, 5 and 10. Sub-block indices 48,
// 49 and 50 denote the Y, U and V DC blocks.
const (
	// ScanY, ScanU and ScanV are the DC sub-block indices.
	ScanY = 48
	ScanU = 49
	ScanV = 50

	numSubBlocks = 51
)

var scan8 = [numSubBlocks]uint8{
	4 + 1*8, 5 + 1*8, 4 + 2*8, 5 + 2*8,
	6 + 1*8, 7 + 1*8, 6 + 2*8, 7 + 2*8,
	4 + 3*8, 5 + 3*8, 4 + 4*8, 5 + 4*8,
	6 + 3*8, 7 + 3*8, 6 + 4*8, 7 + 4*8,
	4 + 6*8, 5 + 6*8, 4 + 7*8, 5 + 7*8,
	6 + 6*8, 7 + 6*8, 6 + 7*8, 7 + 7*8,
	4 + 8*8, 5 + 8*8, 4 + 9*8, 5 + 9*8,
	6 + 8*8, 7 + 8*8, 6 + 9*8, 7 + 9*8,
	4 + 11*8, 5 + 11*8, 4 + 12*8, 5 + 12*8,
	6 + 11*8, 7 + 11*8, 6 + 12*8, 7 + 12*8,
	4 + 13*8, 5 + 13*8, 4 + 14*8, 5 + 14*8,
	6 + 13*8, 7 + 13*8, 6 + 14*8, 7 + 14*8,
	0 + 0*8, 0 + 5*8, 0 + 10*8,
}

// reverseScan8 inverts scan8. Empty grid cells hold -1; a lookup that walks
// off the plane region crosses the macroblock boundary.
var reverseScan8 [15][8]int8

func init() {
	for r := range reverseScan8 {
		for c := range reverseScan8[r] {
			reverseScan8[r][c] = -1
		}
	}
	for i, cell := range scan8 {
		reverseScan8[cell>>3][cell&7] = int8(i)
	}
}

// Coord addresses a single coefficient: macroblock position, sub-block and
// position in scan order.
type Coord struct {
	MBX, MBY int
	Scan8    int
	Zigzag   int
}

// Neighbor returns the left or above neighboring sub-block of c. The lookup
// crosses the macroblock boundary where the scan-8 grid runs out; it reports
// false at the edge of the frame.
func Neighbor(above bool, c Coord) (n Coord, ok bool) {
	n = c
	if c.Scan8 >= ScanY {
		// A DC block spans the macroblock, its neighbor is the same
		// DC block of the adjacent macroblock.
		if above {
			n.MBY--
		} else {
			n.MBX--
		}
		return n, n.MBX >= 0 && n.MBY >= 0
	}
	cell := scan8[c.Scan8]
	r, col := int(cell>>3), int(cell&7)
	if above {
		r--
	} else {
		col--
	}
	if col < 4 {
		// Left edge of the plane region: column 7 of the macroblock
		// to the left.
		n.MBX--
		col = 7
	} else if reverseScan8[r][col] < 0 {
		// Above the plane region: the plane's bottom row of the
		// macroblock above.
		n.MBY--
		r += 4
	}
	n.Scan8 = int(reverseScan8[r][col])
	return n, n.MBX >= 0 && n.MBY >= 0
}

// Zig-zag scans for the transform grids in use: 2x2 and 2x4 chroma DC, 4x4,
// and 8x8. The inverse permutations map a scan position to its raster cell.
var (
	zigzag4 = [4]uint8{0, 1, 2, 3}
	zigzag8 = [8]uint8{0, 2, 1, 3, 4, 6, 5, 7}

	zigzag16 = [16]uint8{
		0, 1, 4, 8, 5, 2, 3, 6, 9, 12, 13, 10, 7, 11, 14, 15,
	}

	zigzag64 = [64]uint8{
		0, 1, 8, 16, 9, 2, 3, 10, 17, 24, 32, 25, 18, 11, 4, 5,
		12, 19, 26, 33, 40, 48, 41, 34, 27, 20, 13, 6, 7, 14, 21, 28,
		35, 42, 49, 56, 57, 50, 43, 36, 29, 22, 15, 23, 30, 37, 44, 51,
		58, 59, 52, 45, 38, 31, 39, 46, 53, 60, 61, 54, 47, 55, 62, 63,
	}

	unzigzag4  [4]uint8
	unzigzag8  [8]uint8
	unzigzag16 [16]uint8
	unzigzag64 [64]uint8
)

func init() {
	for i, v := range zigzag4 {
		unzigzag4[v] = uint8(i)
	}
	for i, v := range zigzag8 {
		unzigzag8[v] = uint8(i)
	}
	for i, v := range zigzag16 {
		unzigzag16[v] = uint8(i)
	}
	for i, v := range zigzag64 {
		unzigzag64[v] = uint8(i)
	}
}

// rasterPos maps a zig-zag position to the raster cell of the sub-block's
// transform grid and reports the grid width.
func rasterPos(maxCoeff, zigzag int) (pos, width int) {
	switch {
	case maxCoeff <= 4:
		return int(unzigzag4[zigzag]), 2
	case maxCoeff <= 8:
		return int(unzigzag8[zigzag]), 2
	case maxCoeff <= 16:
		return int(unzigzag16[zigzag]), 4
	default:
		return int(unzigzag64[zigzag]), 8
	}
}

// NeighborCoefficient returns the coordinate of the left or above coefficient
// in the same raster grid of the same sub-block. It reports false when the
// walk leaves the grid.
func NeighborCoefficient(above bool, maxCoeff int, c Coord) (n Coord, ok bool) {
	pos, width := rasterPos(maxCoeff, c.Zigzag)
	if above {
		pos -= width
		if pos < 0 {
			return c, false
		}
	} else {
		if pos%width == 0 {
			return c, false
		}
		pos--
	}
	n = c
	switch {
	case maxCoeff <= 4:
		n.Zigzag = int(zigzag4[pos])
	case maxCoeff <= 8:
		n.Zigzag = int(zigzag8[pos])
	case maxCoeff <= 16:
		n.Zigzag = int(zigzag16[pos])
	default:
		n.Zigzag = int(zigzag64[pos])
	}
	return n, true
}

// sigCoeffFlagOffset8x8 maps an 8x8 zig-zag position to its significance
// context offset (Table 9-43). Index 0 is the progressive table; the
// interlaced table at index 1 is defined but not selected anywhere.
var sigCoeffFlagOffset8x8 = [2][63]uint8{
	{
		0, 1, 2, 3, 4, 5, 5, 4, 4, 3, 3, 4, 4, 4, 5, 5,
		4, 4, 4, 4, 3, 3, 6, 7, 7, 7, 8, 9, 10, 9, 8, 7,
		7, 6, 11, 12, 13, 11, 6, 7, 8, 9, 14, 10, 9, 8, 6, 11,
		12, 13, 11, 6, 9, 14, 10, 9, 11, 12, 13, 11, 14, 10, 12,
	},
	{
		0, 1, 1, 2, 2, 3, 3, 4, 5, 6, 7, 7, 7, 8, 4, 5,
		6, 9, 10, 10, 8, 11, 12, 11, 9, 9, 10, 10, 8, 11, 12, 11,
		9, 9, 10, 10, 8, 11, 12, 11, 9, 9, 10, 10, 8, 13, 13, 9,
		9, 10, 10, 8, 13, 13, 9, 9, 10, 10, 14, 14, 14, 14, 14,
	},
}

// sigCoeffOffsetDC maps a chroma 4:2:2 DC zig-zag position to its
// significance context offset.
var sigCoeffOffsetDC = [7]uint8{0, 0, 1, 1, 2, 2, 2}

// catLookup classifies the residual block category for the significance-map
// context class.
var catLookup = [14]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
