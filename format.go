// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recabac

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/ulikunitz/xz"
)

// headerMagic starts every archive; the fifth byte carries the format
// version.
var headerMagic = []byte{0xfd, 'R', 'C', 'B', 0x01, 0x00}

// Record tags. Order in the stream is the only sequencing primitive:
// literal runs alternate with coded entries in parser consumption order.
const (
	tagEnd     = 0
	tagLiteral = 1
	tagCabac   = 2
	tagSkip    = 3
)

// Literal payload flags.
const (
	literalRaw = 0
	literalXZ  = 1
)

// literalXZMin is the smallest literal run worth an xz compression attempt.
const literalXZMin = 64

// block is one archive record.
type block struct {
	tag byte

	literal []byte // tagLiteral: the original bytes

	cabac    []byte // tagCabac: the recoded stream
	size     int    // tagCabac, tagSkip: original coded block size
	parity   byte   // tagCabac: original size & 1
	lastByte byte   // tagCabac: last byte of the original coded block
}

// Archive errors.
var (
	errMagic     = errors.New("recabac: invalid archive magic")
	errChecksum  = errors.New("recabac: archive checksum mismatch")
	errCorrupt   = errors.New("recabac: malformed archive")
	errNoEnd     = errors.New("recabac: archive end record missing")
	errUndecoded = errors.New("recabac: not all blocks were decoded")
)

// writeArchive serializes the block sequence. Large literal runs are stored
// xz-compressed when that shrinks the record.
func writeArchive(w io.Writer, blocks []*block) error {
	body := new(bytes.Buffer)
	for _, b := range blocks {
		if err := writeBlock(body, b); err != nil {
			return err
		}
	}
	body.WriteByte(tagEnd)
	if _, err := w.Write(headerMagic); err != nil {
		return err
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return err
	}
	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], crc32.ChecksumIEEE(body.Bytes()))
	_, err := w.Write(crc[:])
	return err
}

// writeBlock serializes a single record as tag, uvarint length and payload.
func writeBlock(w *bytes.Buffer, b *block) error {
	var payload []byte
	switch b.tag {
	case tagLiteral:
		payload = append([]byte{literalRaw}, b.literal...)
		if len(b.literal) >= literalXZMin {
			if z, err := xzCompress(b.literal); err == nil &&
				len(z)+1 < len(payload) {
				payload = append([]byte{literalXZ}, z...)
			}
		}
	case tagCabac:
		var u [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(u[:], uint64(b.size))
		payload = append(payload, u[:n]...)
		payload = append(payload, b.parity, b.lastByte)
		payload = append(payload, b.cabac...)
	case tagSkip:
		var u [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(u[:], uint64(b.size))
		payload = u[:n]
	default:
		return fmt.Errorf("recabac: unknown block tag %d", b.tag)
	}
	w.WriteByte(b.tag)
	var u [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(u[:], uint64(len(payload)))
	w.Write(u[:n])
	w.Write(payload)
	return nil
}

// xzCompress squeezes p through the xz writer.
func xzCompress(p []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	zw, err := xz.NewWriter(buf)
	if err != nil {
		return nil, err
	}
	if _, err = zw.Write(p); err != nil {
		return nil, err
	}
	if err = zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// xzDecompress expands a literalXZ payload.
func xzDecompress(p []byte) ([]byte, error) {
	zr, err := xz.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(zr)
}

// parseArchive deserializes an archive into its block sequence.
func parseArchive(data []byte) ([]*block, error) {
	if len(data) < len(headerMagic)+5 ||
		!bytes.Equal(data[:len(headerMagic)], headerMagic) {
		return nil, errMagic
	}
	body := data[len(headerMagic):]
	var blocks []*block
	i := 0
	for {
		if i >= len(body) {
			return nil, errNoEnd
		}
		tag := body[i]
		i++
		if tag == tagEnd {
			break
		}
		n, k := binary.Uvarint(body[i:])
		if k <= 0 || n > uint64(len(body)-i-k) {
			return nil, errCorrupt
		}
		i += k
		payload := body[i : i+int(n)]
		i += int(n)
		b, err := parseBlock(tag, payload)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	if len(body)-i != 4 {
		return nil, errCorrupt
	}
	if binary.LittleEndian.Uint32(body[i:]) != crc32.ChecksumIEEE(body[:i]) {
		return nil, errChecksum
	}
	return blocks, nil
}

// parseBlock deserializes one record payload.
func parseBlock(tag byte, payload []byte) (*block, error) {
	b := &block{tag: tag}
	switch tag {
	case tagLiteral:
		if len(payload) < 1 {
			return nil, errCorrupt
		}
		switch payload[0] {
		case literalRaw:
			b.literal = payload[1:]
		case literalXZ:
			lit, err := xzDecompress(payload[1:])
			if err != nil {
				return nil, fmt.Errorf(
					"recabac: literal block: %w", err)
			}
			b.literal = lit
		default:
			return nil, errCorrupt
		}
	case tagCabac:
		size, k := binary.Uvarint(payload)
		if k <= 0 || len(payload) < k+2 {
			return nil, errCorrupt
		}
		if size < SurrogateMarkerBytes || size > 1<<31 {
			return nil, errCorrupt
		}
		b.size = int(size)
		b.parity = payload[k]
		b.lastByte = payload[k+1]
		b.cabac = payload[k+2:]
		if b.parity != byte(size&1) {
			return nil, errCorrupt
		}
	case tagSkip:
		size, k := binary.Uvarint(payload)
		if k <= 0 || k != len(payload) {
			return nil, errCorrupt
		}
		b.size = int(size)
	default:
		return nil, fmt.Errorf("recabac: unknown block tag %d", tag)
	}
	return b, nil
}
