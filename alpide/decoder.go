// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package alpide

import (
	"golang.org/x/xerrors"

	"github.com/go-its/alpideraw/internal/bytesink"
)

// DecodeChip reads one chip's worth of records from src, starting at
// its current read cursor. It returns the number of bytes consumed
// and advances the cursor by that amount on success. n == 0 and err
// == nil means src holds no more data for this cable. A non-nil err
// means the cable stream is malformed; the caller aborts decoding
// that cable.
//
// The first byte of src MUST be a chip-header or chip-empty token, or
// ErrCableDataHeadWrong is returned.
func DecodeChip(src *bytesink.Buffer) (chip ChipData, n int, err error) {
	buf := src.Bytes()
	if len(buf) == 0 {
		return ChipData{}, 0, nil
	}

	head := buf[0]
	switch head & tagMask4 {
	case tagChipHeader:
		chip.ChipOnModuleHW = head & 0x0F
	case tagChipEmpty:
		if len(buf) < 3 {
			return ChipData{}, -1, xerrors.Errorf("%w: truncated chip-empty token", ErrMalformedRecord)
		}
		chip.ChipOnModuleHW = head & 0x0F
		chip.Empty = true
		chip.BC = uint16(buf[1]) | uint16(buf[2])<<8
		src.Advance(3)
		return chip, 3, nil
	default:
		return ChipData{}, -1, xerrors.Errorf("%w: got tag 0x%x", ErrCableDataHeadWrong, head)
	}

	if len(buf) < 3 {
		return ChipData{}, -1, xerrors.Errorf("%w: truncated chip header", ErrMalformedRecord)
	}
	chip.BC = uint16(buf[1]) | uint16(buf[2])<<8
	pos := 3

	var (
		region     uint8
		haveRegion bool
	)

loop:
	for pos < len(buf) {
		b := buf[pos]
		switch {
		case b&tagMask4 == tagChipTrailer:
			pos++
			break loop

		case b&tagMask3 == tagRegionHdr:
			region = b & 0x1F
			haveRegion = true
			pos++

		case b&tagMask2 == tagDataShort:
			if !haveRegion {
				return ChipData{}, -1, xerrors.Errorf("%w: data record before region header", ErrMalformedRecord)
			}
			if pos+2 > len(buf) {
				return ChipData{}, -1, xerrors.Errorf("%w: truncated data-short record", ErrMalformedRecord)
			}
			encoder := (b >> 2) & 0x0F
			addr := uint16(b&0x03)<<8 | uint16(buf[pos+1])
			row, parity := rowOf(addr)
			chip.Hits = append(chip.Hits, Hit{Row: row, Col: colOf(region, encoder, parity)})
			pos += 2

		case b&tagMask2 == tagDataLong:
			if !haveRegion {
				return ChipData{}, -1, xerrors.Errorf("%w: data record before region header", ErrMalformedRecord)
			}
			if pos+3 > len(buf) {
				return ChipData{}, -1, xerrors.Errorf("%w: truncated data-long record", ErrMalformedRecord)
			}
			encoder := (b >> 2) & 0x0F
			addr := uint16(b&0x03)<<8 | uint16(buf[pos+1])
			hitmap := buf[pos+2]
			row, parity := rowOf(addr)
			col := colOf(region, encoder, parity)
			chip.Hits = append(chip.Hits, Hit{Row: row, Col: col})
			for i := uint(0); i < 7; i++ {
				if hitmap&(1<<i) != 0 {
					chip.Hits = append(chip.Hits, Hit{Row: row + uint16(i) + 1, Col: col})
				}
			}
			pos += 3

		default:
			return ChipData{}, -1, xerrors.Errorf("%w: unrecognized record tag 0x%x", ErrMalformedRecord, b)
		}
	}

	if pos > len(buf) || (pos > 0 && buf[pos-1]&tagMask4 != tagChipTrailer) {
		return ChipData{}, -1, xerrors.Errorf("%w: chip trailer missing", ErrMalformedRecord)
	}

	src.Advance(pos)
	return chip, pos, nil
}
