// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alpide encodes and decodes the compact ALPIDE chip pixel
// stream: one chip-header (or chip-empty) token, followed by region
// and hit records, closed by a chip-trailer.
package alpide // import "github.com/go-its/alpideraw/alpide"

import "golang.org/x/xerrors"

// Hit is one fired pixel, in sensor row/column coordinates.
type Hit struct {
	Row uint16
	Col uint16
}

// ChipData is the chip-local record produced and consumed by the
// codec: the chip's position on its module cable, the trigger bunch
// crossing stamped into the header, and its fired pixels.
type ChipData struct {
	ChipOnModuleHW uint8
	BC             uint16
	Empty          bool // true for a chip-empty token: no hits, chip did not fire
	Hits           []Hit
}

// ErrCableDataHeadWrong is reported when a cable byte stream does not
// begin with a chip-header or chip-empty token.
var ErrCableDataHeadWrong = xerrors.New("alpide: cable data does not start with a chip header")

// ErrMalformedRecord is reported when a record tag is not one of the
// chip-header, chip-empty, region-header, data-short, data-long or
// chip-trailer tags, or a record runs past the end of the buffer.
var ErrMalformedRecord = xerrors.New("alpide: malformed chip record")

// Wire-level record tags. The top bits select the record kind; the
// remaining bits carry the chip id, region id or pixel address, after
// the scheme used by the real ALPIDE chip data format.
const (
	tagChipHeader  = 0xA0 // 1010 cccc: chip header, chip id in low nibble
	tagChipEmpty   = 0xE0 // 1110 cccc: chip empty,  chip id in low nibble
	tagChipTrailer = 0xB0 // 1011 ffff: chip trailer, readout flags in low nibble
	tagRegionHdr   = 0xC0 // 110r rrrr: region header, region id (0..31) in low 5 bits
	tagDataShort   = 0x40 // 01?? ????: data short
	tagDataLong    = 0x00 // 00?? ????: data long

	tagMask4 = 0xF0
	tagMask3 = 0xE0
	tagMask2 = 0xC0
)

const (
	regionWidth   = 32 // columns per region
	encodersPerRU = 16 // double-columns per region
)

// regionOf splits a column into (region, encoderId, parity) the way
// the real chip groups pixels into double-column encoders: region
// selects a 32-column slice, encoderId the double column within it,
// and parity which of the two columns of that double column fired.
func regionOf(col uint16) (region uint8, encoder uint8, parity uint16) {
	region = uint8(col / regionWidth)
	within := col % regionWidth
	encoder = uint8(within / 2)
	parity = within % 2
	return
}

func colOf(region uint8, encoder uint8, parity uint16) uint16 {
	return uint16(region)*regionWidth + uint16(encoder)*2 + parity
}

// addrOf packs (row, parity) into the 10-bit pixel address carried by
// data-short/data-long records.
func addrOf(row uint16, parity uint16) uint16 { return row*2 + parity }

func rowOf(addr uint16) (row uint16, parity uint16) { return addr / 2, addr % 2 }
