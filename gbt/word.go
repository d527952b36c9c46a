// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gbt

import "encoding/binary"

// Byte 9 of every 10-byte GBT word tags its kind. Data words carry
// their originating cable's software index there instead (always
// < MaxCablesPerRU, so it never collides with these sentinels).
const (
	wordTagHeader  = 0xE0
	wordTagTrailer = 0xF0
)

// DataHeader is the first word of every page: the mask of lanes
// (cables) carrying data this page, and the packet id, which must
// equal the owning RDH's PageCnt.
type DataHeader struct {
	LanesActive uint32
	PacketId    uint16
}

func (h DataHeader) marshal(dst []byte) {
	_ = dst[9]
	binary.LittleEndian.PutUint32(dst[0:4], h.LanesActive)
	binary.LittleEndian.PutUint16(dst[4:6], h.PacketId)
	dst[6], dst[7], dst[8] = 0, 0, 0
	dst[9] = wordTagHeader
}

func (h *DataHeader) unmarshal(src []byte) {
	_ = src[9]
	h.LanesActive = binary.LittleEndian.Uint32(src[0:4])
	h.PacketId = binary.LittleEndian.Uint16(src[4:6])
}

// isDataHeader reports whether the 10-byte word src is a DataHeader.
func isDataHeader(src []byte) bool { return src[9] == wordTagHeader }

// isDataTrailer reports whether the 10-byte word src is a DataTrailer.
func isDataTrailer(src []byte) bool { return src[9] == wordTagTrailer }

// DataTrailer closes every page: which lanes stopped, which timed
// out, and the packet-state bits (PacketDone on the last page of a
// trigger).
type DataTrailer struct {
	LanesStop    uint32
	LanesTimeout uint32
	PacketState  uint8
}

func (t DataTrailer) marshal(dst []byte) {
	_ = dst[9]
	binary.LittleEndian.PutUint32(dst[0:4], t.LanesStop)
	binary.LittleEndian.PutUint32(dst[4:8], t.LanesTimeout)
	dst[8] = t.PacketState
	dst[9] = wordTagTrailer
}

func (t *DataTrailer) unmarshal(src []byte) {
	_ = src[9]
	t.LanesStop = binary.LittleEndian.Uint32(src[0:4])
	t.LanesTimeout = binary.LittleEndian.Uint32(src[4:8])
	t.PacketState = src[8]
}

// marshalDataWord writes a data word tagged with cableSW to dst (a
// WordSizeCompact-sized slice): up to 9 bytes of payload, zero-filled
// to 9. It returns the number of payload bytes copied.
func marshalDataWord(dst []byte, cableSW uint8, payload []byte) int {
	_ = dst[9]
	n := copy(dst[0:9], payload)
	for i := n; i < 9; i++ {
		dst[i] = 0
	}
	dst[9] = cableSW
	return n
}

// padWord zero-fills the padding tail of a WordSizePadded word whose
// first WordSizeCompact bytes have already been written.
func padWord(word []byte) {
	for i := WordSizeCompact; i < WordSizePadded; i++ {
		word[i] = 0
	}
}
