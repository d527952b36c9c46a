// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gbt

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// RDH is the fixed-size header preceding every CRU page. Layout
// (little-endian, RDHSize==64 bytes):
//
//	offset  size  field
//	0       1     Version
//	1       1     HeaderSize
//	2       2     FEEId
//	4       1     zero0          (reserved, must be 0)
//	5       1     LinkId
//	6       2     MemorySize
//	8       2     OffsetToNext
//	10      2     zero1          (reserved, must be 0)
//	12      4     TriggerOrbit
//	16      4     HeartbeatOrbit
//	20      4     zero41         (reserved, must be 0)
//	24      4     zero42         (reserved, must be 0)
//	28      2     TriggerBC
//	30      2     HeartbeatBC
//	32      4     TriggerType
//	36      4     DetectorField
//	40      2     PageCnt
//	42      1     Stop
//	43      1     zero6          (reserved, must be 0)
//	44      8     word5          (reserved, must be 0)
//	52      12    pad            (unused, zero on encode, ignored on decode)
type RDH struct {
	Version        uint8
	HeaderSize     uint8
	FEEId          uint16
	LinkId         uint8
	MemorySize     uint16
	OffsetToNext   uint16
	TriggerOrbit   uint32
	HeartbeatOrbit uint32
	TriggerBC      uint16
	HeartbeatBC    uint16
	TriggerType    uint32
	DetectorField  uint32
	PageCnt        uint16
	Stop           uint8
}

// CurrentVersion is the RDH version this package writes.
const CurrentVersion = 6

// Marshal writes the RDH to the first RDHSize bytes of dst, which
// must be at least that long.
func (h *RDH) Marshal(dst []byte) {
	_ = dst[RDHSize-1]

	dst[0] = h.Version
	dst[1] = h.HeaderSize
	binary.LittleEndian.PutUint16(dst[2:4], h.FEEId)
	dst[4] = 0 // zero0
	dst[5] = h.LinkId
	binary.LittleEndian.PutUint16(dst[6:8], h.MemorySize)
	binary.LittleEndian.PutUint16(dst[8:10], h.OffsetToNext)
	binary.LittleEndian.PutUint16(dst[10:12], 0) // zero1
	binary.LittleEndian.PutUint32(dst[12:16], h.TriggerOrbit)
	binary.LittleEndian.PutUint32(dst[16:20], h.HeartbeatOrbit)
	binary.LittleEndian.PutUint32(dst[20:24], 0) // zero41
	binary.LittleEndian.PutUint32(dst[24:28], 0) // zero42
	binary.LittleEndian.PutUint16(dst[28:30], h.TriggerBC)
	binary.LittleEndian.PutUint16(dst[30:32], h.HeartbeatBC)
	binary.LittleEndian.PutUint32(dst[32:36], h.TriggerType)
	binary.LittleEndian.PutUint32(dst[36:40], h.DetectorField)
	binary.LittleEndian.PutUint16(dst[40:42], h.PageCnt)
	dst[42] = h.Stop
	dst[43] = 0 // zero6
	for i := 44; i < 52; i++ {
		dst[i] = 0 // word5
	}
	for i := 52; i < RDHSize; i++ {
		dst[i] = 0 // pad
	}
}

// Unmarshal reads an RDH from the first RDHSize bytes of src.
func (h *RDH) Unmarshal(src []byte) {
	_ = src[RDHSize-1]

	h.Version = src[0]
	h.HeaderSize = src[1]
	h.FEEId = binary.LittleEndian.Uint16(src[2:4])
	h.LinkId = src[5]
	h.MemorySize = binary.LittleEndian.Uint16(src[6:8])
	h.OffsetToNext = binary.LittleEndian.Uint16(src[8:10])
	h.TriggerOrbit = binary.LittleEndian.Uint32(src[12:16])
	h.HeartbeatOrbit = binary.LittleEndian.Uint32(src[16:20])
	h.TriggerBC = binary.LittleEndian.Uint16(src[28:30])
	h.HeartbeatBC = binary.LittleEndian.Uint16(src[30:32])
	h.TriggerType = binary.LittleEndian.Uint32(src[32:36])
	h.DetectorField = binary.LittleEndian.Uint32(src[36:40])
	h.PageCnt = binary.LittleEndian.Uint16(src[40:42])
	h.Stop = src[42]
}

// IsHeuristicValid reports whether src looks like a genuine RDH: its
// HeaderSize field equals RDHSize and every reserved-must-be-zero
// field is actually zero. This is the only structural check available
// before a page is otherwise interpreted; see FindNextRDH for the
// recovery this backs.
func IsHeuristicValid(src []byte) bool {
	if len(src) < RDHSize {
		return false
	}
	if src[1] != RDHSize {
		return false
	}
	zero0 := src[4]
	zero1 := binary.LittleEndian.Uint16(src[10:12])
	zero41 := binary.LittleEndian.Uint32(src[20:24])
	zero42 := binary.LittleEndian.Uint32(src[24:28])
	zero6 := src[43]
	var word5 uint64
	for i := 44; i < 52; i++ {
		word5 |= uint64(src[i])
	}
	return zero0 == 0 && zero1 == 0 && zero41 == 0 && zero42 == 0 && zero6 == 0 && word5 == 0
}

// FindNextRDH scans buf, advancing by one padded GBT word (wordSize
// bytes) at a time, until it finds an offset at which a heuristically
// valid RDH begins. It returns that offset, or -1 if buf is exhausted
// without finding one.
func FindNextRDH(buf []byte, wordSize int) int {
	for off := 0; off+RDHSize <= len(buf); off += wordSize {
		if IsHeuristicValid(buf[off : off+RDHSize]) {
			return off
		}
	}
	return -1
}

// ErrTruncatedRDH is returned by ReadRDH when fewer than RDHSize bytes remain.
var ErrTruncatedRDH = xerrors.New("gbt: truncated rdh")

// ReadRDH unmarshals the RDH at the start of buf and runs the
// heuristic check on it.
func ReadRDH(buf []byte) (RDH, error) {
	if len(buf) < RDHSize {
		return RDH{}, ErrTruncatedRDH
	}
	if !IsHeuristicValid(buf) {
		return RDH{}, ErrRDHHeuristicFailed
	}
	var h RDH
	h.Unmarshal(buf)
	return h, nil
}
