// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rawpix is the top orchestrator of the raw pixel codec: it
// holds per-RU and per-link buffers, drives the encode and decode
// state machines described by the gbt and alpide packages, caches
// enough triggers to guarantee complete RU assembly across links,
// recovers from mis-framed pages, and exposes a per-chip streaming
// decode API.
package rawpix // import "github.com/go-its/alpideraw/rawpix"

import (
	"github.com/go-its/alpideraw/alpide"
	"github.com/go-its/alpideraw/chipmap"
	"github.com/go-its/alpideraw/gbt"
	"github.com/go-its/alpideraw/internal/bytesink"
)

// InteractionRecord identifies a trigger's position in the machine
// clock; equality with a FEEId governs trigger identity.
type InteractionRecord struct {
	Orbit uint32
	BC    uint16
}

// Digit is one fired pixel tagged with the chip it belongs to, the
// unit digits2raw groups by RU.
type Digit struct {
	ChipIDSW uint16
	Row      uint16
	Col      uint16
}

// ChipPixelData is one chip's decoded hits, stamped with the
// interaction record and trigger type mask of the trigger it was
// read out in.
type ChipPixelData struct {
	ChipID      uint16
	IR          InteractionRecord
	TriggerMask uint32
	Hits        []Hit
}

// Hit re-exports the (row, col) pair so callers of this package don't
// need to import alpide just to read decoded hits.
type Hit = alpide.Hit

// error kinds, in the order RUDecodingStat.ErrorCounts indexes them.
const (
	errPageCounterDiscontinuity = iota
	errRDHvsGBTHPageCnt
	errMissingGBTHeader
	errMissingGBTTrailer
	errNonZeroPageAfterStop
	errUnstoppedLanes
	errDataForStoppedLane
	errNoDataForActiveLane
	errIBChipLaneMismatch
	errCableDataHeadWrong
	nErrorsDefined
)

var errorNames = [nErrorsDefined]string{
	errPageCounterDiscontinuity: "Page counter discontinuity",
	errRDHvsGBTHPageCnt:         "RDH page count != GBT header packet id",
	errMissingGBTHeader:         "Missing GBT data header",
	errMissingGBTTrailer:        "Missing GBT data trailer",
	errNonZeroPageAfterStop:     "Non-zero page counter after lanes stopped",
	errUnstoppedLanes:           "Lanes not stopped at end of trigger",
	errDataForStoppedLane:       "Data for a stopped lane",
	errNoDataForActiveLane:      "No data for an active lane",
	errIBChipLaneMismatch:       "Inner barrel chip/lane mismatch",
	errCableDataHeadWrong:       "Cable data does not start with a chip header",
}

// RUDecodingStat accumulates per-RU decoding error counts and a
// packet-state histogram, the way RUDecodingStat does in the source
// this package's decoder is modeled on.
type RUDecodingStat struct {
	NPackets     uint32
	ErrorCounts  [nErrorsDefined]uint32
	PacketStates map[uint8]uint32
}

func newRUDecodingStat() *RUDecodingStat {
	return &RUDecodingStat{PacketStates: make(map[uint8]uint32)}
}

func (s *RUDecodingStat) clear() {
	s.NPackets = 0
	for i := range s.ErrorCounts {
		s.ErrorCounts[i] = 0
	}
	s.PacketStates = make(map[uint8]uint32)
}

func (s *RUDecodingStat) countError(kind int) { s.ErrorCounts[kind]++ }

// Errors reports the human-readable name and count of every error
// kind that fired at least once.
func (s *RUDecodingStat) Errors() map[string]uint32 {
	out := make(map[string]uint32)
	for i, n := range s.ErrorCounts {
		if n > 0 {
			out[errorNames[i]] = n
		}
	}
	return out
}

// RawDecodingStat is the global decoding statistics block: totals
// across every RU of triggers decoded, bytes decoded and bytes skimmed.
type RawDecodingStat struct {
	NTriggersDecoded uint32
	NBytesDecoded    uint64
	NBytesSkimmed    uint64
}

func (s *RawDecodingStat) clear() { *s = RawDecodingStat{} }

// RULink is one GBT link's worth of buffered page bytes, awaiting
// decode.
type RULink struct {
	Buf          *bytesink.Buffer
	LastPageSize int // offset from the buffer's end back to the most recent RDH
	NTriggers    int // number of page-0 RDHs currently buffered and not yet decoded
	lastRDH      gbt.RDH
	haveLastRDH  bool
}

func newRULink() *RULink {
	return &RULink{Buf: bytesink.NewBuffer(2 * gbt.MaxGBTPacketBytes)}
}

// RUDecodeData is the live state of one readout unit: its mapping
// descriptor, one RULink per GBT link, cable-level accumulation
// buffers for the trigger currently being decoded, and its own
// decoding statistics.
type RUDecodeData struct {
	Info  chipmap.RUInfo
	Links [gbt.MaxLinksPerRU]*RULink
	Stat  *RUDecodingStat

	cableData   [][]byte // cableData[cableSW], accumulated for the trigger in progress
	cableHWID   []uint8  // cableHWID[cableSW]
	lanesActive uint32
	lanesStop   uint32
	lanesTOut   uint32
	lanesData   uint32
}

func newRUDecodeData(info chipmap.RUInfo) *RUDecodeData {
	ru := &RUDecodeData{Info: info, Stat: newRUDecodingStat()}
	for i := range ru.Links {
		ru.Links[i] = newRULink()
	}
	ru.cableData = make([][]byte, info.NCables)
	ru.cableHWID = make([]uint8, info.NCables)
	return ru
}

func (ru *RUDecodeData) clearTrigger() {
	for i := range ru.cableData {
		ru.cableData[i] = ru.cableData[i][:0]
	}
	ru.lanesActive, ru.lanesStop, ru.lanesTOut, ru.lanesData = 0, 0, 0, 0
}
