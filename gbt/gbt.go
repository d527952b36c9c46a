// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gbt composes and decomposes GBT words into CRU pages: a
// Raw Data Header (RDH) followed by a data header, data words and a
// data trailer. Words may be written compact (10 bytes) or padded to
// a 128-bit lane width; pages may be sized to their real content or
// to a fixed CRU slot.
package gbt // import "github.com/go-its/alpideraw/gbt"

import "golang.org/x/xerrors"

// Wire-level constants shared by the whole codec.
const (
	MaxLinksPerRU      = 3
	MaxCablesPerRU     = 28
	MaxChipsPerRU      = 196
	MaxGBTPacketBytes  = 8192
	PagesPerSuperpage  = 256
	WordSizeCompact    = 10
	WordSizePadded     = 16
	RDHSize            = 64
)

// Packet-state bits carried in the data trailer.
const (
	PacketDone uint8 = 1 << 0
)

// TriggerType bits relevant to page validation.
const (
	TriggerSOT uint32 = 1 << 0 // start-of-triggered-data: lanes need not all be stopped
)

var (
	// ErrRDHHeuristicFailed signals a page whose RDH does not pass the
	// reserved-field heuristic; the caller recovers via FindNextRDH.
	ErrRDHHeuristicFailed = xerrors.New("gbt: rdh heuristic check failed")

	ErrPageCounterDiscontinuity = xerrors.New("gbt: page counter discontinuity")
	ErrRDHvsGBTHPageCnt         = xerrors.New("gbt: rdh page count does not match gbt header packet id")
	ErrMissingGBTHeader         = xerrors.New("gbt: missing gbt data header")
	ErrMissingGBTTrailer        = xerrors.New("gbt: missing gbt data trailer")
	ErrNonZeroPageAfterStop     = xerrors.New("gbt: non-zero page counter after lanes already stopped")
	ErrUnstoppedLanes           = xerrors.New("gbt: active lanes not stopped at end of trigger")
	ErrDataForStoppedLane       = xerrors.New("gbt: data word received for a stopped lane")
	ErrNoDataForActiveLane      = xerrors.New("gbt: active lane produced no data")
)
