// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package chipmap holds the pure function tables mediating between
// software chip identifiers and ALPIDE hardware addresses
// (RU, cable, chip-on-module), one implementation per detector.
package chipmap // import "github.com/go-its/alpideraw/chipmap"

import "golang.org/x/xerrors"

// ErrInvalidMapping is returned whenever a Mapping method is asked to
// resolve an identifier outside its declared domain.
var ErrInvalidMapping = xerrors.New("chipmap: invalid mapping")

// RUInfo describes one readout unit as seen from software.
type RUInfo struct {
	IDSW          uint16 // software RU index, 0..NRUs()-1
	IDHW          uint16 // hardware RU id
	RUType        uint8  // detector-dependent RU type (e.g. inner/middle/outer barrel)
	NCables       uint8  // number of cables (lanes) this RU type exposes
	ChipIDBase    uint16 // global chip id of chip-on-RU index 0 for this RU
	NChipsOnRU    uint16 // NCables * chips-per-cable for this RU's type
}

// ChipOnRUInfo locates a chip within its RU, both in SW and HW terms.
type ChipOnRUInfo struct {
	CableSW        uint8 // cable index within the RU, 0..NCables-1
	CableHW        uint8 // hardware cable id on the wire
	ChipOnModuleHW uint8 // chip position within its cable's daisy chain
}

// Mapping is the capability interface a detector-specific chip map
// must satisfy. All methods are pure and total over their declared
// domain; out-of-domain input returns ErrInvalidMapping.
//
// ITS and MFT provide concrete, data-driven implementations; see
// NewITS and NewMFT.
type Mapping interface {
	// NRUs returns the total number of readout units known to this mapping.
	NRUs() int

	// RUInfoSW returns the RU descriptor for software RU index ruSW.
	RUInfoSW(ruSW int) (RUInfo, error)

	// FEEId2RUSW resolves a 16-bit FEE id (as carried by the RDH) to a
	// software RU index.
	FEEId2RUSW(feeID uint16) (int, error)

	// RUSW2FEEId returns the FEE id for the given software RU index and
	// GBT link id.
	RUSW2FEEId(ruSW int, linkID uint8) (uint16, error)

	// CableHW2SW translates a hardware cable id, in the context of the
	// given RU type, to a software cable index.
	CableHW2SW(ruType uint8, cableHW uint8) (uint8, error)

	// ChipOnRUInfo returns the (cable, chip-on-module) coordinates of
	// the chipIdOnRU-th chip of an RU of the given type.
	ChipOnRUInfo(ruType uint8, chipIDOnRU uint16) (ChipOnRUInfo, error)

	// NChipsOnRUType returns the number of chips an RU of this type serves.
	NChipsOnRUType(ruType uint8) (uint16, error)

	// GlobalChipID resolves a (chip-on-module, cable-HW) pair, read off
	// the wire for the given RU, to a global software chip id.
	GlobalChipID(chipOnModuleHW uint8, cableHW uint8, ru RUInfo) (uint16, error)

	// CablesOnRUType returns the bitmask of cable (lane) indices an RU
	// of the given type exposes.
	CablesOnRUType(ruType uint8) (uint32, error)

	// GBTHeaderRUType returns the cable-flag byte written into the 10th
	// byte of every data GBT word originating from cableHW on an RU of
	// the given type.
	GBTHeaderRUType(ruType uint8, cableHW uint8) (uint8, error)

	// RUDetectorField returns the value this detector writes into the
	// RDH's detectorField.
	RUDetectorField() uint32
}
