// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chipmap

// RU types for the Muon Forward Tracker. Real MFT half-disks carry a
// varying number of ladders of varying chip count; this mapping keeps
// the near/far disk distinction with a reduced RU count, simplified
// relative to the full 280-ladder ALICE MFT geometry.
const (
	MFTNearDisk uint8 = 0
	MFTFarDisk  uint8 = 1
)

// MFTDetectorField is written into the RDH's detectorField by MFT RUs.
const MFTDetectorField = 0x2

// NewMFT returns the chip mapping for the Muon Forward Tracker.
func NewMFT() Mapping {
	types := []ruTypeSpec{
		{nCables: 10, chipsPerCable: 1, cableHW: permute(10, 11)},
		{nCables: 14, chipsPerCable: 1, cableHW: permute(14, 13)},
	}
	counts := []int{10, 10} // near-disk, far-disk RU counts (simplified)
	return newTable(MFTDetectorField, types, counts)
}
