// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chipmap

// RU types for the Inner Tracking System. Real ITS staves carry many
// more chips per cable on the inner layers than modeled here; this
// mapping keeps the three-barrel structure (inner/middle/outer) and
// the MaxCablesPerRU/MaxChipsPerRU boundary case (outer barrel: 28
// cables x 7 chips = 196, exactly the wire-level MAX_CHIPS_PER_RU) but
// uses a reduced RU count per type so the whole table prints legibly;
// it is intentionally simplified relative to the full 192-stave ALICE
// ITS geometry.
const (
	ITSInnerBarrel  uint8 = 0
	ITSMiddleBarrel uint8 = 1
	ITSOuterBarrel  uint8 = 2
)

// ITSDetectorField is written into the RDH's detectorField by ITS RUs.
const ITSDetectorField = 0x1

func permute(n int, stride int) []uint8 {
	out := make([]uint8, n)
	for i := range out {
		out[i] = uint8((i*stride + 1) % 251) // keep < MAX_CABLES_PER_RU's sentinel headroom (<0xE0)
	}
	return out
}

// NewITS returns the chip mapping for the Inner Tracking System.
func NewITS() Mapping {
	types := []ruTypeSpec{
		{nCables: 9, chipsPerCable: 1, cableHW: permute(9, 3)},
		{nCables: 16, chipsPerCable: 2, cableHW: permute(16, 5)},
		{nCables: 28, chipsPerCable: 7, cableHW: permute(28, 7)},
	}
	counts := []int{12, 16, 20} // IB, MB, OB RU counts (simplified)
	return newTable(ITSDetectorField, types, counts)
}

var _ Mapping = (*table)(nil)
