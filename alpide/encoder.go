// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package alpide

import (
	"golang.org/x/exp/slices"

	"github.com/go-its/alpideraw/internal/bytesink"
)

// SortHits orders hits by (row, col) ascending, the order the encoder
// requires its input in.
func SortHits(hits []Hit) {
	slices.SortFunc(hits, func(a, b Hit) bool {
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Col < b.Col
	})
}

// EncodeChip appends chip's chip-header, region/hit records and
// chip-trailer to dst. Hits must already be sorted by (row, col); use
// SortHits if they are not.
func EncodeChip(dst *bytesink.Buffer, chip ChipData) {
	dst.Append([]byte{
		tagChipHeader | chip.ChipOnModuleHW&0x0F,
		byte(chip.BC),
		byte(chip.BC >> 8),
	})

	hits := chip.Hits
	var curRegion uint8
	haveRegion := false

	for i := 0; i < len(hits); {
		region, encoder, parity := regionOf(hits[i].Col)
		if !haveRegion || region != curRegion {
			dst.Append([]byte{tagRegionHdr | region&0x1F})
			curRegion = region
			haveRegion = true
		}

		addr := addrOf(hits[i].Row, parity)

		// Look for a run of pixels in the same encoder/parity with
		// consecutive rows, bundled into one data-long record.
		run := 0
		for run < 7 && i+1+run < len(hits) {
			nr, ne, np := regionOf(hits[i+1+run].Col)
			if nr != region || ne != encoder || np != parity {
				break
			}
			if hits[i+1+run].Row != hits[i].Row+uint16(run)+1 {
				break
			}
			run++
		}

		if run > 0 {
			var hitmap uint8
			for b := 0; b < run; b++ {
				hitmap |= 1 << uint(b)
			}
			dst.Append([]byte{
				tagDataLong | encoder<<2 | byte(addr>>8)&0x03,
				byte(addr),
				hitmap,
			})
			i += run + 1
			continue
		}

		dst.Append([]byte{
			tagDataShort | encoder<<2 | byte(addr>>8)&0x03,
			byte(addr),
		})
		i++
	}

	dst.Append([]byte{tagChipTrailer})
}

// AddEmptyChip appends a chip-empty token for a chip that fired no
// pixels this trigger but must still be represented on its cable.
func AddEmptyChip(dst *bytesink.Buffer, chipOnModuleHW uint8, bc uint16) {
	dst.Append([]byte{
		tagChipEmpty | chipOnModuleHW&0x0F,
		byte(bc),
		byte(bc >> 8),
	})
}
