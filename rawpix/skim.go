// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rawpix

import (
	"golang.org/x/xerrors"

	"github.com/go-its/alpideraw/gbt"
	"github.com/go-its/alpideraw/internal/bytesink"
)

// SkimNextRUData reads one page from the front of the raw input
// buffer and re-emits it to sink in compact form: 10-byte GBT words
// instead of 16-byte padded ones, and MemorySize/OffsetToNext shrunk
// to the page's real size. It returns false once the input is
// drained. Skimming a stream decoded from padded words yields chip
// data identical to decoding the padded stream directly; skimming an
// already-compact stream is idempotent.
func (r *Reader) SkimNextRUData(sink *bytesink.Buffer) (bool, error) {
	if err := r.loadInput(); err != nil {
		return false, err
	}

	for {
		buf := r.raw.Bytes()
		if len(buf) < gbt.RDHSize {
			return false, nil
		}
		if gbt.IsHeuristicValid(buf) {
			break
		}
		off := gbt.FindNextRDH(buf, r.wordSize())
		if off < 0 {
			r.raw.Advance(len(buf))
			return false, nil
		}
		r.nRDHRecovered++
		r.raw.Advance(off)
	}

	buf := r.raw.Bytes()
	rdh, err := gbt.ReadRDH(buf)
	if err != nil {
		return false, err
	}
	pageLen := int(rdh.OffsetToNext)
	if pageLen < gbt.RDHSize || pageLen > len(buf) {
		return false, nil
	}

	page, err := gbt.ReadPage(buf[:pageLen], r.padded128)
	if err != nil {
		return false, xerrors.Errorf("rawpix: could not skim page: %w", err)
	}

	lanes := make([]gbt.CableChunk, len(page.Lanes))
	copy(lanes, page.Lanes)

	params := gbt.PageParams{
		RDH:          page.RDH,
		LanesStop:    page.Trailer.LanesStop,
		LanesTimeout: page.Trailer.LanesTimeout,
		Stop:         page.Trailer.PacketState&gbt.PacketDone != 0,
	}
	if err := gbt.WritePage(sink, params, lanes, false, false); err != nil {
		return false, err
	}

	r.raw.Advance(pageLen)
	r.stat.NBytesSkimmed += uint64(pageLen)
	return true, nil
}
