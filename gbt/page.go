// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gbt

import (
	"golang.org/x/xerrors"

	"github.com/go-its/alpideraw/internal/bytesink"
)

// CableChunk is one lane's worth of payload bytes destined for (or
// read from) a single page; CableSW is the value written into (or
// read from) byte 9 of its data words. Callers resolve CableSW from
// hardware cable ids via the chip mapping before calling WritePage,
// and translate it back afterwards; this package only moves bytes.
type CableChunk struct {
	CableSW uint8
	Data    []byte
}

// PageParams carries everything WritePage needs beyond the payload:
// the RDH fields fixed by the caller (FEEId, orbit/BC, detector
// field, trigger type) and the lane bookkeeping for this page.
type PageParams struct {
	RDH          RDH
	LanesStop    uint32
	LanesTimeout uint32
	Stop         bool
}

// WritePage appends one page (RDH, data header, data words, data
// trailer) to dst. padded selects 16-byte GBT words; fixedSize pads
// the whole page out to MaxGBTPacketBytes and sets OffsetToNext
// accordingly, mirroring a CRU emitting fixed 8 KB slots.
func WritePage(dst *bytesink.Buffer, p PageParams, lanes []CableChunk, padded, fixedSize bool) error {
	wordSize := WordSizeCompact
	if padded {
		wordSize = WordSizePadded
	}

	var lanesActive uint32
	for _, l := range lanes {
		lanesActive |= 1 << l.CableSW
	}

	nWords := 0
	for _, l := range lanes {
		nWords += (len(l.Data) + 8) / 9 // ceil(len/9)
	}

	memorySize := RDHSize + wordSize*(1+nWords+1) // header + data words + trailer
	if memorySize > MaxGBTPacketBytes {
		return xerrors.Errorf("gbt: page needs %d bytes, exceeds MaxGBTPacketBytes", memorySize)
	}

	rdh := p.RDH
	rdh.HeaderSize = RDHSize
	rdh.MemorySize = uint16(memorySize)
	if fixedSize {
		rdh.OffsetToNext = MaxGBTPacketBytes
	} else {
		rdh.OffsetToNext = uint16(memorySize)
	}
	if p.Stop {
		rdh.Stop = 1
	}

	start := dst.Size()

	hdrBuf := make([]byte, RDHSize)
	rdh.Marshal(hdrBuf)
	dst.Append(hdrBuf)

	word := make([]byte, wordSize)
	dh := DataHeader{LanesActive: lanesActive, PacketId: rdh.PageCnt}
	dh.marshal(word[:WordSizeCompact])
	if padded {
		padWord(word)
	}
	dst.Append(word)

	for _, l := range lanes {
		data := l.Data
		for len(data) > 0 {
			chunk := data
			if len(chunk) > 9 {
				chunk = chunk[:9]
			}
			marshalDataWord(word[:WordSizeCompact], l.CableSW, chunk)
			if padded {
				padWord(word)
			}
			dst.Append(word)
			data = data[len(chunk):]
		}
	}

	dt := DataTrailer{LanesStop: p.LanesStop, LanesTimeout: p.LanesTimeout}
	if p.Stop {
		dt.PacketState = PacketDone
	}
	dt.marshal(word[:WordSizeCompact])
	if padded {
		padWord(word)
	}
	dst.Append(word)

	if fixedSize {
		written := dst.Size() - start
		dst.FillZero(MaxGBTPacketBytes - written)
	}

	return nil
}

// Page is the result of reading one page with ReadPage.
type Page struct {
	RDH     RDH
	Header  DataHeader
	Trailer DataTrailer
	Lanes   []CableChunk // one entry per distinct cableSW seen, in first-seen order
}

// laneOf returns a pointer to p's chunk for cableSW, appending a new
// one if this is the first data word seen for that lane this page.
func (p *Page) laneOf(cableSW uint8) *CableChunk {
	for i := range p.Lanes {
		if p.Lanes[i].CableSW == cableSW {
			return &p.Lanes[i]
		}
	}
	p.Lanes = append(p.Lanes, CableChunk{CableSW: cableSW})
	return &p.Lanes[len(p.Lanes)-1]
}

// ReadPage parses one page out of buf, whose first RDHSize bytes MUST
// already have passed IsHeuristicValid (the caller runs FindNextRDH
// first). It returns the decoded page; the number of bytes the page
// occupies on the wire is its RDH.OffsetToNext. Each data word adds
// all 9 of its payload bytes to its lane's Data.
//
// Per the adopted tolerance for unreliable MemorySize accounting, the
// data-word loop stops as soon as a trailer tag is seen, regardless
// of how many words MemorySize implied.
func ReadPage(buf []byte, padded bool) (Page, error) {
	wordSize := WordSizeCompact
	if padded {
		wordSize = WordSizePadded
	}

	var page Page
	page.RDH.Unmarshal(buf)

	off := RDHSize
	if off+wordSize > len(buf) {
		return Page{}, xerrors.Errorf("%w: truncated page, no room for data header", ErrMissingGBTHeader)
	}
	word := buf[off : off+WordSizeCompact]
	if !isDataHeader(word) {
		return Page{}, ErrMissingGBTHeader
	}
	page.Header.unmarshal(word)
	if page.Header.PacketId != page.RDH.PageCnt {
		return Page{}, xerrors.Errorf("%w: header packet id %d, rdh page count %d",
			ErrRDHvsGBTHPageCnt, page.Header.PacketId, page.RDH.PageCnt)
	}
	off += wordSize

	for {
		if off+wordSize > len(buf) {
			return Page{}, xerrors.Errorf("%w: ran out of page before trailer", ErrMissingGBTTrailer)
		}
		word = buf[off : off+WordSizeCompact]
		if isDataTrailer(word) {
			page.Trailer.unmarshal(word)
			off += wordSize
			break
		}
		cableSW := word[9]
		lane := page.laneOf(cableSW)
		lane.Data = append(lane.Data, word[0:9]...)
		off += wordSize
	}

	return page, nil
}
