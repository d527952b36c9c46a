// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gbt

import (
	"bytes"
	"testing"

	"github.com/go-its/alpideraw/internal/bytesink"
)

func TestWriteReadPageRoundTrip(t *testing.T) {
	buf := bytesink.NewBuffer(4096)

	rdh := RDH{
		Version:        CurrentVersion,
		FEEId:          0x0012,
		LinkId:         1,
		TriggerOrbit:   7,
		HeartbeatOrbit: 7,
		TriggerBC:      42,
		HeartbeatBC:    42,
		TriggerType:    1,
		DetectorField:  0x1,
		PageCnt:        0,
	}
	lanes := []CableChunk{
		{CableSW: 0, Data: []byte{1, 2, 3}},
		{CableSW: 3, Data: []byte{4, 5, 6, 7, 8, 9, 10, 11, 12, 13}},
	}

	err := WritePage(buf, PageParams{RDH: rdh, LanesStop: 0x9, Stop: true}, lanes, false, false)
	if err != nil {
		t.Fatal(err)
	}

	page, err := ReadPage(buf.Bytes(), false)
	if err != nil {
		t.Fatal(err)
	}

	if page.RDH.FEEId != rdh.FEEId || page.RDH.PageCnt != 0 {
		t.Fatalf("rdh round trip mismatch: %+v", page.RDH)
	}
	if page.Header.LanesActive != 0x9 {
		t.Fatalf("LanesActive = 0x%x, want 0x9", page.Header.LanesActive)
	}
	if page.Trailer.LanesStop != 0x9 {
		t.Fatalf("LanesStop = 0x%x, want 0x9", page.Trailer.LanesStop)
	}
	if page.Trailer.PacketState&PacketDone == 0 {
		t.Fatal("PacketDone bit not set on the stop page")
	}

	if len(page.Lanes) != 2 {
		t.Fatalf("got %d lanes, want 2", len(page.Lanes))
	}
	// Every data word carries 9 payload bytes, so each lane comes back
	// zero-filled up to the next multiple of 9.
	for _, l := range page.Lanes {
		switch l.CableSW {
		case 0:
			if !bytes.Equal(l.Data, []byte{1, 2, 3, 0, 0, 0, 0, 0, 0}) {
				t.Fatalf("lane 0 data = %v", l.Data)
			}
		case 3:
			if !bytes.Equal(l.Data, []byte{4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 0, 0, 0, 0, 0, 0, 0, 0}) {
				t.Fatalf("lane 3 data = %v", l.Data)
			}
		}
	}
}

func TestWritePagePadded(t *testing.T) {
	buf := bytesink.NewBuffer(4096)
	rdh := RDH{PageCnt: 0}
	lanes := []CableChunk{{CableSW: 1, Data: []byte{9, 9, 9}}}

	if err := WritePage(buf, PageParams{RDH: rdh, Stop: true, LanesStop: 2}, lanes, true, false); err != nil {
		t.Fatal(err)
	}

	page, err := ReadPage(buf.Bytes(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Lanes) != 1 || !bytes.Equal(page.Lanes[0].Data, []byte{9, 9, 9}) {
		t.Fatalf("padded round trip mismatch: %+v", page.Lanes)
	}
}

func TestWritePageFixedSize(t *testing.T) {
	buf := bytesink.NewBuffer(MaxGBTPacketBytes * 2)
	rdh := RDH{PageCnt: 0}

	if err := WritePage(buf, PageParams{RDH: rdh, Stop: true}, nil, false, true); err != nil {
		t.Fatal(err)
	}
	if buf.Size() != MaxGBTPacketBytes {
		t.Fatalf("fixed page size = %d, want %d", buf.Size(), MaxGBTPacketBytes)
	}
	page, err := ReadPage(buf.Bytes(), false)
	if err != nil {
		t.Fatal(err)
	}
	if int(page.RDH.OffsetToNext) != MaxGBTPacketBytes {
		t.Fatalf("OffsetToNext = %d, want %d", page.RDH.OffsetToNext, MaxGBTPacketBytes)
	}
}

func TestReadPageMissingHeader(t *testing.T) {
	buf := bytesink.NewBuffer(256)
	buf.FillZero(RDHSize)
	buf.FillZero(WordSizeCompact) // not a valid header tag

	_, err := ReadPage(buf.Bytes(), false)
	if err == nil {
		t.Fatal("expected an error for a page missing its data header")
	}
}

func TestFindNextRDH(t *testing.T) {
	buf := bytesink.NewBuffer(512)
	buf.Append(bytes.Repeat([]byte{0xff}, WordSizeCompact*3)) // garbage prefix

	rdh := RDH{PageCnt: 0, FEEId: 7}
	if err := WritePage(buf, PageParams{RDH: rdh, Stop: true}, nil, false, false); err != nil {
		t.Fatal(err)
	}

	off := FindNextRDH(buf.Bytes(), WordSizeCompact)
	if off != WordSizeCompact*3 {
		t.Fatalf("FindNextRDH = %d, want %d", off, WordSizeCompact*3)
	}
}

func TestSameRUAndTrigger(t *testing.T) {
	a := RDH{FEEId: 1, TriggerOrbit: 1, TriggerBC: 1, HeartbeatOrbit: 1, HeartbeatBC: 1, TriggerType: 0x3, PageCnt: 0}
	b := a
	b.PageCnt = 1
	if !SameRUAndTrigger(a, b) {
		t.Fatal("expected continuation")
	}
	if err := CheckPageCounter(a, b); err != nil {
		t.Fatal(err)
	}

	c := b
	c.PageCnt = 3
	if err := CheckPageCounter(b, c); err != ErrPageCounterDiscontinuity {
		t.Fatalf("err = %v, want ErrPageCounterDiscontinuity", err)
	}

	d := a
	d.FEEId = 2
	d.PageCnt = 1
	if SameRUAndTrigger(a, d) {
		t.Fatal("different FEEId must not continue the trigger")
	}
}
