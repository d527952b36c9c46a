// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rawpix

import (
	"bytes"
	"reflect"
	"sort"
	"testing"

	"github.com/go-its/alpideraw/alpide"
	"github.com/go-its/alpideraw/chipmap"
	"github.com/go-its/alpideraw/gbt"
	"github.com/go-its/alpideraw/internal/bytesink"
)

type digitKey struct {
	chipID uint16
	row    uint16
	col    uint16
}

func keysOf(digits []Digit) []digitKey {
	out := make([]digitKey, len(digits))
	for i, d := range digits {
		out[i] = digitKey{d.ChipIDSW, d.Row, d.Col}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func less(a, b digitKey) bool {
	if a.chipID != b.chipID {
		return a.chipID < b.chipID
	}
	if a.row != b.row {
		return a.row < b.row
	}
	return a.col < b.col
}

func keysOfChips(chips []ChipPixelData) []digitKey {
	var out []digitKey
	for _, c := range chips {
		for _, h := range c.Hits {
			out = append(out, digitKey{c.ChipID, h.Row, h.Col})
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func encodeDecode(t *testing.T, digits []Digit, ir InteractionRecord, ruMin, ruMax int) ([]ChipPixelData, *Reader) {
	t.Helper()

	w := NewWriter(chipmap.NewITS())
	if _, err := w.Digits2Raw(digits, ir, ruMin, ruMax); err != nil {
		t.Fatalf("Digits2Raw: %v", err)
	}

	sink := bytesink.NewBuffer(1 << 20)
	w.FlushSuperPages(gbt.PagesPerSuperpage, sink)

	r := NewReader(chipmap.NewITS())
	if err := r.OpenInput(bytes.NewReader(sink.Bytes())); err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	r.SetMinTriggersToCache(gbt.PagesPerSuperpage + 1)

	var got []ChipPixelData
	for {
		var chip ChipPixelData
		ok, err := r.GetNextChipData(&chip)
		if err != nil {
			t.Fatalf("GetNextChipData: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, chip)
	}
	return got, r
}

func TestRoundTripSinglePixel(t *testing.T) {
	digits := []Digit{{ChipIDSW: 2, Row: 3, Col: 5}}
	ir := InteractionRecord{Orbit: 100, BC: 42}

	got, r := encodeDecode(t, digits, ir, 0, 0)

	if !reflect.DeepEqual(keysOf(digits), keysOfChips(got)) {
		t.Fatalf("decoded %v, want %v", keysOfChips(got), keysOf(digits))
	}

	ruStat := r.GetRUDecodingStatSW(0)
	if ruStat == nil {
		t.Fatal("no stat recorded for ru 0")
	}
	for i, n := range ruStat.ErrorCounts {
		if n != 0 {
			t.Fatalf("unexpected error count at index %d: %d", i, n)
		}
	}
}

func TestRoundTripManyPixels(t *testing.T) {
	var digits []Digit
	its := chipmap.NewITS()
	info, err := its.RUInfoSW(12 + 16) // first outer barrel RU, plenty of cables/chips
	if err != nil {
		t.Fatal(err)
	}
	for i := uint16(0); i < info.NChipsOnRU; i++ {
		for row := uint16(0); row < 4; row++ {
			digits = append(digits, Digit{ChipIDSW: info.ChipIDBase + i, Row: row, Col: i % 200})
		}
	}
	ir := InteractionRecord{Orbit: 5, BC: 5}

	got, _ := encodeDecode(t, digits, ir, int(info.IDSW), int(info.IDSW))

	if !reflect.DeepEqual(keysOf(digits), keysOfChips(got)) {
		t.Fatalf("decoded %d hits, want %d", len(keysOfChips(got)), len(digits))
	}
}

func TestEmptyTrigger(t *testing.T) {
	ir := InteractionRecord{Orbit: 1, BC: 1}
	got, r := encodeDecode(t, nil, ir, 0, 0)

	if len(got) != 0 {
		t.Fatalf("expected no chips, got %d", len(got))
	}

	ruStat := r.GetRUDecodingStatSW(0)
	if ruStat == nil {
		t.Fatal("expected ru 0 stat to exist")
	}
	if ruStat.NPackets != 1 {
		t.Fatalf("NPackets = %d, want 1 (one empty page)", ruStat.NPackets)
	}
}

func TestSkimIdempotence(t *testing.T) {
	digits := []Digit{{ChipIDSW: 2, Row: 3, Col: 5}, {ChipIDSW: 4, Row: 1, Col: 9}}
	ir := InteractionRecord{Orbit: 1, BC: 1}

	w := NewWriter(chipmap.NewITS())
	if _, err := w.Digits2Raw(digits, ir, 0, 0); err != nil {
		t.Fatal(err)
	}
	raw := bytesink.NewBuffer(1 << 16)
	w.FlushSuperPages(gbt.PagesPerSuperpage, raw)

	skim1 := bytesink.NewBuffer(1 << 16)
	r1 := NewReader(chipmap.NewITS())
	r1.OpenInput(bytes.NewReader(raw.Bytes()))
	for {
		ok, err := r1.SkimNextRUData(skim1)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
	}

	skim2 := bytesink.NewBuffer(1 << 16)
	r2 := NewReader(chipmap.NewITS())
	r2.OpenInput(bytes.NewReader(skim1.Bytes()))
	for {
		ok, err := r2.SkimNextRUData(skim2)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
	}

	if !bytes.Equal(skim1.Bytes(), skim2.Bytes()) {
		t.Fatal("skim(skim(E)) != skim(E)")
	}
}

func TestResyncAfterGarbagePrefix(t *testing.T) {
	digits := []Digit{{ChipIDSW: 2, Row: 3, Col: 5}}
	ir := InteractionRecord{Orbit: 1, BC: 1}

	w := NewWriter(chipmap.NewITS())
	if _, err := w.Digits2Raw(digits, ir, 0, 0); err != nil {
		t.Fatal(err)
	}
	raw := bytesink.NewBuffer(1 << 16)
	w.FlushSuperPages(gbt.PagesPerSuperpage, raw)

	garbage := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 500)
	stream := append(garbage, raw.Bytes()...)

	r := NewReader(chipmap.NewITS())
	r.OpenInput(bytes.NewReader(stream))
	r.SetMinTriggersToCache(gbt.PagesPerSuperpage + 1)

	var got []ChipPixelData
	for {
		var chip ChipPixelData
		ok, err := r.GetNextChipData(&chip)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, chip)
	}

	if !reflect.DeepEqual(keysOf(digits), keysOfChips(got)) {
		t.Fatalf("decoded %v after garbage prefix, want %v", keysOfChips(got), keysOf(digits))
	}
}

// TestMultiPageTriggerPageCounters forces one trigger to spill across
// several GBT pages and checks the raw byte stream directly: page
// counters must run 0,1,2,... with no gaps, and only the last page of
// the trigger carries Stop.
func TestMultiPageTriggerPageCounters(t *testing.T) {
	its := chipmap.NewITS()
	info, err := its.RUInfoSW(12 + 16) // first outer barrel RU: 28 cables, 7 chips/cable
	if err != nil {
		t.Fatal(err)
	}

	var digits []Digit
	for i := uint16(0); i < info.NChipsOnRU; i++ {
		for row := uint16(0); row < 220; row++ {
			digits = append(digits, Digit{ChipIDSW: info.ChipIDBase + i, Row: row, Col: i % 200})
		}
	}
	ir := InteractionRecord{Orbit: 9, BC: 3}

	w := NewWriter(its)
	if _, err := w.Digits2Raw(digits, ir, int(info.IDSW), int(info.IDSW)); err != nil {
		t.Fatalf("Digits2Raw: %v", err)
	}
	raw := bytesink.NewBuffer(1 << 20)
	w.FlushSuperPages(gbt.PagesPerSuperpage, raw)

	// FlushSuperPages zero-pads every page out to a fixed
	// MaxGBTPacketBytes slot, so pages in this stream sit at fixed
	// MaxGBTPacketBytes strides regardless of each page's own
	// (unrewritten) OffsetToNext.
	var pages []gbt.RDH
	buf := raw.Bytes()
	for len(buf) >= gbt.RDHSize {
		rdh, err := gbt.ReadRDH(buf)
		if err != nil {
			t.Fatalf("ReadRDH at page %d: %v", len(pages), err)
		}
		pages = append(pages, rdh)
		if len(buf) < gbt.MaxGBTPacketBytes {
			break
		}
		buf = buf[gbt.MaxGBTPacketBytes:]
	}
	if len(pages) < 2 {
		t.Fatalf("got %d pages, want at least 2 to exercise page-counter continuity", len(pages))
	}

	for i, p := range pages {
		if int(p.PageCnt) != i {
			t.Fatalf("page %d has PageCnt %d, want %d", i, p.PageCnt, i)
		}
		wantStop := i == len(pages)-1
		gotStop := p.Stop == 1
		if gotStop != wantStop {
			t.Fatalf("page %d Stop = %v, want %v", i, gotStop, wantStop)
		}
	}
}

// baseTestRDH returns an RDH template for ru, with small, deterministic
// field values chosen so every reserved word the heuristic checks
// (and every byte a hand-built page would otherwise put at offset 1
// of a 64-byte scan window) comes out zero.
func baseTestRDH(t *testing.T, m chipmap.Mapping, ru chipmap.RUInfo, linkID uint8) gbt.RDH {
	t.Helper()
	feeID, err := m.RUSW2FEEId(int(ru.IDSW), linkID)
	if err != nil {
		t.Fatalf("RUSW2FEEId: %v", err)
	}
	return gbt.RDH{
		Version:       gbt.CurrentVersion,
		FEEId:         feeID,
		LinkId:        linkID,
		TriggerType:   gbt.TriggerSOT,
		DetectorField: m.RUDetectorField(),
	}
}

// oneHitChip encodes a chip carrying a single hit at (row 0, col 0),
// bunch-crossing 0, for chipOnModuleHW.
func oneHitChip(chipOnModuleHW uint8) []byte {
	dst := bytesink.NewBuffer(16)
	alpide.EncodeChip(dst, alpide.ChipData{ChipOnModuleHW: chipOnModuleHW, Hits: []alpide.Hit{{Row: 0, Col: 0}}})
	return dst.Bytes()
}

// TestCorruptedRDHMidTriggerRecovers drops a page whose RDH was
// corrupted mid-stream and checks that the reader resynchronizes on
// the next genuine RDH, counts exactly one recovery and one page
// counter discontinuity, and still yields the chips from the pages on
// either side of the gap.
func TestCorruptedRDHMidTriggerRecovers(t *testing.T) {
	its := chipmap.NewITS()
	info, err := its.RUInfoSW(12 + 16) // first outer barrel RU: chipsPerCable == 7
	if err != nil {
		t.Fatal(err)
	}

	raw := bytesink.NewBuffer(1 << 16)

	// page 0: cable 0 fires, more pages to come.
	rdh0 := baseTestRDH(t, its, info, 0)
	rdh0.PageCnt = 0
	if err := gbt.WritePage(raw, gbt.PageParams{RDH: rdh0}, []gbt.CableChunk{{CableSW: 0, Data: oneHitChip(0)}}, true, false); err != nil {
		t.Fatalf("WritePage(0): %v", err)
	}

	// page 1: cable 1 fires; this page's RDH gets corrupted below and
	// must never reach the decoder.
	corruptOff := raw.Size()
	rdh1 := baseTestRDH(t, its, info, 0)
	rdh1.PageCnt = 1
	if err := gbt.WritePage(raw, gbt.PageParams{RDH: rdh1}, []gbt.CableChunk{{CableSW: 1, Data: oneHitChip(0)}}, true, false); err != nil {
		t.Fatalf("WritePage(1): %v", err)
	}

	// page 2: cable 2 fires and closes the trigger.
	rdh2 := baseTestRDH(t, its, info, 0)
	rdh2.PageCnt = 2
	if err := gbt.WritePage(raw, gbt.PageParams{RDH: rdh2, LanesStop: 1<<0 | 1<<2, Stop: true}, []gbt.CableChunk{{CableSW: 2, Data: oneHitChip(0)}}, true, false); err != nil {
		t.Fatalf("WritePage(2): %v", err)
	}

	buf := raw.Bytes()
	buf[corruptOff+1] = 0xff // HeaderSize field: fails IsHeuristicValid immediately

	r := NewReader(its)
	r.SetPadding128(true)
	r.SetMinTriggersToCache(gbt.PagesPerSuperpage + 1)
	if err := r.OpenInput(bytes.NewReader(buf)); err != nil {
		t.Fatalf("OpenInput: %v", err)
	}

	var got []ChipPixelData
	for {
		var chip ChipPixelData
		ok, err := r.GetNextChipData(&chip)
		if err != nil {
			t.Fatalf("GetNextChipData: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, chip)
	}

	if r.NRDHRecovered() != 1 {
		t.Fatalf("NRDHRecovered() = %d, want 1", r.NRDHRecovered())
	}

	wantIDs := []uint16{info.ChipIDBase + 0, info.ChipIDBase + 2*7}
	var gotIDs []uint16
	for _, c := range got {
		gotIDs = append(gotIDs, c.ChipID)
	}
	sort.Slice(gotIDs, func(i, j int) bool { return gotIDs[i] < gotIDs[j] })
	if !reflect.DeepEqual(gotIDs, wantIDs) {
		t.Fatalf("decoded chip ids %v, want %v (cable 1's chip must be dropped with its corrupted page)", gotIDs, wantIDs)
	}

	ruStat := r.GetRUDecodingStatSW(int(info.IDSW))
	if ruStat == nil {
		t.Fatal("expected ru stat to exist")
	}
	if n := ruStat.ErrorCounts[errPageCounterDiscontinuity]; n != 1 {
		t.Fatalf("errPageCounterDiscontinuity count = %d, want 1", n)
	}
}

// TestStoppedLaneDataStillYielded checks that data arriving for a
// lane already marked stopped is still decoded and yielded, while the
// decoder counts the violation exactly once.
func TestStoppedLaneDataStillYielded(t *testing.T) {
	its := chipmap.NewITS()
	info, err := its.RUInfoSW(2)
	if err != nil {
		t.Fatal(err)
	}

	raw := bytesink.NewBuffer(1 << 16)

	// page 0: cable 0 fires and is reported stopped already, although
	// the trigger continues.
	rdh0 := baseTestRDH(t, its, info, 0)
	rdh0.PageCnt = 0
	if err := gbt.WritePage(raw, gbt.PageParams{RDH: rdh0, LanesStop: 1 << 0}, []gbt.CableChunk{{CableSW: 0, Data: oneHitChip(0)}}, true, false); err != nil {
		t.Fatalf("WritePage(0): %v", err)
	}

	// page 1: more data shows up for cable 0, in violation of it
	// having already been reported stopped; closes the trigger.
	rdh1 := baseTestRDH(t, its, info, 0)
	rdh1.PageCnt = 1
	if err := gbt.WritePage(raw, gbt.PageParams{RDH: rdh1, LanesStop: 1 << 0, Stop: true}, []gbt.CableChunk{{CableSW: 0, Data: oneHitChip(0)}}, true, false); err != nil {
		t.Fatalf("WritePage(1): %v", err)
	}

	r := NewReader(its)
	r.SetPadding128(true)
	r.SetMinTriggersToCache(gbt.PagesPerSuperpage + 1)
	if err := r.OpenInput(bytes.NewReader(raw.Bytes())); err != nil {
		t.Fatalf("OpenInput: %v", err)
	}

	var got []ChipPixelData
	for {
		var chip ChipPixelData
		ok, err := r.GetNextChipData(&chip)
		if err != nil {
			t.Fatalf("GetNextChipData: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, chip)
	}

	if len(got) != 2 {
		t.Fatalf("got %d decoded chips, want 2 (both pages' spurious data still yielded)", len(got))
	}
	for _, c := range got {
		if c.ChipID != info.ChipIDBase {
			t.Fatalf("decoded chip id %d, want %d", c.ChipID, info.ChipIDBase)
		}
	}

	ruStat := r.GetRUDecodingStatSW(int(info.IDSW))
	if ruStat == nil {
		t.Fatal("expected ru stat to exist")
	}
	if n := ruStat.ErrorCounts[errDataForStoppedLane]; n != 1 {
		t.Fatalf("errDataForStoppedLane count = %d, want 1", n)
	}
}

// TestIBChipLaneMismatchStillYielded checks that an inner-barrel chip
// whose reported chip-on-module id does not match the cable it
// arrived on is still decoded under the cable's implied chip id, with
// the mismatch counted once.
func TestIBChipLaneMismatchStillYielded(t *testing.T) {
	its := chipmap.NewITS()
	info, err := its.RUInfoSW(3) // inner barrel RU: one chip per cable
	if err != nil {
		t.Fatal(err)
	}
	if info.RUType != chipmap.ITSInnerBarrel {
		t.Fatalf("ru 3 has type %d, want inner barrel", info.RUType)
	}

	const cableSW = 3 // chip-on-module reported as 0, mismatching the cable

	raw := bytesink.NewBuffer(1 << 16)
	rdh := baseTestRDH(t, its, info, 0)
	rdh.PageCnt = 0
	params := gbt.PageParams{RDH: rdh, LanesStop: 1 << cableSW, Stop: true}
	if err := gbt.WritePage(raw, params, []gbt.CableChunk{{CableSW: cableSW, Data: oneHitChip(0)}}, true, false); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	r := NewReader(its)
	r.SetPadding128(true)
	r.SetMinTriggersToCache(gbt.PagesPerSuperpage + 1)
	if err := r.OpenInput(bytes.NewReader(raw.Bytes())); err != nil {
		t.Fatalf("OpenInput: %v", err)
	}

	var got []ChipPixelData
	for {
		var chip ChipPixelData
		ok, err := r.GetNextChipData(&chip)
		if err != nil {
			t.Fatalf("GetNextChipData: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, chip)
	}

	if len(got) != 1 {
		t.Fatalf("got %d decoded chips, want 1", len(got))
	}
	wantID := info.ChipIDBase + cableSW
	if got[0].ChipID != wantID {
		t.Fatalf("decoded chip id %d, want %d (cable %d's implied id)", got[0].ChipID, wantID, cableSW)
	}

	ruStat := r.GetRUDecodingStatSW(int(info.IDSW))
	if ruStat == nil {
		t.Fatal("expected ru stat to exist")
	}
	if n := ruStat.ErrorCounts[errIBChipLaneMismatch]; n != 1 {
		t.Fatalf("errIBChipLaneMismatch count = %d, want 1", n)
	}
}

// TestDecodeMultiLinkRU builds pages for the same RU on two different
// GBT links directly with gbt.WritePage, bypassing Writer (which only
// ever emits link 0), and checks the reader assembles both links'
// chips into the same trigger.
func TestDecodeMultiLinkRU(t *testing.T) {
	its := chipmap.NewITS()
	info, err := its.RUInfoSW(12 + 16) // first outer barrel RU: chipsPerCable == 7
	if err != nil {
		t.Fatal(err)
	}

	raw := bytesink.NewBuffer(1 << 16)

	rdh0 := baseTestRDH(t, its, info, 0)
	rdh0.PageCnt = 0
	params0 := gbt.PageParams{RDH: rdh0, LanesStop: 1 << 0, Stop: true}
	if err := gbt.WritePage(raw, params0, []gbt.CableChunk{{CableSW: 0, Data: oneHitChip(0)}}, true, false); err != nil {
		t.Fatalf("WritePage(link 0): %v", err)
	}

	rdh1 := baseTestRDH(t, its, info, 1)
	rdh1.PageCnt = 0
	params1 := gbt.PageParams{RDH: rdh1, LanesStop: 1 << 1, Stop: true}
	if err := gbt.WritePage(raw, params1, []gbt.CableChunk{{CableSW: 1, Data: oneHitChip(0)}}, true, false); err != nil {
		t.Fatalf("WritePage(link 1): %v", err)
	}

	r := NewReader(its)
	r.SetPadding128(true)
	r.SetMinTriggersToCache(gbt.PagesPerSuperpage + 1)
	if err := r.OpenInput(bytes.NewReader(raw.Bytes())); err != nil {
		t.Fatalf("OpenInput: %v", err)
	}

	var got []ChipPixelData
	for {
		var chip ChipPixelData
		ok, err := r.GetNextChipData(&chip)
		if err != nil {
			t.Fatalf("GetNextChipData: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, chip)
	}

	wantIDs := []uint16{info.ChipIDBase + 0, info.ChipIDBase + 7}
	var gotIDs []uint16
	for _, c := range got {
		gotIDs = append(gotIDs, c.ChipID)
	}
	sort.Slice(gotIDs, func(i, j int) bool { return gotIDs[i] < gotIDs[j] })
	if !reflect.DeepEqual(gotIDs, wantIDs) {
		t.Fatalf("decoded chip ids %v, want %v (one chip per link)", gotIDs, wantIDs)
	}

	ruStat := r.GetRUDecodingStatSW(int(info.IDSW))
	if ruStat == nil {
		t.Fatal("expected ru stat to exist")
	}
	if ruStat.NPackets != 2 {
		t.Fatalf("NPackets = %d, want 2 (one page per link)", ruStat.NPackets)
	}
}
