// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rawpix

import (
	"sort"

	"golang.org/x/xerrors"

	"github.com/go-its/alpideraw/alpide"
	"github.com/go-its/alpideraw/chipmap"
	"github.com/go-its/alpideraw/gbt"
	"github.com/go-its/alpideraw/internal/bytesink"
	"github.com/go-its/alpideraw/internal/xlog"
)

// Writer encodes grouped pixel digits into the GBT/RDH wire format,
// one RU at a time. It is single-threaded and synchronous; shard
// across RU ranges and run one Writer per shard to parallelize.
type Writer struct {
	Mapping chipmap.Mapping
	Log     xlog.Logger

	padded128     bool
	imposeMaxPage bool

	rus []*ruWriteState
}

type ruWriteState struct {
	info        chipmap.RUInfo
	cable       [][]byte // per-cable pending ALPIDE byte stream for the trigger being built
	buf         []*bytesink.Buffer
	nTriggers   []int
	lastPageOff []int
	pageCnt     []uint16
}

// NewWriter returns a Writer for the given detector chip mapping.
func NewWriter(m chipmap.Mapping) *Writer {
	w := &Writer{Mapping: m, Log: xlog.Nop}
	w.rus = make([]*ruWriteState, m.NRUs())
	return w
}

// SetPadding128 selects 128-bit padded GBT words (the default is
// compact 80-bit words).
func (w *Writer) SetPadding128(v bool) { w.padded128 = v }

// ImposeMaxPage forces every page to MaxGBTPacketBytes with zero
// tail padding, instead of sizing pages to their real content.
func (w *Writer) ImposeMaxPage(v bool) { w.imposeMaxPage = v }

func (w *Writer) ruState(ruSW int) (*ruWriteState, error) {
	if w.rus[ruSW] != nil {
		return w.rus[ruSW], nil
	}
	info, err := w.Mapping.RUInfoSW(ruSW)
	if err != nil {
		return nil, xerrors.Errorf("rawpix: could not resolve ru %d: %w", ruSW, err)
	}
	st := &ruWriteState{
		info:        info,
		cable:       make([][]byte, info.NCables),
		buf:         make([]*bytesink.Buffer, gbt.MaxLinksPerRU),
		nTriggers:   make([]int, gbt.MaxLinksPerRU),
		lastPageOff: make([]int, gbt.MaxLinksPerRU),
		pageCnt:     make([]uint16, gbt.MaxLinksPerRU),
	}
	for i := range st.buf {
		st.buf[i] = bytesink.NewBuffer(2 * gbt.MaxGBTPacketBytes)
	}
	w.rus[ruSW] = st
	return st, nil
}

// Digits2Raw groups digits (already sorted by ChipIDSW ascending) by
// RU, serializes each fired chip's hits through the ALPIDE codec,
// emits chip-empty tokens for chips skipped between two fired chips
// of the same RU, and packages each RU's cable streams into one or
// more pages on link 0 (see fillRULinks). Only RUs with
// software index in [ruSWMin, ruSWMax] are considered. It returns the
// minimum NTriggers across every link touched, or 0 if none were.
func (w *Writer) Digits2Raw(digits []Digit, ir InteractionRecord, ruSWMin, ruSWMax int) (int, error) {
	byRU := make(map[int][]Digit)
	for _, d := range digits {
		ruSW, _, err := w.locate(d.ChipIDSW)
		if err != nil {
			return 0, err
		}
		if ruSW < ruSWMin || ruSW > ruSWMax {
			continue
		}
		byRU[ruSW] = append(byRU[ruSW], d)
	}

	minTriggers := 0
	haveAny := false

	for ruSW := ruSWMin; ruSW <= ruSWMax; ruSW++ {
		ds := byRU[ruSW]
		if err := w.convertRU(ruSW, ds, ir); err != nil {
			return 0, err
		}
		st, err := w.ruState(ruSW)
		if err != nil {
			return 0, err
		}
		if err := w.fillRULinks(st, ir); err != nil {
			return 0, err
		}
		for link := 0; link < int(ruLinksInUse(st.info)); link++ {
			if !haveAny || st.nTriggers[link] < minTriggers {
				minTriggers = st.nTriggers[link]
				haveAny = true
			}
		}
	}

	if !haveAny {
		return 0, nil
	}
	return minTriggers, nil
}

// ruLinksInUse returns how many of MaxLinksPerRU links this RU type
// actually uses. Every cable of an RU is always assigned to link 0;
// real RU firmware can still emit data on link indices 1/2, which the
// decode side (RUDecodeData.Links) handles, but the encoder never
// generates it.
func ruLinksInUse(chipmap.RUInfo) uint8 { return 1 }

func (w *Writer) locate(chipIDSW uint16) (ruSW int, chipOnRU uint16, err error) {
	for sw := 0; sw < w.Mapping.NRUs(); sw++ {
		info, err := w.Mapping.RUInfoSW(sw)
		if err != nil {
			return 0, 0, err
		}
		if chipIDSW >= info.ChipIDBase && chipIDSW < info.ChipIDBase+info.NChipsOnRU {
			return sw, chipIDSW - info.ChipIDBase, nil
		}
	}
	return 0, 0, xerrors.Errorf("rawpix: chip id %d does not resolve to any RU", chipIDSW)
}

// convertRU serializes, for one RU, the fired chips of digits through
// AC, emitting a chip-empty token for every chip id skipped between
// two fired chips of the RU, regardless of which cable the skipped id
// lands on. Chips before the first, or after the last, fired chip of
// the RU get no token at all: an RU that fired nothing produces no
// cable bytes whatsoever.
func (w *Writer) convertRU(ruSW int, digits []Digit, ir InteractionRecord) error {
	st, err := w.ruState(ruSW)
	if err != nil {
		return err
	}

	hitsByChip := make(map[uint16][]alpide.Hit)
	var firedIDs []uint16
	for _, d := range digits {
		chipOnRU := d.ChipIDSW - st.info.ChipIDBase
		if _, ok := hitsByChip[chipOnRU]; !ok {
			firedIDs = append(firedIDs, chipOnRU)
		}
		hitsByChip[chipOnRU] = append(hitsByChip[chipOnRU], alpide.Hit{Row: d.Row, Col: d.Col})
	}
	sort.Slice(firedIDs, func(i, j int) bool { return firedIDs[i] < firedIDs[j] })

	var lastID uint16
	haveLast := false

	for _, chipOnRU := range firedIDs {
		loc, err := w.Mapping.ChipOnRUInfo(st.info.RUType, chipOnRU)
		if err != nil {
			return err
		}

		if haveLast {
			for gap := lastID + 1; gap < chipOnRU; gap++ {
				gloc, err := w.Mapping.ChipOnRUInfo(st.info.RUType, gap)
				if err != nil {
					return err
				}
				dst := bytesink.NewBuffer(4)
				alpide.AddEmptyChip(dst, gloc.ChipOnModuleHW, ir.BC)
				st.cable[gloc.CableSW] = append(st.cable[gloc.CableSW], dst.Bytes()...)
			}
		}

		hits := hitsByChip[chipOnRU]
		alpide.SortHits(hits)
		dst := bytesink.NewBuffer(64)
		alpide.EncodeChip(dst, alpide.ChipData{ChipOnModuleHW: loc.ChipOnModuleHW, BC: ir.BC, Hits: hits})
		st.cable[loc.CableSW] = append(st.cable[loc.CableSW], dst.Bytes()...)

		lastID, haveLast = chipOnRU, true
	}

	return nil
}

// fillRULinks packages the cable streams accumulated by convertRU
// into one or more GBT pages, fragmenting at MaxGBTPacketBytes, and
// appends them to the RU's link buffer.
func (w *Writer) fillRULinks(st *ruWriteState, ir InteractionRecord) error {
	var lanes []gbt.CableChunk
	var lanesActive uint32
	for sw, data := range st.cable {
		if len(data) == 0 {
			continue
		}
		lanes = append(lanes, gbt.CableChunk{CableSW: uint8(sw), Data: data})
		lanesActive |= 1 << uint(sw)
	}

	const linkID = 0
	feeID, err := w.Mapping.RUSW2FEEId(int(st.info.IDSW), linkID)
	if err != nil {
		return err
	}

	wordSize := gbt.WordSizeCompact
	if w.padded128 {
		wordSize = gbt.WordSizePadded
	}
	maxWordsPerPage := (gbt.MaxGBTPacketBytes-gbt.RDHSize)/wordSize - 2

	pageCnt := uint16(0)
	for {
		nWords := 0
		var pageLanes []gbt.CableChunk
		remaining := lanes
		for len(remaining) > 0 && nWords < maxWordsPerPage {
			l := &remaining[0]
			avail := maxWordsPerPage - nWords
			take := (len(l.Data) + 8) / 9
			if take > avail {
				take = avail
			}
			n := take * 9
			if n > len(l.Data) {
				n = len(l.Data)
			}
			pageLanes = append(pageLanes, gbt.CableChunk{CableSW: l.CableSW, Data: l.Data[:n]})
			l.Data = l.Data[n:]
			nWords += (n + 8) / 9
			if len(l.Data) == 0 {
				remaining = remaining[1:]
			}
		}
		lanes = remaining

		stop := len(lanes) == 0
		rdh := gbt.RDH{
			Version:        gbt.CurrentVersion,
			FEEId:          feeID,
			LinkId:         linkID,
			TriggerOrbit:   ir.Orbit,
			HeartbeatOrbit: ir.Orbit,
			TriggerBC:      ir.BC,
			HeartbeatBC:    ir.BC,
			TriggerType:    gbt.TriggerSOT,
			DetectorField:  w.Mapping.RUDetectorField(),
			PageCnt:        pageCnt,
		}
		params := gbt.PageParams{RDH: rdh, Stop: stop}
		if stop {
			params.LanesStop = lanesActive
		}

		if err := gbt.WritePage(st.buf[linkID], params, pageLanes, w.padded128, w.imposeMaxPage); err != nil {
			return err
		}
		st.lastPageOff[linkID] = st.buf[linkID].Size()

		pageCnt++
		if stop {
			break
		}
	}

	st.nTriggers[linkID]++
	for i := range st.cable {
		st.cable[i] = st.cable[i][:0]
	}
	return nil
}

// FlushSuperPages copies up to maxPages complete pages from every
// link of every RU into sink, zero-padding each page to
// MaxGBTPacketBytes, and decrements a link's trigger count once for
// every trigger-closing (Stop) page removed. It returns the total
// number of pages flushed.
func (w *Writer) FlushSuperPages(maxPages int, sink *bytesink.Buffer) int {
	flushed := 0
	for _, st := range w.rus {
		if st == nil {
			continue
		}
		for link := range st.buf {
			buf := st.buf[link]
			for n := 0; n < maxPages && !buf.IsEmpty(); n++ {
				rdh, err := gbt.ReadRDH(buf.Bytes())
				if err != nil {
					w.Log.Warnf("rawpix: link buffer malformed, stopping flush: %v", err)
					break
				}
				pageLen := int(rdh.MemorySize)
				if pageLen > buf.Len() {
					pageLen = buf.Len()
				}
				page := buf.Bytes()[:pageLen]
				sink.Append(page)
				if pad := gbt.MaxGBTPacketBytes - len(page); pad > 0 {
					sink.FillZero(pad)
				}
				buf.Advance(pageLen)
				if rdh.Stop == 1 {
					st.nTriggers[link]--
				}
				flushed++
			}
			buf.Compact()
		}
	}
	return flushed
}
