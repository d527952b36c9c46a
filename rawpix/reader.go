// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rawpix

import (
	"io"

	"golang.org/x/xerrors"

	"github.com/go-its/alpideraw/alpide"
	"github.com/go-its/alpideraw/chipmap"
	"github.com/go-its/alpideraw/gbt"
	"github.com/go-its/alpideraw/internal/bytesink"
	"github.com/go-its/alpideraw/internal/xlog"
)

// RawBufferMargin is the minimum amount of unread input loadInput
// keeps buffered before refilling, and RawBufferSize the capacity the
// raw buffer is grown to hold it plus slack for ~100 max-size pages.
const (
	RawBufferMargin = 5_000_000
	RawBufferSize   = 100*gbt.MaxGBTPacketBytes + 2*RawBufferMargin
)

// minTriggersToCacheFloor is the lowest value SetMinTriggersToCache accepts.
const minTriggersToCacheFloor = gbt.PagesPerSuperpage + 1

// ErrFEEIdUnresolved is fatal to the current call: the chip mapping
// could not resolve an RDH's FEEId to any known RU.
var ErrFEEIdUnresolved = xerrors.New("rawpix: fee id does not resolve to a known ru")

// ErrNoMoreRDH is fatal to the current call: recovery exhausted the
// input without finding another plausible RDH.
var ErrNoMoreRDH = xerrors.New("rawpix: no further rdh found in input")

// Reader decodes a CRU byte stream back into per-chip pixel data. It
// is single-threaded and synchronous; see DecodeShards to parallelize
// across independent streams.
type Reader struct {
	Mapping chipmap.Mapping
	Log     xlog.Logger

	padded128 bool
	verbosity int

	r   io.Reader
	raw *bytesink.Buffer
	eof bool

	rus []*RUDecodeData // indexed by ruSW, created lazily

	minTriggersToCache int
	minTriggersCached  int

	ready []ChipPixelData // decoded, not yet yielded by GetNextChipData

	ir   InteractionRecord
	hbIR InteractionRecord
	trig uint32

	stat          RawDecodingStat
	nRDHRecovered uint32
}

// NewReader returns a Reader for the given detector chip mapping.
func NewReader(m chipmap.Mapping) *Reader {
	r := &Reader{
		Mapping:            m,
		Log:                xlog.Nop,
		raw:                bytesink.NewBuffer(RawBufferSize),
		rus:                make([]*RUDecodeData, m.NRUs()),
		minTriggersToCache: minTriggersToCacheFloor,
	}
	return r
}

// SetPadding128 tells the reader the input uses 128-bit padded GBT
// words; the default is compact 80-bit words.
func (r *Reader) SetPadding128(v bool) { r.padded128 = v }

// SetVerbosity sets the log verbosity level consulted by Log.
func (r *Reader) SetVerbosity(v int) { r.verbosity = v }

// SetMinTriggersToCache sets how many triggers CacheLinksData tries
// to keep buffered per link, floored at PagesPerSuperpage+1.
func (r *Reader) SetMinTriggersToCache(n int) {
	if n < minTriggersToCacheFloor {
		n = minTriggersToCacheFloor
	}
	r.minTriggersToCache = n
}

// OpenInput attaches src as the byte source for subsequent decoding.
func (r *Reader) OpenInput(src io.Reader) error {
	r.r = src
	r.raw.Clear()
	r.eof = false
	return nil
}

// Clear discards all cached and decoded state, the way clear() does
// in the source this reader's caching policy is modeled on.
func (r *Reader) Clear() {
	r.raw.Clear()
	r.ready = nil
	r.rus = make([]*RUDecodeData, r.Mapping.NRUs())
	r.minTriggersCached = 0
	r.stat.clear()
}

func (r *Reader) wordSize() int {
	if r.padded128 {
		return gbt.WordSizePadded
	}
	return gbt.WordSizeCompact
}

// loadInput refills the raw buffer from r.r when less than
// RawBufferMargin unread bytes remain, following PayLoadCont's
// move-unused-to-head policy.
func (r *Reader) loadInput() error {
	if r.eof || r.raw.Len() >= RawBufferMargin {
		return nil
	}
	r.raw.Compact()
	n := r.raw.Fill(func(p []byte) int {
		n, err := r.r.Read(p)
		if n == 0 || err != nil {
			if err != nil && err != io.EOF {
				r.eof = true
			}
			return 0
		}
		return n
	})
	if n == 0 {
		r.eof = true
	}
	return nil
}

func (r *Reader) ensureRU(ruSW int) (*RUDecodeData, error) {
	if ruSW < 0 || ruSW >= len(r.rus) {
		return nil, xerrors.Errorf("rawpix: ru sw %d out of range", ruSW)
	}
	if r.rus[ruSW] == nil {
		info, err := r.Mapping.RUInfoSW(ruSW)
		if err != nil {
			return nil, err
		}
		r.rus[ruSW] = newRUDecodeData(info)
	}
	return r.rus[ruSW], nil
}

// CacheLinksData scans the raw input buffer for RDHs, routing each
// page's bytes into the RULink of the RU and link it belongs to.
// It stops once every link seen so far has at least
// minTriggersToCache triggers buffered, or the input is drained.
func (r *Reader) CacheLinksData() error {
	if err := r.loadInput(); err != nil {
		return err
	}

	wordSize := r.wordSize()

	for {
		buf := r.raw.Bytes()
		if len(buf) < gbt.RDHSize {
			break
		}

		if !gbt.IsHeuristicValid(buf) {
			off := gbt.FindNextRDH(buf, wordSize)
			if off < 0 {
				r.raw.Advance(len(buf))
				break
			}
			r.nRDHRecovered++
			r.raw.Advance(off)
			continue
		}

		rdh, err := gbt.ReadRDH(buf)
		if err != nil {
			r.raw.Advance(wordSize)
			continue
		}

		pageLen := int(rdh.OffsetToNext)
		if pageLen < gbt.RDHSize || pageLen > len(buf) {
			break // incomplete page; wait for more input
		}

		ruSW, err := r.Mapping.FEEId2RUSW(rdh.FEEId)
		if err != nil {
			r.raw.Advance(wordSize)
			continue
		}
		ru, err := r.ensureRU(ruSW)
		if err != nil {
			return err
		}

		if int(rdh.LinkId) >= len(ru.Links) {
			r.raw.Advance(pageLen)
			continue
		}
		link := ru.Links[rdh.LinkId]

		newTrigger := !link.haveLastRDH || !gbt.SameRUAndTrigger(link.lastRDH, rdh)
		if newTrigger {
			link.NTriggers++
		}
		link.lastRDH = rdh
		link.haveLastRDH = true
		link.Buf.Append(buf[:pageLen])
		link.LastPageSize = pageLen

		r.raw.Advance(pageLen)

		if r.allCachedEnough() {
			break
		}

		if r.raw.Len() < gbt.RDHSize {
			if err := r.loadInput(); err != nil {
				return err
			}
			if r.raw.Len() < gbt.RDHSize {
				break
			}
		}
	}

	r.recomputeMinTriggersCached()
	if r.verbosity > 0 {
		r.Log.Debugf("rawpix: cached at least %d triggers", r.minTriggersCached)
	}
	return nil
}

func (r *Reader) recomputeMinTriggersCached() {
	min := -1
	for _, ru := range r.rus {
		if ru == nil {
			continue
		}
		for _, link := range ru.Links {
			if !link.haveLastRDH {
				continue
			}
			if min < 0 || link.NTriggers < min {
				min = link.NTriggers
			}
		}
	}
	if min < 0 {
		min = 0
	}
	r.minTriggersCached = min
}

func (r *Reader) allCachedEnough() bool {
	seenAny := false
	for _, ru := range r.rus {
		if ru == nil {
			continue
		}
		for _, link := range ru.Links {
			if !link.haveLastRDH {
				continue
			}
			seenAny = true
			if link.NTriggers < r.minTriggersToCache {
				return false
			}
		}
	}
	return seenAny
}

// DecodeNextTrigger pops one trigger's worth of pages from every RU
// with buffered data, validates and assembles them via the GBT
// framer, decodes every cable's ALPIDE stream, and queues the
// resulting chip data for GetNextChipData. It returns false once
// there is nothing left buffered to decode.
func (r *Reader) DecodeNextTrigger() (bool, error) {
	decodedAny := false
	haveIR := false

	for ruSW, ru := range r.rus {
		if ru == nil {
			continue
		}
		triggerPresent := false
		for _, link := range ru.Links {
			if link.NTriggers > 0 {
				triggerPresent = true
				break
			}
		}
		if !triggerPresent {
			continue
		}

		ru.clearTrigger()
		var firstRDH gbt.RDH
		haveFirst := false

		for _, link := range ru.Links {
			if link.NTriggers == 0 {
				continue
			}
			rdh, err := r.decodeRUData(ru, link)
			if err != nil {
				return decodedAny, err
			}
			link.NTriggers--
			if !haveFirst {
				firstRDH, haveFirst = rdh, true
			}
		}

		if !haveFirst {
			continue
		}
		if !haveIR {
			r.ir = InteractionRecord{Orbit: firstRDH.TriggerOrbit, BC: firstRDH.TriggerBC}
			r.hbIR = InteractionRecord{Orbit: firstRDH.HeartbeatOrbit, BC: firstRDH.HeartbeatBC}
			r.trig = firstRDH.TriggerType
			haveIR = true
		}

		chips, err := r.decodeAlpideData(ruSW, ru)
		if err != nil {
			return decodedAny, err
		}
		r.ready = append(r.ready, chips...)
		decodedAny = true
	}

	if decodedAny {
		r.stat.NTriggersDecoded++
	}

	r.recomputeMinTriggersCached()
	return decodedAny, nil
}

// decodeRUData pops and validates exactly one trigger's pages from
// link, accumulating cable data into ru. It returns the first page's
// RDH, used by the caller to stamp the trigger's interaction record.
func (r *Reader) decodeRUData(ru *RUDecodeData, link *RULink) (gbt.RDH, error) {
	var (
		firstRDH gbt.RDH
		prevRDH  gbt.RDH
		havePrev bool
		havFirst bool
	)

	for {
		buf := link.Buf.Bytes()
		if len(buf) < gbt.RDHSize {
			return firstRDH, xerrors.Errorf("rawpix: link buffer drained mid-trigger")
		}
		rdh, err := gbt.ReadRDH(buf)
		if err != nil {
			return firstRDH, err
		}
		if !havFirst {
			firstRDH, havFirst = rdh, true
		}

		ru.Stat.NPackets++
		r.stat.NBytesDecoded += uint64(rdh.MemorySize)

		if rdh.PageCnt == 0 {
			ru.lanesStop, ru.lanesData = 0, 0
		} else if ru.lanesActive != 0 && ru.lanesActive == ru.lanesStop {
			ru.Stat.countError(errNonZeroPageAfterStop)
			r.Log.Errorf("rawpix: fee 0x%x: non-zero page counter (%d) while all lanes were stopped", rdh.FEEId, rdh.PageCnt)
		}

		page, err := gbt.ReadPage(buf, r.padded128)
		if err != nil {
			switch {
			case xerrors.Is(err, gbt.ErrMissingGBTHeader):
				ru.Stat.countError(errMissingGBTHeader)
			case xerrors.Is(err, gbt.ErrRDHvsGBTHPageCnt):
				ru.Stat.countError(errRDHvsGBTHPageCnt)
			case xerrors.Is(err, gbt.ErrMissingGBTTrailer):
				ru.Stat.countError(errMissingGBTTrailer)
			}
			r.Log.Errorf("rawpix: fee 0x%x: %v", rdh.FEEId, err)
			// per-trigger non-fatal: skip the malformed page and keep
			// decoding whatever of the trigger follows it.
			link.Buf.Advance(int(rdh.OffsetToNext))
			prevRDH, havePrev = rdh, true
			continue
		}

		ru.lanesActive |= page.Header.LanesActive
		for _, lane := range page.Lanes {
			if ru.lanesStop&(1<<lane.CableSW) != 0 {
				ru.Stat.countError(errDataForStoppedLane)
				r.Log.Errorf("rawpix: fee 0x%x: data for stopped lane %d", rdh.FEEId, lane.CableSW)
			}
			ru.lanesData |= 1 << lane.CableSW
			if int(lane.CableSW) < len(ru.cableData) {
				ru.cableData[lane.CableSW] = append(ru.cableData[lane.CableSW], lane.Data...)
			}
		}
		ru.lanesTOut |= page.Trailer.LanesTimeout
		ru.lanesStop |= page.Trailer.LanesStop

		ru.Stat.PacketStates[page.Trailer.PacketState]++

		if havePrev {
			if err := gbt.CheckPageCounter(prevRDH, rdh); err != nil {
				ru.Stat.countError(errPageCounterDiscontinuity)
				r.Log.Errorf("rawpix: fee 0x%x: %v", rdh.FEEId, err)
			}
		}
		prevRDH, havePrev = rdh, true

		if r.verbosity > 0 {
			r.Log.Debugf("rawpix: fee 0x%x: page %d, %d bytes", rdh.FEEId, rdh.PageCnt, rdh.MemorySize)
		}

		link.Buf.Advance(int(rdh.OffsetToNext))

		stop := page.Trailer.PacketState&gbt.PacketDone != 0
		if stop {
			if err := gbt.CheckEndOfTrigger(ru.lanesActive, ru.lanesStop, ru.lanesTOut, ru.lanesData, rdh.TriggerType); err != nil {
				if xerrors.Is(err, gbt.ErrUnstoppedLanes) {
					ru.Stat.countError(errUnstoppedLanes)
				} else {
					ru.Stat.countError(errNoDataForActiveLane)
				}
				r.Log.Errorf("rawpix: fee 0x%x: %v", rdh.FEEId, err)
			}
			return firstRDH, nil
		}
	}
}

// decodeAlpideData decodes every cable's accumulated ALPIDE byte
// stream for ru, yielding decoded chips in cable-ascending order.
func (r *Reader) decodeAlpideData(ruSW int, ru *RUDecodeData) ([]ChipPixelData, error) {
	var out []ChipPixelData

	nChips, err := r.Mapping.NChipsOnRUType(ru.Info.RUType)
	if err != nil {
		return nil, err
	}

	for cableSW := range ru.cableData {
		cur := bytesink.NewBuffer(len(ru.cableData[cableSW]))
		cur.Append(ru.cableData[cableSW])

		first := true
		for {
			if !first {
				// Data words are zero-filled to 9 payload bytes, so zero
				// bytes can follow a chip on its cable; skip them.
				for cur.Len() > 0 && cur.Bytes()[0] == 0 {
					cur.Advance(1)
				}
			}
			chip, n, err := alpide.DecodeChip(cur)
			if err != nil {
				if first {
					ru.Stat.countError(errCableDataHeadWrong)
					r.Log.Errorf("rawpix: ru %d cable %d: %v", ruSW, cableSW, err)
				}
				break
			}
			if n == 0 {
				break
			}
			first = false
			if chip.Empty {
				continue
			}

			if ru.Info.RUType == 0 && uint8(chip.ChipOnModuleHW) != uint8(cableSW) {
				ru.Stat.countError(errIBChipLaneMismatch)
				r.Log.Errorf("rawpix: ru %d: chip-on-module %d reported on cable %d", ruSW, chip.ChipOnModuleHW, cableSW)
			}

			chipOnRU, cableHW, err := r.locateChipOnCable(ru.Info.RUType, uint8(cableSW), chip.ChipOnModuleHW, nChips)
			if err != nil {
				continue
			}
			global, err := r.Mapping.GlobalChipID(chip.ChipOnModuleHW, cableHW, ru.Info)
			if err != nil {
				continue
			}
			_ = chipOnRU

			out = append(out, ChipPixelData{
				ChipID:      global,
				IR:          r.ir,
				TriggerMask: r.trig,
				Hits:        chip.Hits,
			})
		}
	}

	return out, nil
}

// locateChipOnCable finds the (chipOnRU, cableHW) pair for a chip
// reported at (cableSW, chipOnModuleHW), by scanning the mapping's
// chip table for the RU type. This is the inverse of ChipOnRUInfo,
// used because the wire only carries cableSW.
func (r *Reader) locateChipOnCable(ruType uint8, cableSW, chipOnModuleHW uint8, nChips uint16) (uint16, uint8, error) {
	for chipOnRU := uint16(0); chipOnRU < nChips; chipOnRU++ {
		loc, err := r.Mapping.ChipOnRUInfo(ruType, chipOnRU)
		if err != nil {
			return 0, 0, err
		}
		if loc.CableSW == cableSW && loc.ChipOnModuleHW == chipOnModuleHW {
			return chipOnRU, loc.CableHW, nil
		}
	}
	return 0, 0, xerrors.Errorf("rawpix: chip (cable %d, on-module %d) not found for ru type %d", cableSW, chipOnModuleHW, ruType)
}

// GetNextChipData yields the next decoded chip, in ru-ascending,
// cable-ascending, chip-within-cable order. It automatically caches
// and decodes more triggers as needed, converting the source's
// recursive refill-and-retry into an explicit loop.
func (r *Reader) GetNextChipData(out *ChipPixelData) (bool, error) {
	for {
		if len(r.ready) > 0 {
			*out = r.ready[0]
			r.ready = r.ready[1:]
			return true, nil
		}

		if r.minTriggersCached < 2 {
			if err := r.CacheLinksData(); err != nil {
				return false, err
			}
		}
		if r.minTriggersCached < 1 {
			return false, nil
		}

		decoded, err := r.DecodeNextTrigger()
		if err != nil {
			return false, err
		}
		if !decoded {
			return false, nil
		}
	}
}

// GetDecodingStat returns the accumulated global decoding statistics.
func (r *Reader) GetDecodingStat() RawDecodingStat { return r.stat }

// NRDHRecovered returns the number of times the RDH heuristic resync
// kicked in to skip past malformed bytes in the input stream.
func (r *Reader) NRDHRecovered() uint32 { return r.nRDHRecovered }

// GetRUDecodingStatSW returns the decoding statistics for the RU at
// software index idSW, or nil if that RU has not been seen yet.
func (r *Reader) GetRUDecodingStatSW(idSW int) *RUDecodingStat {
	if idSW < 0 || idSW >= len(r.rus) || r.rus[idSW] == nil {
		return nil
	}
	return r.rus[idSW].Stat
}

// GetRUDecodingStatHW returns the decoding statistics for the RU
// whose hardware id is idHW, or nil if it has not been seen yet.
func (r *Reader) GetRUDecodingStatHW(idHW uint16) *RUDecodingStat {
	for sw := 0; sw < r.Mapping.NRUs(); sw++ {
		info, err := r.Mapping.RUInfoSW(sw)
		if err != nil {
			continue
		}
		if info.IDHW == idHW {
			return r.GetRUDecodingStatSW(sw)
		}
	}
	return nil
}
