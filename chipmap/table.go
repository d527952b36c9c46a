// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chipmap

import "golang.org/x/xerrors"

// ruTypeSpec is a compile-time-constant description of one RU type:
// how many cables it exposes, how many chips sit on each cable's daisy
// chain, and the hardware cable id assigned to each software cable
// index (a fixed permutation, so cableHW need not equal cableSW).
type ruTypeSpec struct {
	nCables       uint8
	chipsPerCable uint8
	cableHW       []uint8 // len == nCables; cableHW[cableSW] = hardware id
}

func (s ruTypeSpec) nChips() uint16 { return uint16(s.nCables) * uint16(s.chipsPerCable) }

func (s ruTypeSpec) cableSW(hw uint8) (uint8, error) {
	for sw, h := range s.cableHW {
		if h == hw {
			return uint8(sw), nil
		}
	}
	return 0, xerrors.Errorf("%w: cable hw id 0x%x not on this RU type", ErrInvalidMapping, hw)
}

// table is a generic, data-driven Mapping built from a fixed list of
// RU type specs and a count of RUs per type. It is shared by the ITS
// and MFT concrete mappings: only the specs and per-RU-type RU counts
// differ between detectors.
type table struct {
	detField uint32
	types    []ruTypeSpec
	ruType   []uint8  // ruType[ruSW] for ruSW in 0..NRUs()-1
	idHW     []uint16 // idHW[ruSW]
	chipBase []uint16 // chipBase[ruSW], cumulative chip id offset
}

func newTable(detField uint32, types []ruTypeSpec, countPerType []int) *table {
	t := &table{detField: detField, types: types}
	var base uint16
	var hw uint16
	for ty, n := range countPerType {
		for i := 0; i < n; i++ {
			t.ruType = append(t.ruType, uint8(ty))
			t.idHW = append(t.idHW, hw)
			t.chipBase = append(t.chipBase, base)
			base += types[ty].nChips()
			hw++
		}
	}
	return t
}

func (t *table) NRUs() int { return len(t.ruType) }

func (t *table) RUInfoSW(ruSW int) (RUInfo, error) {
	if ruSW < 0 || ruSW >= len(t.ruType) {
		return RUInfo{}, xerrors.Errorf("%w: ru sw id %d out of range", ErrInvalidMapping, ruSW)
	}
	ty := t.ruType[ruSW]
	spec := t.types[ty]
	return RUInfo{
		IDSW:       uint16(ruSW),
		IDHW:       t.idHW[ruSW],
		RUType:     ty,
		NCables:    spec.nCables,
		ChipIDBase: t.chipBase[ruSW],
		NChipsOnRU: spec.nChips(),
	}, nil
}

// feeID packs (ruIDHW, linkID) into the 16-bit FEE id: top 12 bits are
// the hardware RU id, bottom 4 bits the GBT link id (0..2).
func feeID(ruIDHW uint16, linkID uint8) uint16 { return ruIDHW<<4 | uint16(linkID&0xf) }

func (t *table) FEEId2RUSW(feeIDv uint16) (int, error) {
	idHW := feeIDv >> 4
	for sw, hw := range t.idHW {
		if hw == idHW {
			return sw, nil
		}
	}
	return 0, xerrors.Errorf("%w: fee id 0x%x does not resolve to a known RU", ErrInvalidMapping, feeIDv)
}

func (t *table) RUSW2FEEId(ruSW int, linkID uint8) (uint16, error) {
	if ruSW < 0 || ruSW >= len(t.ruType) {
		return 0, xerrors.Errorf("%w: ru sw id %d out of range", ErrInvalidMapping, ruSW)
	}
	if linkID >= 3 {
		return 0, xerrors.Errorf("%w: link id %d out of range", ErrInvalidMapping, linkID)
	}
	return feeID(t.idHW[ruSW], linkID), nil
}

func (t *table) typeSpec(ruType uint8) (ruTypeSpec, error) {
	if int(ruType) >= len(t.types) {
		return ruTypeSpec{}, xerrors.Errorf("%w: ru type %d unknown", ErrInvalidMapping, ruType)
	}
	return t.types[ruType], nil
}

func (t *table) CableHW2SW(ruType uint8, cableHW uint8) (uint8, error) {
	spec, err := t.typeSpec(ruType)
	if err != nil {
		return 0, err
	}
	return spec.cableSW(cableHW)
}

func (t *table) ChipOnRUInfo(ruType uint8, chipIDOnRU uint16) (ChipOnRUInfo, error) {
	spec, err := t.typeSpec(ruType)
	if err != nil {
		return ChipOnRUInfo{}, err
	}
	if chipIDOnRU >= spec.nChips() {
		return ChipOnRUInfo{}, xerrors.Errorf("%w: chip-on-ru id %d out of range", ErrInvalidMapping, chipIDOnRU)
	}
	cableSW := uint8(chipIDOnRU / uint16(spec.chipsPerCable))
	chipOnModule := uint8(chipIDOnRU % uint16(spec.chipsPerCable))
	return ChipOnRUInfo{
		CableSW:        cableSW,
		CableHW:        spec.cableHW[cableSW],
		ChipOnModuleHW: chipOnModule,
	}, nil
}

func (t *table) NChipsOnRUType(ruType uint8) (uint16, error) {
	spec, err := t.typeSpec(ruType)
	if err != nil {
		return 0, err
	}
	return spec.nChips(), nil
}

func (t *table) GlobalChipID(chipOnModuleHW uint8, cableHW uint8, ru RUInfo) (uint16, error) {
	cableSW, err := t.CableHW2SW(ru.RUType, cableHW)
	if err != nil {
		return 0, err
	}
	spec, err := t.typeSpec(ru.RUType)
	if err != nil {
		return 0, err
	}
	if chipOnModuleHW >= spec.chipsPerCable {
		return 0, xerrors.Errorf("%w: chip-on-module id %d out of range", ErrInvalidMapping, chipOnModuleHW)
	}
	chipIDOnRU := uint16(cableSW)*uint16(spec.chipsPerCable) + uint16(chipOnModuleHW)
	return ru.ChipIDBase + chipIDOnRU, nil
}

func (t *table) CablesOnRUType(ruType uint8) (uint32, error) {
	spec, err := t.typeSpec(ruType)
	if err != nil {
		return 0, err
	}
	if spec.nCables >= 32 {
		return 0, xerrors.Errorf("%w: ru type %d exposes too many cables for a 32-bit mask", ErrInvalidMapping, ruType)
	}
	return uint32(1)<<spec.nCables - 1, nil
}

func (t *table) GBTHeaderRUType(ruType uint8, cableHW uint8) (uint8, error) {
	cableSW, err := t.CableHW2SW(ruType, cableHW)
	if err != nil {
		return 0, err
	}
	return cableSW, nil
}

func (t *table) RUDetectorField() uint32 { return t.detField }
