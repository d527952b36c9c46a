// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command alpide-encode converts a CSV digit list (file,chip,orbit,bc,row,col,
// as produced by alpide-dump -csv; the file column is ignored) into an
// ALPIDE/GBT raw binary file.
package main // import "github.com/go-its/alpideraw/cmd/alpide-encode"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"go-hep.org/x/hep/csvutil"

	"github.com/go-its/alpideraw/chipmap"
	"github.com/go-its/alpideraw/gbt"
	"github.com/go-its/alpideraw/internal/bytesink"
	"github.com/go-its/alpideraw/rawpix"
)

var msg = log.New(os.Stdout, "alpide-encode: ", 0)

func main() {
	xmain(os.Args[1:])
}

func xmain(args []string) {
	var (
		fset = flag.NewFlagSet("alpide-encode", flag.ExitOnError)

		detector = fset.String("det", "its", "detector mapping to use: its or mft")
		oname    = fset.String("o", "out.raw", "path to output raw file")
		padded   = fset.Bool("padded", false, "emit 16-byte padded GBT words")
		fixed    = fset.Bool("fixed-size", false, "pad every page to the fixed 8 KB CRU page size")
	)

	fset.Usage = func() {
		fmt.Printf(`Usage: alpide-encode [OPTIONS] digits.csv

ex:
 $> alpide-encode -det=its -o run.raw ./digits.csv

options:
`)
		fset.PrintDefaults()
	}

	if err := fset.Parse(args); err != nil {
		msg.Fatalf("could not parse input arguments: %+v", err)
	}
	if fset.NArg() != 1 {
		fset.Usage()
		msg.Fatalf("missing path to input digits CSV")
	}

	mapping, err := mappingFor(*detector)
	if err != nil {
		msg.Fatalf("%+v", err)
	}

	triggers, err := readDigits(fset.Arg(0))
	if err != nil {
		msg.Fatalf("could not read digits: %+v", err)
	}

	out, err := os.Create(*oname)
	if err != nil {
		msg.Fatalf("could not create output file %q: %+v", *oname, err)
	}
	defer out.Close()

	w := rawpix.NewWriter(mapping)
	w.SetPadding128(*padded)
	w.ImposeMaxPage(*fixed)

	sink := bytesink.NewBuffer(8 * gbt.MaxGBTPacketBytes)
	nRUs := mapping.NRUs()

	for _, trig := range triggers {
		if _, err := w.Digits2Raw(trig.digits, trig.ir, 0, nRUs-1); err != nil {
			msg.Fatalf("could not encode trigger (orbit=%d bc=%d): %+v", trig.ir.Orbit, trig.ir.BC, err)
		}
		for w.FlushSuperPages(gbt.PagesPerSuperpage, sink) > 0 {
			if _, err := out.Write(sink.Bytes()); err != nil {
				msg.Fatalf("could not write superpage: %+v", err)
			}
			sink.Clear()
		}
	}
	if sink.Len() > 0 {
		if _, err := out.Write(sink.Bytes()); err != nil {
			msg.Fatalf("could not flush final superpage: %+v", err)
		}
	}

	msg.Printf("wrote %d triggers to %q", len(triggers), *oname)
}

func mappingFor(det string) (chipmap.Mapping, error) {
	switch det {
	case "its":
		return chipmap.NewITS(), nil
	case "mft":
		return chipmap.NewMFT(), nil
	default:
		return nil, fmt.Errorf("alpide-encode: unknown detector %q", det)
	}
}

type trigger struct {
	ir     rawpix.InteractionRecord
	digits []rawpix.Digit
}

func readDigits(fname string) ([]trigger, error) {
	tbl, err := csvutil.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer tbl.Close()
	tbl.Reader.Comma = ','

	rows, err := tbl.ReadRows(1, -1)
	if err != nil {
		return nil, fmt.Errorf("could not read rows of %q: %w", fname, err)
	}
	defer rows.Close()

	byIR := make(map[rawpix.InteractionRecord][]rawpix.Digit)
	for rows.Next() {
		var (
			file       string
			chip       uint16
			orbit, row uint32
			bc, col    uint16
		)
		if err := rows.Scan(&file, &chip, &orbit, &bc, &row, &col); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		ir := rawpix.InteractionRecord{Orbit: orbit, BC: bc}
		byIR[ir] = append(byIR[ir], rawpix.Digit{ChipIDSW: chip, Row: uint16(row), Col: col})
	}

	out := make([]trigger, 0, len(byIR))
	for ir, digits := range byIR {
		out = append(out, trigger{ir: ir, digits: digits})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ir.Orbit != out[j].ir.Orbit {
			return out[i].ir.Orbit < out[j].ir.Orbit
		}
		return out[i].ir.BC < out[j].ir.BC
	})
	return out, nil
}
