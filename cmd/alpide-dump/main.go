// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command alpide-dump decodes and displays ALPIDE raw pixel data
// files.
//
// Usage: alpide-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
package main // import "github.com/go-its/alpideraw/cmd/alpide-dump"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/sbinet/pmon"

	"go-hep.org/x/hep/csvutil"

	"github.com/go-its/alpideraw/chipmap"
	"github.com/go-its/alpideraw/internal/mmap"
	"github.com/go-its/alpideraw/rawpix"
)

var msg = log.New(os.Stdout, "alpide-dump: ", 0)

func main() {
	xmain(os.Args[1:])
}

func xmain(args []string) {
	var (
		fset = flag.NewFlagSet("alpide-dump", flag.ExitOnError)

		detector = fset.String("det", "its", "detector mapping to use: its or mft")
		padded   = fset.Bool("padded", false, "input uses 16-byte padded GBT words")
		useMmap  = fset.Bool("mmap", false, "memory-map the input file instead of streaming it")
		csvOut   = fset.String("csv", "", "path to write decoded hits as CSV, empty disables")
		doMon    = fset.Bool("pmon", false, "monitor this process' CPU/RSS usage while decoding")
	)

	fset.Usage = func() {
		fmt.Printf(`Usage: alpide-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

ex:
 $> alpide-dump -det=its ./run0001.raw

options:
`)
		fset.PrintDefaults()
	}

	if err := fset.Parse(args); err != nil {
		msg.Fatalf("could not parse input arguments: %+v", err)
	}

	if fset.NArg() == 0 {
		fset.Usage()
		msg.Fatalf("missing path to input raw file")
	}

	mapping, err := mappingFor(*detector)
	if err != nil {
		msg.Fatalf("%+v", err)
	}

	var csvw *csvutil.Table
	if *csvOut != "" {
		tbl, err := csvutil.Create(*csvOut)
		if err != nil {
			msg.Fatalf("could not create CSV output %q: %+v", *csvOut, err)
		}
		csvw = tbl
		csvw.Writer.Comma = ','
		if err := csvw.WriteRow("file", "chip", "orbit", "bc", "row", "col"); err != nil {
			msg.Fatalf("could not write CSV header: %+v", err)
		}
		defer csvw.Close()
	}

	if *doMon {
		if p, err := pmon.Monitor(os.Getpid()); err != nil {
			msg.Printf("could not start pmon: %+v", err)
		} else {
			p.W = os.Stderr
			p.Freq = time.Second
			go func() {
				if err := p.Run(); err != nil {
					msg.Printf("pmon stopped: %+v", err)
				}
			}()
		}
	}

	for _, fname := range fset.Args() {
		err := process(fname, mapping, *padded, *useMmap, csvw)
		if err != nil {
			msg.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func mappingFor(det string) (chipmap.Mapping, error) {
	switch det {
	case "its":
		return chipmap.NewITS(), nil
	case "mft":
		return chipmap.NewMFT(), nil
	default:
		return nil, fmt.Errorf("alpide-dump: unknown detector %q", det)
	}
}

func process(fname string, mapping chipmap.Mapping, padded, useMmap bool, csvw *csvutil.Table) error {
	var src io.Reader
	if useMmap {
		h, err := mmap.Open(fname)
		if err != nil {
			return fmt.Errorf("could not mmap %q: %w", fname, err)
		}
		defer h.Close()
		src = io.NewSectionReader(h, 0, int64(h.Len()))
	} else {
		f, err := os.Open(fname)
		if err != nil {
			return fmt.Errorf("could not open %q: %w", fname, err)
		}
		defer f.Close()
		src = f
	}

	r := rawpix.NewReader(mapping)
	r.SetPadding128(padded)
	if err := r.OpenInput(src); err != nil {
		return fmt.Errorf("could not open raw input: %w", err)
	}

	var chip rawpix.ChipPixelData
	for {
		ok, err := r.GetNextChipData(&chip)
		if err != nil {
			return fmt.Errorf("could not decode: %w", err)
		}
		if !ok {
			break
		}

		fmt.Printf("=== chip 0x%04x (orbit=%d bc=%d) ===\n", chip.ChipID, chip.IR.Orbit, chip.IR.BC)
		for _, h := range chip.Hits {
			fmt.Printf("  row=%d col=%d\n", h.Row, h.Col)
			if csvw != nil {
				if err := csvw.WriteRow(fname, chip.ChipID, chip.IR.Orbit, chip.IR.BC, h.Row, h.Col); err != nil {
					return fmt.Errorf("could not write CSV row: %w", err)
				}
			}
		}
	}

	stat := r.GetDecodingStat()
	msg.Printf("%s: %d triggers decoded, %d bytes decoded, %d RDHs recovered",
		fname, stat.NTriggersDecoded, stat.NBytesDecoded, r.NRDHRecovered())

	return nil
}
