// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command alpide-skim rewrites an ALPIDE raw file into its compact
// (10-byte GBT word) form, shrinking padded or over-allocated
// superpages without touching the decoded chip data.
package main // import "github.com/go-its/alpideraw/cmd/alpide-skim"

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-its/alpideraw/chipmap"
	"github.com/go-its/alpideraw/internal/bytesink"
	"github.com/go-its/alpideraw/rawpix"
)

var msg = log.New(os.Stdout, "alpide-skim: ", 0)

func main() {
	xmain(os.Args[1:])
}

func xmain(args []string) {
	var (
		fset = flag.NewFlagSet("alpide-skim", flag.ExitOnError)

		detector = fset.String("det", "its", "detector mapping to use: its or mft")
		oname    = fset.String("o", "out.skim.raw", "path to output raw file")
		padded   = fset.Bool("padded", false, "input uses 16-byte padded GBT words")
	)

	fset.Usage = func() {
		fmt.Printf(`Usage: alpide-skim [OPTIONS] file.raw

ex:
 $> alpide-skim -o run.skim.raw ./run.raw

options:
`)
		fset.PrintDefaults()
	}

	if err := fset.Parse(args); err != nil {
		msg.Fatalf("could not parse input arguments: %+v", err)
	}
	if fset.NArg() != 1 {
		fset.Usage()
		msg.Fatalf("missing path to input raw file")
	}

	mapping, err := mappingFor(*detector)
	if err != nil {
		msg.Fatalf("%+v", err)
	}

	if err := process(fset.Arg(0), *oname, mapping, *padded); err != nil {
		msg.Fatalf("could not skim %q: %+v", fset.Arg(0), err)
	}
}

func mappingFor(det string) (chipmap.Mapping, error) {
	switch det {
	case "its":
		return chipmap.NewITS(), nil
	case "mft":
		return chipmap.NewMFT(), nil
	default:
		return nil, fmt.Errorf("alpide-skim: unknown detector %q", det)
	}
}

func process(iname, oname string, mapping chipmap.Mapping, padded bool) error {
	in, err := os.Open(iname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", iname, err)
	}
	defer in.Close()

	out, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create %q: %w", oname, err)
	}
	defer out.Close()

	r := rawpix.NewReader(mapping)
	r.SetPadding128(padded)
	if err := r.OpenInput(in); err != nil {
		return fmt.Errorf("could not open raw input: %w", err)
	}

	sink := bytesink.NewBuffer(1 << 20)
	nPages := 0
	for {
		ok, err := r.SkimNextRUData(sink)
		if err != nil {
			return fmt.Errorf("could not skim page: %w", err)
		}
		if !ok {
			break
		}
		nPages++
		if sink.Len() > 1<<19 {
			if _, err := out.Write(sink.Bytes()); err != nil {
				return fmt.Errorf("could not write skimmed data: %w", err)
			}
			sink.Clear()
		}
	}
	if sink.Len() > 0 {
		if _, err := out.Write(sink.Bytes()); err != nil {
			return fmt.Errorf("could not write skimmed data: %w", err)
		}
	}

	stat := r.GetDecodingStat()
	msg.Printf("%s: skimmed %d pages, %d bytes decoded -> %d bytes skimmed",
		iname, nPages, stat.NBytesDecoded, stat.NBytesSkimmed)
	return nil
}
