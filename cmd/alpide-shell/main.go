// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command alpide-shell is an interactive REPL for stepping through an
// ALPIDE raw file one or more decoded chips at a time.
package main // import "github.com/go-its/alpideraw/cmd/alpide-shell"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/go-its/alpideraw/chipmap"
	"github.com/go-its/alpideraw/rawpix"
)

var msg = log.New(os.Stdout, "alpide-shell: ", 0)

func main() {
	xmain(os.Args[1:])
}

func xmain(args []string) {
	var (
		fset = flag.NewFlagSet("alpide-shell", flag.ExitOnError)

		detector = fset.String("det", "its", "detector mapping to use: its or mft")
		padded   = fset.Bool("padded", false, "input uses 16-byte padded GBT words")
	)

	fset.Usage = func() {
		fmt.Printf(`Usage: alpide-shell [OPTIONS] file.raw

commands:
  next [n]     decode and print the next n chips (default 1)
  stat         print global decoding statistics
  rustat <sw>  print decoding statistics for RU software index <sw>
  quit         exit the shell

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

	f, err := os.Open(fset.Arg(0))
	if err != nil {
		msg.Fatalf("could not open %q: %+v", fset.Arg(0), err)
	}
	defer f.Close()

	r := rawpix.NewReader(mapping)
	r.SetPadding128(*padded)
	if err := r.OpenInput(f); err != nil {
		msg.Fatalf("could not open raw input: %+v", err)
	}

	run(r)
}

func mappingFor(det string) (chipmap.Mapping, error) {
	switch det {
	case "its":
		return chipmap.NewITS(), nil
	case "mft":
		return chipmap.NewMFT(), nil
	default:
		return nil, fmt.Errorf("alpide-shell: unknown detector %q", det)
	}
}

func run(r *rawpix.Reader) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		cmd, err := line.Prompt("alpide> ")
		if err != nil {
			break
		}
		line.AppendHistory(cmd)

		fields := strings.Fields(cmd)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "next":
			n := 1
			if len(fields) > 1 {
				fmt.Sscanf(fields[1], "%d", &n)
			}
			for i := 0; i < n; i++ {
				var chip rawpix.ChipPixelData
				ok, err := r.GetNextChipData(&chip)
				if err != nil {
					fmt.Printf("error: %+v\n", err)
					break
				}
				if !ok {
					fmt.Println("-- end of input --")
					return
				}
				fmt.Printf("chip 0x%04x orbit=%d bc=%d hits=%d\n",
					chip.ChipID, chip.IR.Orbit, chip.IR.BC, len(chip.Hits))
			}

		case "stat":
			s := r.GetDecodingStat()
			fmt.Printf("triggers decoded: %d\nbytes decoded:    %d\nbytes skimmed:    %d\nRDHs recovered:   %d\n",
				s.NTriggersDecoded, s.NBytesDecoded, s.NBytesSkimmed, r.NRDHRecovered())

		case "rustat":
			if len(fields) < 2 {
				fmt.Println("usage: rustat <ru-sw-index>")
				continue
			}
			var sw int
			fmt.Sscanf(fields[1], "%d", &sw)
			st := r.GetRUDecodingStatSW(sw)
			if st == nil {
				fmt.Printf("no data seen yet for RU %d\n", sw)
				continue
			}
			fmt.Printf("packets: %d\n", st.NPackets)
			for name, n := range st.Errors() {
				fmt.Printf("  %s: %d\n", name, n)
			}

		case "quit", "exit":
			return

		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}
