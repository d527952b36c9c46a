// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command alpide-loadmap loads a chip mapping table from the
// conditions database and prints a summary of every readout unit it
// describes.
package main // import "github.com/go-its/alpideraw/cmd/alpide-loadmap"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/go-its/alpideraw/chipmap"
)

func main() {
	log.SetPrefix("alpide-loadmap: ")
	log.SetFlags(0)

	var (
		dbname = flag.String("db", "its_conddb", "conditions database name")
		usr    = flag.String("usr", "its_ro", "database user")
		pwd    = flag.String("pwd", "", "database password")
		host   = flag.String("host", "127.0.0.1:3306", "database host:port")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mapping, err := chipmap.LoadFromDB(ctx, *dbname, *usr, *pwd, *host)
	if err != nil {
		log.Fatalf("could not load mapping from %q: %+v", *dbname, err)
	}

	for sw := 0; sw < mapping.NRUs(); sw++ {
		info, err := mapping.RUInfoSW(sw)
		if err != nil {
			log.Fatalf("could not describe RU %d: %+v", sw, err)
		}
		feeID, err := mapping.RUSW2FEEId(sw, 0)
		if err != nil {
			log.Fatalf("could not resolve FEEId for RU %d: %+v", sw, err)
		}
		fmt.Printf("RU sw=%03d type=%d fee=0x%04x cables=%d chips=%d chip-base=%d\n",
			info.IDSW, info.RUType, feeID, info.NCables, info.NChipsOnRU, info.ChipIDBase)
	}

	os.Exit(0)
}
