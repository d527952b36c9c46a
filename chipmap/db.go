// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chipmap

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
)

const drvName = "mysql"

// ruRow mirrors one row of the ru_types table used to rebuild a table
// from the condition database.
type ruRow struct {
	RUType        uint8  `db:"ru_type"`
	NCables       uint8  `db:"n_cables"`
	ChipsPerCable uint8  `db:"chips_per_cable"`
	CableHW       []byte `db:"cable_hw"` // one byte per software cable index
	DetField      uint32 `db:"det_field"`
	Count         int    `db:"ru_count"`
}

// dsn builds a go-sql-driver/mysql DSN for the given database name,
// host and credentials.
func dsn(usr, pwd, host, dbname string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, dbname)
}

// LoadFromDB rebuilds a Mapping from the ru_types table of a condition
// database, ordered by ru_type so RU instances are laid out the same
// way on every load. Every row must carry the same det_field, which
// becomes the mapping's RUDetectorField, or the table is rejected as
// inconsistent.
func LoadFromDB(ctx context.Context, dbname, usr, pwd, host string) (Mapping, error) {
	db, err := sqlx.Open(drvName, dsn(usr, pwd, host, dbname))
	if err != nil {
		return nil, fmt.Errorf("chipmap: could not open %q db: %w", dbname, err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("chipmap: could not ping %q db: %w", dbname, err)
	}

	var rows []ruRow
	err = db.SelectContext(ctx, &rows,
		`SELECT ru_type, n_cables, chips_per_cable, cable_hw, det_field, ru_count
		 FROM ru_types ORDER BY ru_type ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("chipmap: could not query ru_types from %q: %w", dbname, err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("chipmap: %q has no ru_types rows", dbname)
	}

	detField := rows[0].DetField
	types := make([]ruTypeSpec, len(rows))
	counts := make([]int, len(rows))
	for i, r := range rows {
		if r.DetField != detField {
			return nil, fmt.Errorf("chipmap: %q has inconsistent det_field across ru_types rows", dbname)
		}
		if len(r.CableHW) != int(r.NCables) {
			return nil, fmt.Errorf("chipmap: ru_type %d has %d cable_hw bytes, want %d", r.RUType, len(r.CableHW), r.NCables)
		}
		types[i] = ruTypeSpec{
			nCables:       r.NCables,
			chipsPerCable: r.ChipsPerCable,
			cableHW:       append([]uint8(nil), r.CableHW...),
		}
		counts[i] = r.Count
	}

	return newTable(detField, types, counts), nil
}
