// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rawpix

import "gonum.org/v1/gonum/stat"

// Summary describes the error-rate spread across a set of per-RU
// decoding statistics, one bucket per named error kind.
type Summary struct {
	Mean   [nErrorsDefined]float64
	StdDev [nErrorsDefined]float64
}

// SummarizeRUStats computes the mean and standard deviation of every
// named error counter across rus, useful for spotting a handful of
// misbehaving RUs in a large decoding run.
func SummarizeRUStats(rus []*RUDecodingStat) Summary {
	var out Summary
	if len(rus) == 0 {
		return out
	}

	samples := make([]float64, len(rus))
	for kind := 0; kind < nErrorsDefined; kind++ {
		for i, ru := range rus {
			samples[i] = float64(ru.ErrorCounts[kind])
		}
		out.Mean[kind], out.StdDev[kind] = stat.MeanStdDev(samples, nil)
	}
	return out
}
