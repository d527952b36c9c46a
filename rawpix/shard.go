// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rawpix

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/go-its/alpideraw/chipmap"
)

// ShardResult is one shard's decoded chip data and final statistics,
// as returned by DecodeShards.
type ShardResult struct {
	Chips []ChipPixelData
	Stat  RawDecodingStat
}

// DecodeShards decodes each of srcs with its own Reader instance,
// running shards concurrently, and returns one ShardResult per shard
// in input order. Per the codec's single-threaded-per-instance model,
// this is how a caller parallelizes decoding across independent CRU
// streams: one codec per shard, merged afterwards.
func DecodeShards(ctx context.Context, newMapping func() chipmap.Mapping, srcs []io.Reader) ([]ShardResult, error) {
	results := make([]ShardResult, len(srcs))

	g, ctx := errgroup.WithContext(ctx)
	for i, src := range srcs {
		i, src := i, src
		g.Go(func() error {
			reader := NewReader(newMapping())
			if err := reader.OpenInput(src); err != nil {
				return err
			}

			var chips []ChipPixelData
			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				var chip ChipPixelData
				ok, err := reader.GetNextChipData(&chip)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				chips = append(chips, chip)
			}

			results[i] = ShardResult{Chips: chips, Stat: reader.GetDecodingStat()}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
