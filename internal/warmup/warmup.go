// Package warmup pre-renders the lowest zoom levels into the tile store.
package warmup

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mandeltiles/internal/cache"
	"mandeltiles/internal/tile_store"
)

// MaxLevels bounds a warmup to 4^20 tiles at the deepest level.
const MaxLevels = 20

type TileGetter interface {
	GetOrRender(ctx context.Context, key cache.TileKey) (*tile_store.Tile, error)
}

type Stats struct {
	Rendered int64
	Cached   int64
	Failed   int64
	Bytes    int64
}

// Run requests every tile of zoom levels 0..levels inclusive using at most
// workers concurrent requests. Failed tiles are counted, not fatal. Run stops
// scheduling when ctx is done and returns ctx.Err().
func Run(ctx context.Context, store TileGetter, levels, workers int, log *zap.Logger) (Stats, error) {
	if levels < 0 || levels > MaxLevels {
		return Stats{}, fmt.Errorf("warmup levels %d out of range [0, %d]", levels, MaxLevels)
	}
	if workers <= 0 {
		workers = 1
	}

	log.Info("Starting tile warmup", zap.Int("levels", levels), zap.Int("workers", workers))
	start := time.Now()

	var rendered, cached, failed, size atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

schedule:
	for z := 0; z <= levels; z++ {
		n := 1 << z
		for x := 0; x < n; x++ {
			for y := 0; y < n; y++ {
				if gctx.Err() != nil {
					break schedule
				}

				key := cache.TileKey{Z: z, X: x, Y: y}
				g.Go(func() error {
					tile, err := store.GetOrRender(gctx, key)
					if err != nil {
						failed.Add(1)
						log.Debug("Warmup tile failed", zap.Stringer("tile", key), zap.Error(err))
						return nil
					}
					size.Add(int64(len(tile.Data)))
					if tile.Source == tile_store.SourceCache {
						cached.Add(1)
					} else {
						rendered.Add(1)
					}
					return nil
				})
			}
		}
	}

	g.Wait()

	stats := Stats{
		Rendered: rendered.Load(),
		Cached:   cached.Load(),
		Failed:   failed.Load(),
		Bytes:    size.Load(),
	}

	log.Info("Tile warmup completed",
		zap.Int64("rendered", stats.Rendered),
		zap.Int64("cached", stats.Cached),
		zap.Int64("failed", stats.Failed),
		zap.String("size", humanize.Bytes(uint64(stats.Bytes))),
		zap.Duration("took", time.Since(start)),
	)

	return stats, ctx.Err()
}
