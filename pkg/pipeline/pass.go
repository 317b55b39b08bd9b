package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/polystats/pkg/block"
	"github.com/Sumatoshi-tech/polystats/pkg/grid"
	"github.com/Sumatoshi-tech/polystats/pkg/nodata"
	"github.com/Sumatoshi-tech/polystats/pkg/observability"
	"github.com/Sumatoshi-tech/polystats/pkg/raster"
	"github.com/Sumatoshi-tech/polystats/pkg/rasterize"
	"github.com/Sumatoshi-tech/polystats/pkg/stats"
	"github.com/Sumatoshi-tech/polystats/pkg/vector"
)

const tracerName = "polystats"

// tileWorker owns one set of tile buffers and one accumulator.
type tileWorker struct {
	rasterizer *rasterize.Rasterizer
	src        raster.Source
	rule       nodata.Rule
	maskSrc    raster.Source
	acc        *stats.Accumulator

	pixels  block.Pixels
	labels  block.Labels
	mask    block.Mask
	maskBuf block.Pixels

	skipped   int
	durations []time.Duration
}

func newTileWorker(r *rasterize.Rasterizer, src, maskSrc raster.Source, rule nodata.Rule) *tileWorker {
	return &tileWorker{
		rasterizer: r,
		src:        src,
		maskSrc:    maskSrc,
		rule:       rule,
		acc:        stats.NewAccumulator(src.Bands()),
	}
}

// process rasterizes the tile and, if any pixel is covered, reads the
// raster block, builds its mask and folds it.
func (w *tileWorker) process(ctx context.Context, tile grid.Region) error {
	start := time.Now()

	defer func() { w.durations = append(w.durations, time.Since(start)) }()

	err := w.rasterizer.RasterizeInto(tile, &w.labels)
	if err != nil {
		return fmt.Errorf("rasterize tile %s: %w", tile, err)
	}

	if !w.labels.AnyCovered() {
		w.skipped++

		return nil
	}

	w.pixels.Reset(tile, w.src.Bands())

	err = w.src.ReadBlock(ctx, tile, w.pixels.Data)
	if err != nil {
		return fmt.Errorf("read tile %s: %w", tile, err)
	}

	w.rule.Build(&w.pixels, &w.mask)

	if w.maskSrc != nil {
		w.maskBuf.Reset(tile, 1)

		err = w.maskSrc.ReadBlock(ctx, tile, w.maskBuf.Data)
		if err != nil {
			return fmt.Errorf("read mask tile %s: %w", tile, err)
		}

		err = nodata.Intersect(&w.mask, &w.maskBuf)
		if err != nil {
			return err
		}
	}

	err = w.acc.Fold(&w.pixels, &w.labels, &w.mask)
	if err != nil {
		return fmt.Errorf("fold tile %s: %w", tile, err)
	}

	return nil
}

// progress serializes progress callbacks across workers.
type progress struct {
	mu    sync.Mutex
	fn    ProgressFunc
	pass  string
	done  int
	total int
}

func (p *progress) tick() {
	if p.fn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	p.fn(p.pass, p.done, p.total)
}

func runPass(
	ctx context.Context, cfg *Config, name, field string,
	src raster.Source, features []vector.Feature, rule nodata.Rule, tiles []grid.Region,
) (stats.Map, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "polystats.pass",
		trace.WithAttributes(
			attribute.String("polystats.pass", name),
			attribute.Int("polystats.tiles", len(tiles)),
			attribute.Int("polystats.workers", cfg.Workers),
		))
	defer span.End()

	start := time.Now()

	r, err := newRasterizer(cfg, src.Grid(), field, features)
	if err != nil {
		return nil, err
	}

	workers := make([]*tileWorker, min(cfg.Workers, max(len(tiles), 1)))
	for i := range workers {
		workers[i] = newTileWorker(r, src, cfg.Mask, rule)
	}

	prog := &progress{fn: cfg.Progress, pass: name, total: len(tiles)}

	if len(workers) == 1 {
		err = runSequential(ctx, workers[0], tiles, prog)
	} else {
		err = runParallel(ctx, workers, tiles, prog)
	}

	if err != nil {
		return nil, fmt.Errorf("%s pass: %w", name, err)
	}

	acc := workers[0].acc

	skipped := workers[0].skipped
	durations := workers[0].durations

	for _, w := range workers[1:] {
		err = acc.Merge(w.acc)
		if err != nil {
			return nil, fmt.Errorf("%s pass: merge: %w", name, err)
		}

		skipped += w.skipped
		durations = append(durations, w.durations...)
	}

	result := acc.Finalize(r.Background())
	elapsed := time.Since(start)

	cfg.Metrics.RecordPass(ctx, observability.PassStats{
		Pass:          name,
		Tiles:         len(tiles),
		SkippedTiles:  skipped,
		Pixels:        int64(acc.Pixels()),
		Labels:        len(result),
		TileDurations: durations,
		Duration:      elapsed,
	})

	cfg.Logger.InfoContext(ctx, "pipeline: pass done",
		"pass", name, "tiles", len(tiles), "skipped", skipped,
		"pixels", acc.Pixels(), "labels", len(result), "duration", elapsed)

	return result, nil
}

func runSequential(ctx context.Context, w *tileWorker, tiles []grid.Region, prog *progress) error {
	for _, tile := range tiles {
		err := ctx.Err()
		if err != nil {
			return err
		}

		err = w.process(ctx, tile)
		if err != nil {
			return err
		}

		prog.tick()
	}

	return nil
}

// runParallel hands tiles to workers over a channel. Each worker folds into
// its own accumulator; the caller merges them once all tiles are done.
func runParallel(ctx context.Context, workers []*tileWorker, tiles []grid.Region, prog *progress) error {
	g, gctx := errgroup.WithContext(ctx)

	queue := make(chan grid.Region)

	g.Go(func() error {
		defer close(queue)

		for _, tile := range tiles {
			select {
			case queue <- tile:
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		return nil
	})

	for _, w := range workers {
		g.Go(func() error {
			for tile := range queue {
				err := gctx.Err()
				if err != nil {
					return err
				}

				err = w.process(gctx, tile)
				if err != nil {
					return err
				}

				prog.tick()
			}

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return err
	}

	// A cancellation that raced the last tile still aborts the pass.
	return ctx.Err()
}
