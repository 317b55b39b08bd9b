package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/polystats/pkg/grid"
	"github.com/Sumatoshi-tech/polystats/pkg/nodata"
	"github.com/Sumatoshi-tech/polystats/pkg/persist"
	"github.com/Sumatoshi-tech/polystats/pkg/raster"
	"github.com/Sumatoshi-tech/polystats/pkg/rasterize"
	"github.com/Sumatoshi-tech/polystats/pkg/stats"
	"github.com/Sumatoshi-tech/polystats/pkg/streaming"
	"github.com/Sumatoshi-tech/polystats/pkg/vector"
)

// Result holds the finalized maps of both passes.
type Result struct {
	ByID    stats.Map
	ByClass stats.Map

	// Tiles is the number of tiles per pass.
	Tiles    int
	TileRows int
	TileCols int
	Rule     nodata.Rule
}

// Report converts the result to its persisted form.
func (r *Result) Report() *persist.Report {
	return persist.NewReport(r.ByClass, r.ByID)
}

// Run computes per-identifier and per-class statistics of src over the
// polygons of coll. Nothing is returned unless both passes complete.
func Run(ctx context.Context, cfg Config, src raster.Source, coll *vector.Collection) (*Result, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	g := src.Grid()

	err = g.Validate()
	if err != nil {
		return nil, err
	}

	err = checkSRS(g.SRS, coll.SRS)
	if err != nil {
		return nil, err
	}

	if cfg.Mask != nil {
		err = checkMask(g, cfg.Mask)
		if err != nil {
			return nil, err
		}
	}

	declared, hasDeclared := src.NoData()
	rule := nodata.NewRule(cfg.NoDataMode, cfg.NoDataValue, declared, hasDeclared)

	planner := &streaming.Planner{
		Grid:         g,
		Bands:        src.Bands(),
		MemoryBudget: cfg.MemoryBudget,
		Workers:      cfg.Workers,
		TileRows:     cfg.TileRows,
		Mask:         cfg.Mask != nil,
		RowStaging:   raster.RowStaging(src),
	}

	if cfg.Mask != nil {
		planner.RowStaging += raster.RowStaging(cfg.Mask)
	}

	tiles := planner.Plan()
	rows, cols := planner.TileShape()

	cfg.Logger.InfoContext(ctx, "pipeline: planned",
		"width", g.Width, "height", g.Height, "bands", src.Bands(),
		"tiles", len(tiles), "tile_rows", rows, "tile_cols", cols,
		"workers", cfg.Workers, "peak_bytes", planner.PeakMemory(),
		"nodata", rule.String(), "features", len(coll.Features))

	byID, err := runPass(ctx, &cfg, PassID, "", src, coll.Features, rule, tiles)
	if err != nil {
		return nil, err
	}

	byClass, err := runPass(ctx, &cfg, PassClass, cfg.ClassField, src, coll.Features, rule, tiles)
	if err != nil {
		return nil, err
	}

	return &Result{
		ByID:     byID,
		ByClass:  byClass,
		Tiles:    len(tiles),
		TileRows: rows,
		TileCols: cols,
		Rule:     rule,
	}, nil
}

// checkSRS rejects collections in a different frame than the raster.
// An empty identifier on either side matches anything.
func checkSRS(rasterSRS, vectorSRS string) error {
	a, b := strings.TrimSpace(rasterSRS), strings.TrimSpace(vectorSRS)
	if a == "" || b == "" || strings.EqualFold(a, b) {
		return nil
	}

	return fmt.Errorf("%w: raster SRS %q, vector SRS %q", grid.ErrMismatch, a, b)
}

func checkMask(g grid.Grid, mask raster.Source) error {
	if mask.Bands() != 1 {
		return fmt.Errorf("%w: got %d", ErrMaskBands, mask.Bands())
	}

	err := g.CheckCoregistered(mask.Grid())
	if err != nil {
		return fmt.Errorf("mask: %w", err)
	}

	return nil
}

func newRasterizer(cfg *Config, g grid.Grid, field string, features []vector.Feature) (*rasterize.Rasterizer, error) {
	r, err := rasterize.New(g, features, cfg.rasterizeOptions(field))
	if err != nil {
		return nil, fmt.Errorf("rasterize %q: %w", field, err)
	}

	return r, nil
}
