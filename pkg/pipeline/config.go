// Package pipeline runs the identifier and class statistics passes over a
// raster source and a polygon collection, tile by tile.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sumatoshi-tech/polystats/pkg/budget"
	"github.com/Sumatoshi-tech/polystats/pkg/nodata"
	"github.com/Sumatoshi-tech/polystats/pkg/observability"
	"github.com/Sumatoshi-tech/polystats/pkg/raster"
	"github.com/Sumatoshi-tech/polystats/pkg/rasterize"
)

// Pass names.
const (
	PassID    = "id"
	PassClass = "class"
)

// Sentinel errors.
var (
	// ErrNoClassField is returned when no class attribute is configured.
	ErrNoClassField = errors.New("class field is required")
	// ErrMaskBands is returned for mask rasters with more than one band.
	ErrMaskBands = errors.New("mask raster must have a single band")
)

// ProgressFunc is called after every tile of a pass. Calls are serialized.
type ProgressFunc func(pass string, done, total int)

// Config controls a Run.
type Config struct {
	// ClassField is the attribute burned in the class pass.
	ClassField string
	// DefaultBurn is burned for features whose class value does not
	// resolve to a label.
	DefaultBurn uint32
	// Background marks uncovered pixels; no burn value may equal it.
	Background uint32

	NoDataMode  nodata.Mode
	NoDataValue float64

	// Mask, when set, is a single-band raster on the same grid; pixels
	// where it is zero or NaN are invalid in both passes.
	Mask raster.Source

	// MemoryBudget bounds tile buffers across all workers, in bytes.
	// Zero or negative processes the image as a single tile.
	MemoryBudget int64
	Workers      int
	// TileRows forces strips of this height when positive.
	TileRows int

	Logger   *slog.Logger
	Metrics  *observability.PassMetrics
	Progress ProgressFunc
}

// DefaultConfig returns a single-worker config with the default budget.
// ClassField must still be set.
func DefaultConfig() Config {
	return Config{
		Background:   rasterize.NoLabel,
		MemoryBudget: budget.DefaultBudget,
		Workers:      1,
	}
}

// Validate checks the config and fills zero values.
func (c *Config) Validate() error {
	if c.ClassField == "" {
		return ErrNoClassField
	}

	if c.Workers < 1 {
		c.Workers = 1
	}

	if c.TileRows < 0 {
		return fmt.Errorf("tile rows must not be negative, got %d", c.TileRows)
	}

	if c.Logger == nil {
		c.Logger = observability.DiscardLogger()
	}

	return nil
}

func (c *Config) rasterizeOptions(field string) rasterize.Options {
	return rasterize.Options{
		Field:       field,
		Background:  c.Background,
		DefaultBurn: c.DefaultBurn,
		Logger:      c.Logger,
	}
}
