// Package raster provides block-readable raster sources: an in-memory
// implementation and a NetCDF-backed one.
package raster

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/polystats/pkg/grid"
)

// Sentinel errors.
var (
	// ErrBufferSize is returned when a destination buffer does not match the requested region.
	ErrBufferSize = errors.New("destination buffer size mismatch")
	// ErrInvalidBands is returned for a non-positive band count.
	ErrInvalidBands = errors.New("band count must be positive")
	// ErrDataSize is returned when sample data does not match grid and band count.
	ErrDataSize = errors.New("sample data size mismatch")
)

// Source is a read-only raster supporting block reads.
//
// ReadBlock fills dst with the samples of region r, pixel-interleaved in
// raster scan order: dst[(row*r.Width+col)*Bands()+band]. Implementations
// must be safe for concurrent ReadBlock calls.
type Source interface {
	Grid() grid.Grid
	Bands() int
	// NoData returns the declared no-data value, if any.
	NoData() (float64, bool)
	ReadBlock(ctx context.Context, r grid.Region, dst []float64) error
}

// Stager is implemented by sources that stage full-width rows while reading.
type Stager interface {
	// RowStagingBytes returns the staging memory one full-width row costs.
	RowStagingBytes() int64
}

// RowStaging returns the per-row staging memory of src, or zero when it reads
// straight into the destination.
func RowStaging(src Source) int64 {
	s, ok := src.(Stager)
	if !ok {
		return 0
	}

	return s.RowStagingBytes()
}

func checkRead(g grid.Grid, bands int, r grid.Region, dst []float64) error {
	err := g.CheckInside(r)
	if err != nil {
		return err
	}

	if want := r.Pixels() * bands; len(dst) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrBufferSize, len(dst), want)
	}

	return nil
}
