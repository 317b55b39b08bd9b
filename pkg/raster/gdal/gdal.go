// Package gdal reads rasters through GDAL, covering GeoTIFF and the other
// formats GDAL drivers support.
package gdal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/Sumatoshi-tech/polystats/pkg/grid"
	"github.com/Sumatoshi-tech/polystats/pkg/raster"
)

// Sentinel errors.
var (
	// ErrNoGeoTransform is returned for datasets without a geotransform.
	ErrNoGeoTransform = errors.New("raster has no geotransform")
	// ErrRotated is returned for geotransforms with rotation terms.
	ErrRotated = errors.New("rotated rasters are not supported")
	// ErrNoBands is returned for datasets without raster bands.
	ErrNoBands = errors.New("raster has no bands")
)

var registerOnce sync.Once

var _ raster.Source = (*Source)(nil)

// Source is a raster.Source over a GDAL dataset. Reads go straight into the
// destination, pixel-interleaved, and are serialized on the dataset handle.
type Source struct {
	mu        sync.Mutex
	ds        *godal.Dataset
	grid      grid.Grid
	bands     int
	noData    float64
	hasNoData bool
}

// Open opens the raster at path. The spatial reference is the dataset's WKT.
func Open(path string) (*Source, error) {
	registerOnce.Do(godal.RegisterAll)

	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster: %w", err)
	}

	src, err := newSource(ds)
	if err != nil {
		_ = ds.Close()

		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return src, nil
}

func newSource(ds *godal.Dataset) (*Source, error) {
	st := ds.Structure()
	if st.NBands < 1 {
		return nil, ErrNoBands
	}

	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoGeoTransform, err)
	}

	if gt[2] != 0 || gt[4] != 0 {
		return nil, fmt.Errorf("%w: %v", ErrRotated, gt)
	}

	src := &Source{
		ds:    ds,
		bands: st.NBands,
		grid: grid.Grid{
			OriginX:  gt[0],
			OriginY:  gt[3],
			SpacingX: gt[1],
			SpacingY: gt[5],
			Width:    st.SizeX,
			Height:   st.SizeY,
			SRS:      ds.Projection(),
		},
	}

	src.noData, src.hasNoData = ds.Bands()[0].NoData()

	err = src.grid.Validate()
	if err != nil {
		return nil, err
	}

	return src, nil
}

// Close releases the dataset.
func (s *Source) Close() error {
	return s.ds.Close()
}

// Grid implements raster.Source.
func (s *Source) Grid() grid.Grid { return s.grid }

// Bands implements raster.Source.
func (s *Source) Bands() int { return s.bands }

// NoData implements raster.Source with the first band's no-data value.
func (s *Source) NoData() (float64, bool) { return s.noData, s.hasNoData }

// ReadBlock implements raster.Source.
func (s *Source) ReadBlock(ctx context.Context, r grid.Region, dst []float64) error {
	err := s.grid.CheckInside(r)
	if err != nil {
		return err
	}

	if want := r.Pixels() * s.bands; len(dst) != want {
		return fmt.Errorf("%w: got %d, want %d", raster.ErrBufferSize, len(dst), want)
	}

	err = ctx.Err()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.ds.Read(r.X, r.Y, dst, r.Width, r.Height)
	if err != nil {
		return fmt.Errorf("read raster block %s: %w", r, err)
	}

	return nil
}
