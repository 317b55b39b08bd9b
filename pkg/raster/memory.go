package raster

import (
	"context"
	"fmt"

	"github.com/Sumatoshi-tech/polystats/pkg/grid"
)

// Memory is a Source over a pixel-interleaved sample slice.
type Memory struct {
	grid      grid.Grid
	bands     int
	data      []float64
	noData    float64
	hasNoData bool
}

// NewMemory wraps data, laid out as data[(row*width+col)*bands+band].
// The slice is not copied.
func NewMemory(g grid.Grid, bands int, data []float64) (*Memory, error) {
	err := g.Validate()
	if err != nil {
		return nil, err
	}

	if bands <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBands, bands)
	}

	if want := int(g.Pixels()) * bands; len(data) != want {
		return nil, fmt.Errorf("%w: got %d samples, want %d", ErrDataSize, len(data), want)
	}

	return &Memory{grid: g, bands: bands, data: data}, nil
}

// SetNoData declares v as the no-data value.
func (m *Memory) SetNoData(v float64) {
	m.noData = v
	m.hasNoData = true
}

// Grid implements Source.
func (m *Memory) Grid() grid.Grid { return m.grid }

// Bands implements Source.
func (m *Memory) Bands() int { return m.bands }

// NoData implements Source.
func (m *Memory) NoData() (float64, bool) { return m.noData, m.hasNoData }

// ReadBlock implements Source.
func (m *Memory) ReadBlock(_ context.Context, r grid.Region, dst []float64) error {
	err := checkRead(m.grid, m.bands, r, dst)
	if err != nil {
		return err
	}

	rowLen := r.Width * m.bands

	for row := range r.Height {
		start := ((r.Y+row)*m.grid.Width + r.X) * m.bands
		copy(dst[row*rowLen:(row+1)*rowLen], m.data[start:start+rowLen])
	}

	return nil
}
