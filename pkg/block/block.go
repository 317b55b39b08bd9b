// Package block defines the transient, tile-sized buffers that flow through a
// pass: raster samples, burned labels and the validity mask. Buffers grow as
// needed but never shrink, so one set per worker serves a whole pass.
package block

import (
	"slices"

	"github.com/Sumatoshi-tech/polystats/pkg/grid"
)

// Pixels holds raster samples of a region, pixel-interleaved:
// Data[(row*Region.Width+col)*Bands+band].
type Pixels struct {
	Region grid.Region
	Bands  int
	Data   []float64
}

// Reset sizes the block for region r.
func (p *Pixels) Reset(r grid.Region, bands int) {
	n := r.Pixels() * bands
	p.Region = r
	p.Bands = bands
	p.Data = slices.Grow(p.Data[:0], n)[:n]
}

// Pixel returns the samples of pixel i.
func (p *Pixels) Pixel(i int) []float64 {
	return p.Data[i*p.Bands : (i+1)*p.Bands]
}

// Labels holds burned labels of a region. Covered is the explicit "a
// geometry was drawn here" tag; Values of uncovered pixels hold the
// rasterizer's background value.
type Labels struct {
	Region  grid.Region
	Values  []uint32
	Covered []bool
}

// Reset sizes the block for region r and fills it with background.
func (l *Labels) Reset(r grid.Region, background uint32) {
	n := r.Pixels()
	l.Region = r
	l.Values = slices.Grow(l.Values[:0], n)[:n]
	l.Covered = slices.Grow(l.Covered[:0], n)[:n]

	for i := range l.Values {
		l.Values[i] = background
	}

	clear(l.Covered)
}

// Set marks pixel i as covered with label.
func (l *Labels) Set(i int, label uint32) {
	l.Values[i] = label
	l.Covered[i] = true
}

// Mask holds per-pixel validity of a region.
type Mask struct {
	Region grid.Region
	Valid  []bool
}

// Reset sizes the mask for region r. Contents are unspecified.
func (m *Mask) Reset(r grid.Region) {
	n := r.Pixels()
	m.Region = r
	m.Valid = slices.Grow(m.Valid[:0], n)[:n]
}

// AnyCovered reports whether at least one pixel is covered.
func (l *Labels) AnyCovered() bool {
	for _, c := range l.Covered {
		if c {
			return true
		}
	}

	return false
}
