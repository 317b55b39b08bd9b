// Package grid describes the pixel grid shared by a raster, its label image
// and its validity mask, and the rectangular tiles a pass is streamed in.
package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom"
)

// Sentinel errors.
var (
	// ErrInvalidGrid is returned for grids with a non-positive size or zero spacing.
	ErrInvalidGrid = errors.New("invalid grid")
	// ErrMismatch is returned when two grids cannot be co-registered pixel for pixel.
	ErrMismatch = errors.New("grids are not co-registered")
	// ErrRegionOutOfBounds is returned when a region does not lie inside the grid.
	ErrRegionOutOfBounds = errors.New("region out of grid bounds")
)

// coregistrationTolerance is the relative tolerance, in pixels, applied when
// comparing origins and spacings of two grids.
const coregistrationTolerance = 1e-6

// Grid is the geometry of a north-up raster: origin of the upper-left corner,
// signed pixel spacing, size in pixels and spatial reference.
type Grid struct {
	OriginX  float64
	OriginY  float64
	SpacingX float64
	SpacingY float64
	Width    int
	Height   int
	// SRS identifies the spatial reference (proj4, WKT or EPSG code).
	// Empty means unknown and matches any other reference.
	SRS string
}

// Validate checks the grid is usable.
func (g Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidGrid, g.Width, g.Height)
	}

	if g.SpacingX == 0 || g.SpacingY == 0 || math.IsNaN(g.SpacingX) || math.IsNaN(g.SpacingY) {
		return fmt.Errorf("%w: spacing (%g, %g)", ErrInvalidGrid, g.SpacingX, g.SpacingY)
	}

	return nil
}

// Pixels returns the total number of pixels.
func (g Grid) Pixels() int64 {
	return int64(g.Width) * int64(g.Height)
}

// Bounds returns the whole grid as a region.
func (g Grid) Bounds() Region {
	return Region{Width: g.Width, Height: g.Height}
}

// ToPixel converts world coordinates into continuous pixel coordinates, where
// the upper-left corner of pixel (c, r) is (c, r).
func (g Grid) ToPixel(x, y float64) (px, py float64) {
	return (x - g.OriginX) / g.SpacingX, (y - g.OriginY) / g.SpacingY
}

// WorldBounds returns the world-space bounding box of a region.
func (g Grid) WorldBounds(r Region) *geom.Bounds {
	x0 := g.OriginX + float64(r.X)*g.SpacingX
	x1 := g.OriginX + float64(r.X+r.Width)*g.SpacingX
	y0 := g.OriginY + float64(r.Y)*g.SpacingY
	y1 := g.OriginY + float64(r.Y+r.Height)*g.SpacingY

	return &geom.Bounds{
		Min: geom.Point{X: math.Min(x0, x1), Y: math.Min(y0, y1)},
		Max: geom.Point{X: math.Max(x0, x1), Y: math.Max(y0, y1)},
	}
}

// CheckCoregistered reports whether other describes the same pixels as g.
// An empty SRS on either side is treated as a wildcard.
func (g Grid) CheckCoregistered(other Grid) error {
	if g.Width != other.Width || g.Height != other.Height {
		return fmt.Errorf("%w: size %dx%d vs %dx%d", ErrMismatch, g.Width, g.Height, other.Width, other.Height)
	}

	if !closeTo(g.SpacingX, other.SpacingX, g.SpacingX) || !closeTo(g.SpacingY, other.SpacingY, g.SpacingY) {
		return fmt.Errorf("%w: spacing (%g, %g) vs (%g, %g)",
			ErrMismatch, g.SpacingX, g.SpacingY, other.SpacingX, other.SpacingY)
	}

	if !closeTo(g.OriginX, other.OriginX, g.SpacingX) || !closeTo(g.OriginY, other.OriginY, g.SpacingY) {
		return fmt.Errorf("%w: origin (%g, %g) vs (%g, %g)",
			ErrMismatch, g.OriginX, g.OriginY, other.OriginX, other.OriginY)
	}

	if g.SRS != "" && other.SRS != "" && g.SRS != other.SRS {
		return fmt.Errorf("%w: spatial reference %q vs %q", ErrMismatch, g.SRS, other.SRS)
	}

	return nil
}

func closeTo(a, b, scale float64) bool {
	return math.Abs(a-b) <= coregistrationTolerance*math.Abs(scale)
}
