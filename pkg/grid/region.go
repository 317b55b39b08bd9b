package grid

import "fmt"

// Region is a rectangular pixel window of a grid.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Pixels returns the number of pixels in the region.
func (r Region) Pixels() int {
	return r.Width * r.Height
}

// Empty reports whether the region has no pixels.
func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// String implements fmt.Stringer.
func (r Region) String() string {
	return fmt.Sprintf("[%d,%d %dx%d]", r.X, r.Y, r.Width, r.Height)
}

// Contains reports whether other lies entirely inside r.
func (r Region) Contains(other Region) bool {
	return other.X >= r.X && other.Y >= r.Y &&
		other.X+other.Width <= r.X+r.Width &&
		other.Y+other.Height <= r.Y+r.Height
}

// CheckInside returns ErrRegionOutOfBounds unless r is a non-empty window of g.
func (g Grid) CheckInside(r Region) error {
	if r.Empty() || !g.Bounds().Contains(r) {
		return fmt.Errorf("%w: %s in %dx%d", ErrRegionOutOfBounds, r, g.Width, g.Height)
	}

	return nil
}
