// Package streaming splits a raster grid into tiles sized to a memory budget.
package streaming

import (
	"github.com/Sumatoshi-tech/polystats/pkg/budget"
	"github.com/Sumatoshi-tech/polystats/pkg/grid"
)

// Planner calculates tile boundaries for a streaming pass.
type Planner struct {
	Grid  grid.Grid
	Bands int

	// MemoryBudget bounds the blocks held at once by all workers, in bytes.
	// Zero or negative means the whole image is one tile.
	MemoryBudget int64

	// Workers is the number of tiles in flight; each holds its own blocks.
	Workers int

	// TileRows, when positive, forces full-width strips of this height
	// and overrides MemoryBudget.
	TileRows int

	// Mask reports that an external mask block is read alongside each tile.
	Mask bool

	// RowStaging is what the sources stage per full-width row while reading.
	RowStaging int64
}

func (p *Planner) model() budget.Model {
	return budget.Model{Bands: p.Bands, Workers: p.Workers, Mask: p.Mask, RowStaging: p.RowStaging}
}

// Plan returns tiles covering the grid exactly once, in raster scan order.
func (p *Planner) Plan() []grid.Region {
	if p.Grid.Width <= 0 || p.Grid.Height <= 0 {
		return nil
	}

	rows, cols := p.TileShape()

	var tiles []grid.Region

	for y := 0; y < p.Grid.Height; y += rows {
		h := min(rows, p.Grid.Height-y)

		for x := 0; x < p.Grid.Width; x += cols {
			tiles = append(tiles, grid.Region{X: x, Y: y, Width: min(cols, p.Grid.Width-x), Height: h})
		}
	}

	return tiles
}

// TileShape returns the tile height and width the plan uses. Tiles are full
// width strips unless a single row does not fit, in which case rows are
// split into column chunks down to a single pixel.
func (p *Planner) TileShape() (rows, cols int) {
	width, height := p.Grid.Width, p.Grid.Height

	if p.TileRows > 0 {
		return min(p.TileRows, height), width
	}

	if p.MemoryBudget <= 0 || width <= 0 || height <= 0 {
		return height, width
	}

	m := p.model()

	rows = int(min(int64(height), p.MemoryBudget/m.TileMemory(1, width)))
	if rows >= 1 {
		return rows, width
	}

	// One row does not fit; the staging strip stays whole, the blocks shrink.
	perPixel := m.PixelBytes() * int64(max(p.Workers, 1))
	cols = int((p.MemoryBudget - p.RowStaging) / perPixel)

	return 1, max(1, cols)
}

// PeakMemory returns the estimated working memory of the plan's largest tile
// across all workers, staging included.
func (p *Planner) PeakMemory() int64 {
	rows, cols := p.TileShape()

	return p.model().TileMemory(rows, cols)
}
