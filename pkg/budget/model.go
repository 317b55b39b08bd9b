// Package budget models the working memory of a statistics pass so that a
// memory ceiling can be turned into a tile size.
package budget

// Size unit multipliers (binary, 1024-based).
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// Per-pixel working memory of one tile.
const (
	// SampleSize is one raster sample, held as float64.
	SampleSize = 8

	// LabelSize is one burned label (uint32).
	LabelSize = 4

	// CoverageSize is the per-pixel "covered" tag of a label block.
	CoverageSize = 1

	// MaskSize is one validity flag.
	MaskSize = 1

	// MaskSampleSize is one sample of an external validity mask raster.
	MaskSampleSize = SampleSize
)

// DefaultBudget is the tile memory ceiling used when none is configured.
const DefaultBudget = 256 * MiB

// BytesPerPixel returns the working memory one pixel costs in a tile: its
// samples, its label, its coverage tag and its validity flag.
func BytesPerPixel(bands int) int64 {
	return int64(max(bands, 1))*SampleSize + LabelSize + CoverageSize + MaskSize
}

// Model is the working memory of one pass.
type Model struct {
	Bands int

	// Workers is the number of tiles in flight; each holds its own blocks.
	Workers int

	// Mask adds one external mask sample per pixel.
	Mask bool

	// RowStaging is what the sources stage per full-width row while reading.
	// Reads are serialized, so a single staging strip is shared by all workers.
	RowStaging int64
}

// PixelBytes returns what one tile pixel costs one worker.
func (m Model) PixelBytes() int64 {
	b := BytesPerPixel(m.Bands)
	if m.Mask {
		b += MaskSampleSize
	}

	return b
}

// TileMemory returns the peak working memory while every worker holds a
// tile of rows x cols pixels.
func (m Model) TileMemory(rows, cols int) int64 {
	workers := int64(max(m.Workers, 1))

	return workers*int64(rows)*int64(cols)*m.PixelBytes() + int64(rows)*m.RowStaging
}
