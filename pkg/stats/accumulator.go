package stats

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/polystats/pkg/block"
)

// Sentinel errors.
var (
	// ErrShapeMismatch is returned when pixel, label and mask blocks do not cover the same region.
	ErrShapeMismatch = errors.New("blocks are not co-registered")
	// ErrBandMismatch is returned when band counts differ.
	ErrBandMismatch = errors.New("band count mismatch")
)

// Accumulator folds tiles into a Map. Its size depends only on the number
// of distinct labels seen. It is not safe for concurrent use; give each
// worker its own and Merge them.
type Accumulator struct {
	bands   int
	entries Map
	pixels  uint64
}

// NewAccumulator returns an empty accumulator for rasters with bands bands.
func NewAccumulator(bands int) *Accumulator {
	return &Accumulator{bands: bands, entries: make(Map)}
}

// Fold adds every pixel that is valid in mask and covered in labels.
func (a *Accumulator) Fold(pixels *block.Pixels, labels *block.Labels, mask *block.Mask) error {
	if pixels.Region != labels.Region || pixels.Region != mask.Region {
		return fmt.Errorf("%w: pixels %s, labels %s, mask %s",
			ErrShapeMismatch, pixels.Region, labels.Region, mask.Region)
	}

	if pixels.Bands != a.bands {
		return fmt.Errorf("%w: block has %d, accumulator %d", ErrBandMismatch, pixels.Bands, a.bands)
	}

	var (
		last      uint32
		lastEntry *Entry
	)

	for i, valid := range mask.Valid {
		if !valid || !labels.Covered[i] {
			continue
		}

		label := labels.Values[i]

		if lastEntry == nil || label != last {
			lastEntry = a.entry(label)
			last = label
		}

		lastEntry.Add(pixels.Pixel(i))
		a.pixels++
	}

	return nil
}

func (a *Accumulator) entry(label uint32) *Entry {
	e, ok := a.entries[label]
	if !ok {
		e = NewEntry(a.bands)
		a.entries[label] = e
	}

	return e
}

// Merge combines another accumulator's entries into a.
func (a *Accumulator) Merge(other *Accumulator) error {
	if other.bands != a.bands {
		return fmt.Errorf("%w: %d vs %d", ErrBandMismatch, a.bands, other.bands)
	}

	a.entries.Merge(other.entries)
	a.pixels += other.pixels

	return nil
}

// Pixels returns the number of pixels folded so far.
func (a *Accumulator) Pixels() uint64 { return a.pixels }

// Map returns the live table.
func (a *Accumulator) Map() Map { return a.entries }

// Finalize removes the background label, a rasterization artifact, and
// returns the table.
func (a *Accumulator) Finalize(background uint32) Map {
	delete(a.entries, background)

	return a.entries
}
