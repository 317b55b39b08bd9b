// Package stats accumulates per-label pixel statistics from streamed tiles.
//
// Each label keeps a count and, per band, Welford's running mean and sum of
// squared deviations. Entries fold samples one at a time and combine with
// the parallel form of the same recurrence, so results do not depend on
// tile size, tile order or how work was split between workers.
package stats

import "slices"

// Entry is the running population of one label.
type Entry struct {
	Count uint64
	Mean  []float64
	M2    []float64
}

// NewEntry returns an empty entry for the given band count.
func NewEntry(bands int) *Entry {
	return &Entry{
		Mean: make([]float64, bands),
		M2:   make([]float64, bands),
	}
}

// Add folds one pixel's samples into the entry.
func (e *Entry) Add(samples []float64) {
	e.Count++
	n := float64(e.Count)

	for b, v := range samples {
		delta := v - e.Mean[b]
		e.Mean[b] += delta / n
		e.M2[b] += delta * (v - e.Mean[b])
	}
}

// Merge combines other into e.
func (e *Entry) Merge(other *Entry) {
	if other.Count == 0 {
		return
	}

	if e.Count == 0 {
		e.Count = other.Count
		copy(e.Mean, other.Mean)
		copy(e.M2, other.M2)

		return
	}

	c1 := float64(e.Count)
	c2 := float64(other.Count)
	total := c1 + c2

	for b := range e.Mean {
		delta := other.Mean[b] - e.Mean[b]
		e.Mean[b] += delta * c2 / total
		e.M2[b] += other.M2[b] + delta*delta*c1*c2/total
	}

	e.Count += other.Count
}

// Variance returns the per-band population variance. It is zero for an
// empty entry and never negative.
func (e *Entry) Variance() []float64 {
	out := make([]float64, len(e.M2))
	if e.Count == 0 {
		return out
	}

	for b, m2 := range e.M2 {
		out[b] = max(m2/float64(e.Count), 0)
	}

	return out
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	return &Entry{
		Count: e.Count,
		Mean:  slices.Clone(e.Mean),
		M2:    slices.Clone(e.M2),
	}
}
