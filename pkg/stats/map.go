package stats

import (
	"maps"
	"slices"
)

// Map is a label-keyed population table. A label absent from the map had no
// valid pixels.
type Map map[uint32]*Entry

// Merge combines every entry of other into m. other is left unchanged.
func (m Map) Merge(other Map) {
	for label, e := range other {
		if dst, ok := m[label]; ok {
			dst.Merge(e)

			continue
		}

		m[label] = e.Clone()
	}
}

// Labels returns the labels in ascending order.
func (m Map) Labels() []uint32 {
	return slices.Sorted(maps.Keys(m))
}

// TotalCount returns the sum of all counts.
func (m Map) TotalCount() uint64 {
	var total uint64

	for _, e := range m {
		total += e.Count
	}

	return total
}

// Summary is the sink-facing view of an entry.
type Summary struct {
	Count    uint64    `json:"count" yaml:"count"`
	Mean     []float64 `json:"mean" yaml:"mean"`
	Variance []float64 `json:"variance" yaml:"variance"`
}

// Summaries converts every entry to a Summary.
func (m Map) Summaries() map[uint32]Summary {
	out := make(map[uint32]Summary, len(m))

	for label, e := range m {
		out[label] = Summary{
			Count:    e.Count,
			Mean:     slices.Clone(e.Mean),
			Variance: e.Variance(),
		}
	}

	return out
}
