package persist

import (
	"github.com/Sumatoshi-tech/polystats/pkg/stats"
)

// Report section names.
const (
	SectionPerClass  = "samplesPerClass"
	SectionPerVector = "samplesPerVector"
)

// Report is the persisted result of a statistics run.
type Report struct {
	SamplesPerClass  map[uint32]stats.Summary `json:"samplesPerClass" yaml:"samplesPerClass"`
	SamplesPerVector map[uint32]stats.Summary `json:"samplesPerVector" yaml:"samplesPerVector"`
}

// NewReport builds a report from finalized class and identifier maps.
func NewReport(byClass, byID stats.Map) *Report {
	return &Report{
		SamplesPerClass:  byClass.Summaries(),
		SamplesPerVector: byID.Summaries(),
	}
}

// sections returns the report maps keyed by section name.
func (r *Report) sections() map[string]map[uint32]stats.Summary {
	return map[string]map[uint32]stats.Summary{
		SectionPerClass:  r.SamplesPerClass,
		SectionPerVector: r.SamplesPerVector,
	}
}
