package persist

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Sumatoshi-tech/polystats/pkg/stats"
)

// ErrXMLState is returned when XMLCodec is given anything but a report.
var ErrXMLState = errors.New("xml codec only handles *Report")

// generalStatistics is the XML statistics document:
//
//	<GeneralStatistics>
//	  <Statistic name="samplesPerClass">
//	    <StatisticMap key="1" value="120" mean="..." variance="..."/>
//	  </Statistic>
//	</GeneralStatistics>
//
// value holds the pixel count; mean and variance are space-separated per band.
type generalStatistics struct {
	XMLName    xml.Name       `xml:"GeneralStatistics"`
	Statistics []xmlStatistic `xml:"Statistic"`
}

type xmlStatistic struct {
	Name    string         `xml:"name,attr"`
	Entries []xmlStatEntry `xml:"StatisticMap"`
}

type xmlStatEntry struct {
	Key      uint32 `xml:"key,attr"`
	Value    uint64 `xml:"value,attr"`
	Mean     string `xml:"mean,attr,omitempty"`
	Variance string `xml:"variance,attr,omitempty"`
}

// XMLCodec implements Codec for the XML statistics document.
type XMLCodec struct {
	Indent string
}

// NewXMLCodec creates an XML codec with 2-space indentation.
func NewXMLCodec() *XMLCodec {
	return &XMLCodec{Indent: defaultIndent}
}

// Encode implements Codec.Encode. Sections and keys are written in order.
func (c *XMLCodec) Encode(w io.Writer, state any) error {
	report, ok := state.(*Report)
	if !ok {
		return fmt.Errorf("%w, got %T", ErrXMLState, state)
	}

	doc := generalStatistics{
		Statistics: []xmlStatistic{
			toXMLStatistic(SectionPerClass, report.SamplesPerClass),
			toXMLStatistic(SectionPerVector, report.SamplesPerVector),
		},
	}

	_, err := io.WriteString(w, xml.Header)
	if err != nil {
		return fmt.Errorf("xml encode: %w", err)
	}

	encoder := xml.NewEncoder(w)
	encoder.Indent("", c.Indent)

	err = encoder.Encode(doc)
	if err != nil {
		return fmt.Errorf("xml encode: %w", err)
	}

	_, err = io.WriteString(w, "\n")
	if err != nil {
		return fmt.Errorf("xml encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode. Unknown sections are ignored.
func (c *XMLCodec) Decode(r io.Reader, state any) error {
	report, ok := state.(*Report)
	if !ok {
		return fmt.Errorf("%w, got %T", ErrXMLState, state)
	}

	var doc generalStatistics

	err := xml.NewDecoder(r).Decode(&doc)
	if err != nil {
		return fmt.Errorf("xml decode: %w", err)
	}

	report.SamplesPerClass = map[uint32]stats.Summary{}
	report.SamplesPerVector = map[uint32]stats.Summary{}

	sections := report.sections()

	for _, st := range doc.Statistics {
		dst, known := sections[st.Name]
		if !known {
			continue
		}

		for _, e := range st.Entries {
			summary, parseErr := fromXMLEntry(e)
			if parseErr != nil {
				return fmt.Errorf("xml decode %s key %d: %w", st.Name, e.Key, parseErr)
			}

			dst[e.Key] = summary
		}
	}

	return nil
}

// Extension implements Codec.Extension for XML files.
func (c *XMLCodec) Extension() string {
	return xmlExtension
}

func toXMLStatistic(name string, m map[uint32]stats.Summary) xmlStatistic {
	st := xmlStatistic{Name: name, Entries: make([]xmlStatEntry, 0, len(m))}

	for _, key := range sortedKeys(m) {
		s := m[key]
		st.Entries = append(st.Entries, xmlStatEntry{
			Key:      key,
			Value:    s.Count,
			Mean:     joinFloats(s.Mean),
			Variance: joinFloats(s.Variance),
		})
	}

	return st
}

func fromXMLEntry(e xmlStatEntry) (stats.Summary, error) {
	mean, err := splitFloats(e.Mean)
	if err != nil {
		return stats.Summary{}, err
	}

	variance, err := splitFloats(e.Variance)
	if err != nil {
		return stats.Summary{}, err
	}

	return stats.Summary{Count: e.Value, Mean: mean, Variance: variance}, nil
}

func joinFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}

	return strings.Join(parts, " ")
}

func splitFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, nil
	}

	out := make([]float64, len(fields))

	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", f, err)
		}

		out[i] = v
	}

	return out, nil
}
