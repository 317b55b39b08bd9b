// Package plot renders a report as an HTML page of bar charts.
package plot

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/polystats/pkg/persist"
	"github.com/Sumatoshi-tech/polystats/pkg/stats"
)

const (
	chartWidth  = "100%"
	chartHeight = "420px"
	labelRotate = 45
	pageTitle   = "polystats"
)

// CountChart plots the valid pixel count of every key of a section.
func CountChart(title string, section map[uint32]stats.Summary) *charts.Bar {
	keys := sortedKeys(section)

	data := make([]opts.BarData, len(keys))
	for i, k := range keys {
		data[i] = opts.BarData{Value: section[k].Count}
	}

	bar := newBar(title, "pixels", keys)
	bar.AddSeries("count", data)

	return bar
}

// MeanChart plots the per-band mean of every key of a section, one series
// per band.
func MeanChart(title string, section map[uint32]stats.Summary) *charts.Bar {
	keys := sortedKeys(section)
	bar := newBar(title, "mean", keys)

	bands := 0
	for _, s := range section {
		bands = max(bands, len(s.Mean))
	}

	for b := range bands {
		data := make([]opts.BarData, len(keys))

		for i, k := range keys {
			if mean := section[k].Mean; b < len(mean) {
				data[i] = opts.BarData{Value: mean[b]}
			}
		}

		bar.AddSeries("band "+strconv.Itoa(b+1), data)
	}

	return bar
}

// Render writes the chart page of report to w.
func Render(w io.Writer, report *persist.Report) error {
	page := components.NewPage()
	page.PageTitle = pageTitle

	page.AddCharts(
		CountChart("Samples per class", report.SamplesPerClass),
		MeanChart("Mean per class", report.SamplesPerClass),
		CountChart("Samples per polygon", report.SamplesPerVector),
	)

	err := page.Render(w)
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}

	return nil
}

// WriteFile renders report to an HTML file at path.
func WriteFile(path string, report *persist.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create plot file: %w", err)
	}

	err = Render(f, report)
	closeErr := f.Close()

	if err != nil {
		return err
	}

	if closeErr != nil {
		return fmt.Errorf("close plot file: %w", closeErr)
	}

	return nil
}

func newBar(title, yName string, keys []uint32) *charts.Bar {
	labels := make([]string, len(keys))
	for i, k := range keys {
		labels[i] = strconv.FormatUint(uint64(k), 10)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Rotate: labelRotate, Interval: "0"},
		}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
	)
	bar.SetXAxis(labels)

	return bar
}

func sortedKeys(m map[uint32]stats.Summary) []uint32 {
	return slices.Sorted(maps.Keys(m))
}
