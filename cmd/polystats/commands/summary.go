package commands

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Sumatoshi-tech/polystats/pkg/pipeline"
	"github.com/Sumatoshi-tech/polystats/pkg/stats"
)

const meanPrecision = 4

// renderSummary formats the per-class table followed by a one-row polygon
// total.
func renderSummary(result *pipeline.Result) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle("Samples per class")
	tbl.AppendHeader(table.Row{"Class", "Pixels", "Mean", "Variance"})
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})

	for _, label := range result.ByClass.Labels() {
		e := result.ByClass[label]
		tbl.AppendRow(table.Row{
			label,
			humanize.Comma(int64(e.Count)),
			formatBands(e.Mean),
			formatBands(e.Variance()),
		})
	}

	tbl.AppendFooter(table.Row{
		"Total",
		humanize.Comma(int64(result.ByClass.TotalCount())),
		strconv.Itoa(len(result.ByClass)) + " classes",
		"",
	})

	var b strings.Builder

	b.WriteString(tbl.Render())
	b.WriteString("\n")
	b.WriteString(polygonLine(result.ByID))
	b.WriteString("\n")

	return b.String()
}

func polygonLine(byID stats.Map) string {
	return humanize.Comma(int64(len(byID))) + " polygon(s) with valid pixels, " +
		humanize.Comma(int64(byID.TotalCount())) + " pixel(s)"
}

func formatBands(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'f', meanPrecision, 64)
	}

	return strings.Join(parts, " ")
}
