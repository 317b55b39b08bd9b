package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricTilesTotal     = "polystats.pass.tiles.total"
	metricPixelsTotal    = "polystats.pass.pixels.total"
	metricSkippedTotal   = "polystats.pass.tiles.skipped.total"
	metricTileDuration   = "polystats.pass.tile.duration.seconds"
	metricPassDuration   = "polystats.pass.duration.seconds"
	metricLabelsObserved = "polystats.pass.labels.total"

	attrPass = "pass"
)

// durationBucketBoundaries covers 1ms tiles up to ten-minute passes.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// PassMetrics holds OTel instruments for statistics passes.
type PassMetrics struct {
	tilesTotal   metric.Int64Counter
	skippedTotal metric.Int64Counter
	pixelsTotal  metric.Int64Counter
	labelsTotal  metric.Int64Counter
	tileDuration metric.Float64Histogram
	passDuration metric.Float64Histogram
}

// PassStats summarizes one completed pass.
type PassStats struct {
	// Pass is "id" or "class".
	Pass string
	// Tiles is the number of tiles visited.
	Tiles int
	// SkippedTiles had no covered pixel, so no raster read was issued.
	SkippedTiles int
	// Pixels is the number of pixels folded into statistics.
	Pixels int64
	// Labels is the number of distinct labels in the final result.
	Labels int

	TileDurations []time.Duration
	Duration      time.Duration
}

// NewPassMetrics creates pass metric instruments from the given meter.
func NewPassMetrics(mt metric.Meter) (*PassMetrics, error) {
	b := newMetricBuilder(mt)

	pm := &PassMetrics{
		tilesTotal:   b.counter(metricTilesTotal, "Total tiles visited", "{tile}"),
		skippedTotal: b.counter(metricSkippedTotal, "Tiles skipped without covered pixels", "{tile}"),
		pixelsTotal:  b.counter(metricPixelsTotal, "Valid covered pixels folded", "{pixel}"),
		labelsTotal:  b.counter(metricLabelsObserved, "Distinct labels reported", "{label}"),
		tileDuration: b.histogram(metricTileDuration, "Per-tile processing duration in seconds", "s", durationBucketBoundaries...),
		passDuration: b.histogram(metricPassDuration, "Whole pass duration in seconds", "s", durationBucketBoundaries...),
	}

	if b.err != nil {
		return nil, b.err
	}

	return pm, nil
}

// RecordPass records statistics for a completed pass.
// Safe to call on a nil receiver (no-op).
func (pm *PassMetrics) RecordPass(ctx context.Context, stats PassStats) {
	if pm == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrPass, stats.Pass))

	pm.tilesTotal.Add(ctx, int64(stats.Tiles), attrs)
	pm.skippedTotal.Add(ctx, int64(stats.SkippedTiles), attrs)
	pm.pixelsTotal.Add(ctx, stats.Pixels, attrs)
	pm.labelsTotal.Add(ctx, int64(stats.Labels), attrs)

	for _, d := range stats.TileDurations {
		pm.tileDuration.Record(ctx, d.Seconds(), attrs)
	}

	pm.passDuration.Record(ctx, stats.Duration.Seconds(), attrs)
}

// metricBuilder accumulates OTel instrument creation errors,
// enabling batch construction with a single error check.
type metricBuilder struct {
	meter metric.Meter
	err   error
}

func newMetricBuilder(mt metric.Meter) *metricBuilder {
	return &metricBuilder{meter: mt}
}

func (b *metricBuilder) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)

	return c
}

func (b *metricBuilder) histogram(name, desc, unit string, bounds ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	}

	if len(bounds) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(bounds...))
	}

	h, err := b.meter.Float64Histogram(name, opts...)
	b.setErr(name, err)

	return h
}

// setErr records the first instrument creation error.
func (b *metricBuilder) setErr(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("create %s: %w", name, err)
	}
}
