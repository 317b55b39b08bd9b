package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/polystats/pkg/observability"
)

func setupPassMeter(t *testing.T) (*observability.PassMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	pm, err := observability.NewPassMetrics(mp.Meter("test"))
	require.NoError(t, err)

	return pm, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum data type")

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}

	return total
}

func TestPassMetrics_RecordPass(t *testing.T) {
	t.Parallel()

	pm, reader := setupPassMeter(t)
	ctx := context.Background()

	pm.RecordPass(ctx, observability.PassStats{
		Pass:          "class",
		Tiles:         4,
		SkippedTiles:  1,
		Pixels:        1200,
		Labels:        3,
		TileDurations: []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond},
		Duration:      10 * time.Millisecond,
	})

	rm := collectMetrics(t, reader)

	tiles := findMetric(rm, "polystats.pass.tiles.total")
	require.NotNil(t, tiles)
	assert.Equal(t, int64(4), sumOf(t, tiles))

	pixels := findMetric(rm, "polystats.pass.pixels.total")
	require.NotNil(t, pixels)
	assert.Equal(t, int64(1200), sumOf(t, pixels))

	skipped := findMetric(rm, "polystats.pass.tiles.skipped.total")
	require.NotNil(t, skipped)
	assert.Equal(t, int64(1), sumOf(t, skipped))

	tileDur := findMetric(rm, "polystats.pass.tile.duration.seconds")
	require.NotNil(t, tileDur)

	hist, ok := tileDur.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.NotEmpty(t, hist.DataPoints)
	assert.Equal(t, uint64(3), hist.DataPoints[0].Count)

	assert.NotNil(t, findMetric(rm, "polystats.pass.duration.seconds"))
}

func TestPassMetrics_SeparatesPasses(t *testing.T) {
	t.Parallel()

	pm, reader := setupPassMeter(t)
	ctx := context.Background()

	pm.RecordPass(ctx, observability.PassStats{Pass: "id", Tiles: 2})
	pm.RecordPass(ctx, observability.PassStats{Pass: "class", Tiles: 5})

	tiles := findMetric(collectMetrics(t, reader), "polystats.pass.tiles.total")
	require.NotNil(t, tiles)

	sum, ok := tiles.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, sum.DataPoints, 2)
}

func TestPassMetrics_NilReceiver(t *testing.T) {
	t.Parallel()

	var pm *observability.PassMetrics

	assert.NotPanics(t, func() {
		pm.RecordPass(context.Background(), observability.PassStats{Pass: "id", Tiles: 1})
	})
}
