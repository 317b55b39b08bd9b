package pipeline

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/polystats/pkg/budget"
	"github.com/Sumatoshi-tech/polystats/pkg/grid"
	"github.com/Sumatoshi-tech/polystats/pkg/nodata"
	"github.com/Sumatoshi-tech/polystats/pkg/observability"
	"github.com/Sumatoshi-tech/polystats/pkg/raster"
	"github.com/Sumatoshi-tech/polystats/pkg/rasterize"
	"github.com/Sumatoshi-tech/polystats/pkg/stats"
	"github.com/Sumatoshi-tech/polystats/pkg/vector"
)

const tolerance = 1e-9

// tenByTen is a 10x10 grid over world (0,0)-(10,10) with unit pixels.
func tenByTen() grid.Grid {
	return grid.Grid{OriginX: 0, OriginY: 10, SpacingX: 1, SpacingY: -1, Width: 10, Height: 10}
}

func square(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}}
}

func feature(id uint32, p geom.Polygonal, class int) vector.Feature {
	return vector.Feature{ID: id, Geometry: p, Attributes: map[string]vector.Value{"class": vector.Int(class)}}
}

// sequentialSource fills band b of pixel p with p+1+100*b.
func sequentialSource(t *testing.T, g grid.Grid, bands int) *raster.Memory {
	t.Helper()

	pixels := int(g.Pixels())
	data := make([]float64, pixels*bands)

	for p := range pixels {
		for b := range bands {
			data[p*bands+b] = float64(p + 1 + 100*b)
		}
	}

	src, err := raster.NewMemory(g, bands, data)
	require.NoError(t, err)

	return src
}

// halves is the two-polygon layout: rows 0-4 are id 0 / class 1, rows 5-9 are id 1 / class 2.
func halves() *vector.Collection {
	return &vector.Collection{Features: []vector.Feature{
		feature(0, square(0, 5, 10, 10), 1),
		feature(1, square(0, 0, 10, 5), 2),
	}}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ClassField = "class"

	return cfg
}

func counts(m stats.Map) map[uint32]uint64 {
	out := make(map[uint32]uint64, len(m))

	for label, e := range m {
		out[label] = e.Count
	}

	return out
}

func TestRun_Halves(t *testing.T) {
	t.Parallel()

	res, err := Run(context.Background(), testConfig(), sequentialSource(t, tenByTen(), 1), halves())
	require.NoError(t, err)

	assert.Equal(t, map[uint32]uint64{0: 50, 1: 50}, counts(res.ByID))
	assert.Equal(t, map[uint32]uint64{1: 50, 2: 50}, counts(res.ByClass))

	// Pixels 1..50 and 51..100.
	assert.InDelta(t, 25.5, res.ByClass[1].Mean[0], tolerance)
	assert.InDelta(t, 75.5, res.ByClass[2].Mean[0], tolerance)
	assert.InDelta(t, (50.0*50-1)/12, res.ByClass[1].Variance()[0], tolerance)
}

func TestRun_NoDataRows(t *testing.T) {
	t.Parallel()

	src := sequentialSource(t, tenByTen(), 1)

	data := make([]float64, 100)
	require.NoError(t, src.ReadBlock(context.Background(), tenByTen().Bounds(), data))

	for i := range 20 {
		data[i] = 0
	}

	masked, err := raster.NewMemory(tenByTen(), 1, data)
	require.NoError(t, err)

	res, err := Run(context.Background(), testConfig(), masked, halves())
	require.NoError(t, err)

	assert.Equal(t, map[uint32]uint64{0: 30, 1: 50}, counts(res.ByID))
	assert.Equal(t, map[uint32]uint64{1: 30, 2: 50}, counts(res.ByClass))
	assert.Equal(t, nodata.Rule{Value: 0, Enabled: true}, res.Rule)
}

func TestRun_PolygonOutsideExtent(t *testing.T) {
	t.Parallel()

	coll := halves()
	coll.Features = append(coll.Features, feature(2, square(20, 20, 30, 30), 3))

	res, err := Run(context.Background(), testConfig(), sequentialSource(t, tenByTen(), 1), coll)
	require.NoError(t, err)

	assert.NotContains(t, res.ByID, uint32(2))
	assert.NotContains(t, res.ByClass, uint32(3))
	assert.Len(t, res.ByID, 2)
}

func TestRun_NoDataModes(t *testing.T) {
	t.Parallel()

	src := sequentialSource(t, tenByTen(), 1)

	cfg := testConfig()
	cfg.NoDataMode = nodata.ModeValue
	cfg.NoDataValue = 1

	res, err := Run(context.Background(), cfg, src, halves())
	require.NoError(t, err)
	assert.Equal(t, uint64(49), res.ByID[0].Count)

	cfg.NoDataMode = nodata.ModeNone

	res, err = Run(context.Background(), cfg, src, halves())
	require.NoError(t, err)
	assert.Equal(t, uint64(50), res.ByID[0].Count)
	assert.False(t, res.Rule.Enabled)
}

// randomScene is a multi-band raster with sparse no-data and overlapping
// polygons spread over several classes.
func randomScene(t *testing.T) (*raster.Memory, *vector.Collection) {
	t.Helper()

	g := grid.Grid{OriginX: 0, OriginY: 16, SpacingX: 1, SpacingY: -1, Width: 13, Height: 16}
	rng := rand.New(rand.NewPCG(7, 11))
	bands := 3
	data := make([]float64, int(g.Pixels())*bands)

	for i := range data {
		data[i] = rng.Float64()*200 - 50
	}

	for range 10 {
		p := rng.IntN(int(g.Pixels()))
		for b := range bands {
			data[p*bands+b] = -9999
		}
	}

	src, err := raster.NewMemory(g, bands, data)
	require.NoError(t, err)
	src.SetNoData(-9999)

	coll := &vector.Collection{Features: []vector.Feature{
		feature(0, geom.Polygon{{{X: 0.3, Y: 0.2}, {X: 12.7, Y: 1.4}, {X: 6.2, Y: 15.6}, {X: 0.3, Y: 0.2}}}, 1),
		feature(1, square(2.5, 3.5, 8.5, 12.2), 2),
		feature(2, geom.MultiPolygon{square(9, 9, 13, 16), square(0, 13, 3, 16)}, 1),
		feature(3, square(-5, -5, 1.5, 4), 3),
	}}

	return src, coll
}

func assertMapsEqual(t *testing.T, want, got stats.Map) {
	t.Helper()

	require.Equal(t, want.Labels(), got.Labels())

	for label, w := range want {
		g := got[label]

		assert.Equal(t, w.Count, g.Count, "label %d", label)
		assert.InDeltaSlice(t, w.Mean, g.Mean, tolerance, "label %d", label)
		assert.InDeltaSlice(t, w.Variance(), g.Variance(), tolerance, "label %d", label)
	}
}

func TestRun_TilingDoesNotChangeResults(t *testing.T) {
	t.Parallel()

	src, coll := randomScene(t)

	whole := testConfig()
	whole.MemoryBudget = 0

	ref, err := Run(context.Background(), whole, src, coll)
	require.NoError(t, err)
	require.Equal(t, 1, ref.Tiles)

	for _, tileRows := range []int{1, 4, 16} {
		cfg := testConfig()
		cfg.TileRows = tileRows

		res, runErr := Run(context.Background(), cfg, src, coll)
		require.NoError(t, runErr)

		assertMapsEqual(t, ref.ByID, res.ByID)
		assertMapsEqual(t, ref.ByClass, res.ByClass)
	}

	// A budget smaller than one row splits rows into chunks.
	chunked := testConfig()
	chunked.MemoryBudget = 5 * (8*3 + 6)

	res, err := Run(context.Background(), chunked, src, coll)
	require.NoError(t, err)
	assert.Less(t, res.TileCols, src.Grid().Width)

	assertMapsEqual(t, ref.ByID, res.ByID)
	assertMapsEqual(t, ref.ByClass, res.ByClass)
}

func TestRun_WorkersDoNotChangeResults(t *testing.T) {
	t.Parallel()

	src, coll := randomScene(t)

	cfg := testConfig()
	cfg.TileRows = 2

	ref, err := Run(context.Background(), cfg, src, coll)
	require.NoError(t, err)

	cfg.Workers = 4

	res, err := Run(context.Background(), cfg, src, coll)
	require.NoError(t, err)

	assertMapsEqual(t, ref.ByID, res.ByID)
	assertMapsEqual(t, ref.ByClass, res.ByClass)
}

func TestRun_DisjointCountsAddUp(t *testing.T) {
	t.Parallel()

	src := sequentialSource(t, tenByTen(), 2)
	coll := &vector.Collection{Features: []vector.Feature{
		feature(0, square(0, 0, 3, 3), 4),
		feature(1, square(3, 0, 7, 2), 4),
		feature(2, square(5, 5, 10, 10), 9),
	}}

	cfg := testConfig()
	cfg.TileRows = 3

	res, err := Run(context.Background(), cfg, src, coll)
	require.NoError(t, err)

	// Every covered pixel is valid and belongs to exactly one polygon.
	assert.Equal(t, uint64(9+8+25), res.ByID.TotalCount())
	assert.Equal(t, res.ByID.TotalCount(), res.ByClass.TotalCount())

	assert.Equal(t, res.ByID[0].Count+res.ByID[1].Count, res.ByClass[4].Count)
	assert.Equal(t, res.ByID[2].Count, res.ByClass[9].Count)
	assert.InDeltaSlice(t, res.ByID[2].Mean, res.ByClass[9].Mean, tolerance)
}

func TestRun_Mask(t *testing.T) {
	t.Parallel()

	g := tenByTen()
	sel := make([]float64, g.Pixels())

	for i := range sel {
		sel[i] = 1
	}

	// Exclude the first row and one NaN pixel of the second half.
	for i := range 10 {
		sel[i] = 0
	}

	sel[55] = math.NaN()

	mask, err := raster.NewMemory(g, 1, sel)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Mask = mask
	cfg.TileRows = 3

	res, err := Run(context.Background(), cfg, sequentialSource(t, g, 1), halves())
	require.NoError(t, err)

	assert.Equal(t, map[uint32]uint64{0: 40, 1: 49}, counts(res.ByID))
	assert.Equal(t, map[uint32]uint64{1: 40, 2: 49}, counts(res.ByClass))
}

func TestRun_MaskShrinksTiles(t *testing.T) {
	t.Parallel()

	g := tenByTen()
	ones := make([]float64, g.Pixels())

	for i := range ones {
		ones[i] = 1
	}

	mask, err := raster.NewMemory(g, 1, ones)
	require.NoError(t, err)

	// Two rows of blocks with the mask sample, three without.
	cfg := testConfig()
	cfg.MemoryBudget = 2 * 10 * (budget.BytesPerPixel(1) + budget.MaskSampleSize)

	plain, err := Run(context.Background(), cfg, sequentialSource(t, g, 1), halves())
	require.NoError(t, err)
	assert.Equal(t, 3, plain.TileRows)

	cfg.Mask = mask

	masked, err := Run(context.Background(), cfg, sequentialSource(t, g, 1), halves())
	require.NoError(t, err)
	assert.Equal(t, 2, masked.TileRows)
	assert.Equal(t, counts(plain.ByID), counts(masked.ByID))
}

func TestRun_MaskErrors(t *testing.T) {
	t.Parallel()

	src := sequentialSource(t, tenByTen(), 1)

	cfg := testConfig()
	cfg.Mask = sequentialSource(t, tenByTen(), 2)

	_, err := Run(context.Background(), cfg, src, halves())
	require.ErrorIs(t, err, ErrMaskBands)

	small := tenByTen()
	small.Width = 9
	cfg.Mask = sequentialSource(t, small, 1)

	_, err = Run(context.Background(), cfg, src, halves())
	require.ErrorIs(t, err, grid.ErrMismatch)
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	src := sequentialSource(t, tenByTen(), 1)

	_, err := Run(context.Background(), DefaultConfig(), src, halves())
	require.ErrorIs(t, err, ErrNoClassField)

	cfg := testConfig()
	cfg.TileRows = -1

	_, err = Run(context.Background(), cfg, src, halves())
	require.Error(t, err)

	srsGrid := tenByTen()
	srsGrid.SRS = "EPSG:32633"
	coll := halves()
	coll.SRS = "EPSG:4326"

	_, err = Run(context.Background(), testConfig(), sequentialSource(t, srsGrid, 1), coll)
	require.ErrorIs(t, err, grid.ErrMismatch)

	coll.SRS = "epsg:32633"

	_, err = Run(context.Background(), testConfig(), sequentialSource(t, srsGrid, 1), coll)
	require.NoError(t, err)

	collide := testConfig()
	collide.Background = 2

	_, err = Run(context.Background(), collide, src, halves())
	require.ErrorIs(t, err, rasterize.ErrLabelCollision)

	missing := &vector.Collection{Features: []vector.Feature{{ID: 0, Geometry: square(0, 0, 1, 1)}}}

	_, err = Run(context.Background(), testConfig(), src, missing)
	require.ErrorIs(t, err, vector.ErrMissingAttribute)
}

func TestRun_EmptyCollection(t *testing.T) {
	t.Parallel()

	res, err := Run(context.Background(), testConfig(), sequentialSource(t, tenByTen(), 1), &vector.Collection{})
	require.NoError(t, err)

	assert.Empty(t, res.ByID)
	assert.Empty(t, res.ByClass)
}

func TestRun_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Run(ctx, testConfig(), sequentialSource(t, tenByTen(), 1), halves())
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestRun_CanceledMidPass(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 3} {
		ctx, cancel := context.WithCancel(context.Background())

		cfg := testConfig()
		cfg.TileRows = 1
		cfg.Workers = workers
		cfg.Progress = func(pass string, done, _ int) {
			if pass == PassClass && done == 2 {
				cancel()
			}
		}

		res, err := Run(ctx, cfg, sequentialSource(t, tenByTen(), 1), halves())
		require.ErrorIs(t, err, context.Canceled, "workers=%d", workers)
		assert.Nil(t, res)

		cancel()
	}
}

func TestRun_ProgressAndMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	pm, err := observability.NewPassMetrics(mp.Meter("test"))
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		calls = map[string]int{}
	)

	cfg := testConfig()
	cfg.TileRows = 2
	cfg.Metrics = pm
	cfg.Progress = func(pass string, done, total int) {
		mu.Lock()
		defer mu.Unlock()

		calls[pass]++

		assert.Equal(t, 5, total)
		assert.LessOrEqual(t, done, total)
	}

	coll := &vector.Collection{Features: []vector.Feature{feature(0, square(0, 6, 10, 10), 1)}}

	res, err := Run(context.Background(), cfg, sequentialSource(t, tenByTen(), 1), coll)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Tiles)
	assert.Equal(t, map[string]int{PassID: 5, PassClass: 5}, calls)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	// Rows 0-3 are covered: two tiles per pass are read, three skipped.
	assert.Equal(t, int64(10), sumInt64(rm, "polystats.pass.tiles.total"))
	assert.Equal(t, int64(6), sumInt64(rm, "polystats.pass.tiles.skipped.total"))
	assert.Equal(t, int64(80), sumInt64(rm, "polystats.pass.pixels.total"))
}

func sumInt64(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}

	return total
}

func TestResult_Report(t *testing.T) {
	t.Parallel()

	res, err := Run(context.Background(), testConfig(), sequentialSource(t, tenByTen(), 1), halves())
	require.NoError(t, err)

	report := res.Report()
	assert.Len(t, report.SamplesPerClass, 2)
	assert.Len(t, report.SamplesPerVector, 2)
	assert.Equal(t, uint64(50), report.SamplesPerVector[1].Count)
}
