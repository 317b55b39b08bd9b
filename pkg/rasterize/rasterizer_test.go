package rasterize

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/polystats/pkg/block"
	"github.com/Sumatoshi-tech/polystats/pkg/grid"
	"github.com/Sumatoshi-tech/polystats/pkg/vector"
)

// testGrid is a 4x4 north-up grid over world (0,0)-(4,4) with unit pixels.
func testGrid() grid.Grid {
	return grid.Grid{OriginX: 0, OriginY: 4, SpacingX: 1, SpacingY: -1, Width: 4, Height: 4}
}

func square(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}}
}

func feature(id uint32, p geom.Polygonal, class vector.Value) vector.Feature {
	return vector.Feature{ID: id, Geometry: p, Attributes: map[string]vector.Value{"class": class}}
}

// labelsOf renders a label block as a row-major grid, with -1 for background.
func labelsOf(l *block.Labels) [][]int64 {
	out := make([][]int64, l.Region.Height)

	for row := range out {
		out[row] = make([]int64, l.Region.Width)

		for col := range out[row] {
			i := row*l.Region.Width + col
			if !l.Covered[i] {
				out[row][col] = -1

				continue
			}

			out[row][col] = int64(l.Values[i])
		}
	}

	return out
}

func TestRasterize_Rectangle(t *testing.T) {
	t.Parallel()

	r, err := New(testGrid(), []vector.Feature{feature(1, square(0, 2, 2, 4), vector.Int(9))}, DefaultOptions())
	require.NoError(t, err)

	labels, err := r.Rasterize(testGrid().Bounds())
	require.NoError(t, err)

	assert.Equal(t, [][]int64{
		{1, 1, -1, -1},
		{1, 1, -1, -1},
		{-1, -1, -1, -1},
		{-1, -1, -1, -1},
	}, labelsOf(labels))
	assert.Equal(t, uint32(NoLabel), labels.Values[15])
}

func TestRasterize_LastFeatureWins(t *testing.T) {
	t.Parallel()

	features := []vector.Feature{
		feature(1, square(0, 0, 3, 3), vector.Int(10)),
		feature(2, square(1, 1, 4, 4), vector.Int(20)),
	}

	opts := DefaultOptions()
	opts.Field = "class"

	r, err := New(testGrid(), features, opts)
	require.NoError(t, err)

	labels, err := r.Rasterize(testGrid().Bounds())
	require.NoError(t, err)

	assert.Equal(t, [][]int64{
		{-1, 20, 20, 20},
		{10, 20, 20, 20},
		{10, 20, 20, 20},
		{10, 10, 10, -1},
	}, labelsOf(labels))
}

func TestRasterize_Hole(t *testing.T) {
	t.Parallel()

	donut := geom.Polygon{
		square(0, 0, 4, 4)[0],
		square(1, 1, 3, 3)[0],
	}

	r, err := New(testGrid(), []vector.Feature{feature(0, donut, vector.Null())}, DefaultOptions())
	require.NoError(t, err)

	labels, err := r.Rasterize(testGrid().Bounds())
	require.NoError(t, err)

	assert.Equal(t, [][]int64{
		{0, 0, 0, 0},
		{0, -1, -1, 0},
		{0, -1, -1, 0},
		{0, 0, 0, 0},
	}, labelsOf(labels))
}

func TestRasterize_CentreOnRightEdgeIsOutside(t *testing.T) {
	t.Parallel()

	triangle := geom.Polygon{{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 0, Y: 4}, {X: 0, Y: 0}}}

	r, err := New(testGrid(), []vector.Feature{feature(3, triangle, vector.Null())}, DefaultOptions())
	require.NoError(t, err)

	labels, err := r.Rasterize(testGrid().Bounds())
	require.NoError(t, err)

	assert.Equal(t, [][]int64{
		{-1, -1, -1, -1},
		{3, -1, -1, -1},
		{3, 3, -1, -1},
		{3, 3, 3, -1},
	}, labelsOf(labels))
}

func TestRasterize_OutsideExtent(t *testing.T) {
	t.Parallel()

	r, err := New(testGrid(), []vector.Feature{feature(1, square(10, 10, 12, 12), vector.Int(1))}, DefaultOptions())
	require.NoError(t, err)

	labels, err := r.Rasterize(testGrid().Bounds())
	require.NoError(t, err)
	assert.False(t, labels.AnyCovered())
}

func TestNew_MissingAttribute(t *testing.T) {
	t.Parallel()

	f := vector.Feature{ID: 4, Geometry: square(0, 0, 1, 1)}

	opts := DefaultOptions()
	opts.Field = "class"

	_, err := New(testGrid(), []vector.Feature{f}, opts)
	require.ErrorIs(t, err, vector.ErrMissingAttribute)
}

func TestNew_Collision(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.Field = "class"
	opts.Background = 5

	_, err := New(testGrid(), []vector.Feature{feature(0, square(0, 0, 1, 1), vector.Int(5))}, opts)
	require.ErrorIs(t, err, ErrLabelCollision)

	_, err = New(testGrid(), []vector.Feature{feature(NoLabel, square(0, 0, 1, 1), vector.Null())}, DefaultOptions())
	require.ErrorIs(t, err, ErrLabelCollision)
}

func TestNew_DefaultBurn(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer

	opts := DefaultOptions()
	opts.Field = "class"
	opts.DefaultBurn = 99
	opts.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	features := []vector.Feature{
		feature(0, square(0, 3, 1, 4), vector.Null()),
		feature(1, square(3, 3, 4, 4), vector.String("forest")),
		feature(2, square(0, 0, 1, 1), vector.String("7")),
	}

	r, err := New(testGrid(), features, opts)
	require.NoError(t, err)

	labels, err := r.Rasterize(testGrid().Bounds())
	require.NoError(t, err)

	assert.Equal(t, uint32(99), labels.Values[0])
	assert.Equal(t, uint32(99), labels.Values[3])
	assert.Equal(t, uint32(7), labels.Values[12])
	assert.Contains(t, logs.String(), "count=2")
	assert.Contains(t, logs.String(), `value="\"forest\""`)
	assert.Contains(t, logs.String(), "value=null")
}

func TestRasterize_TilesMatchWhole(t *testing.T) {
	t.Parallel()

	g := grid.Grid{OriginX: 0, OriginY: 10, SpacingX: 1, SpacingY: -1, Width: 10, Height: 10}
	features := []vector.Feature{
		feature(0, geom.Polygon{{{X: 0.2, Y: 1}, {X: 9.7, Y: 0.3}, {X: 5.1, Y: 9.8}, {X: 0.2, Y: 1}}}, vector.Null()),
		feature(1, geom.MultiPolygon{square(2.4, 2.4, 4.6, 6.6), square(7, 7, 9.5, 9.5)}, vector.Null()),
	}

	r, err := New(g, features, DefaultOptions())
	require.NoError(t, err)

	whole, err := r.Rasterize(g.Bounds())
	require.NoError(t, err)

	for _, tile := range []grid.Region{
		{X: 0, Y: 0, Width: 10, Height: 3},
		{X: 3, Y: 4, Width: 2, Height: 5},
		{X: 9, Y: 9, Width: 1, Height: 1},
		{X: 0, Y: 7, Width: 7, Height: 1},
	} {
		var labels block.Labels

		require.NoError(t, r.RasterizeInto(tile, &labels))

		for row := range tile.Height {
			for col := range tile.Width {
				i := row*tile.Width + col
				j := (tile.Y+row)*g.Width + tile.X + col

				assert.Equal(t, whole.Covered[j], labels.Covered[i], "tile %s pixel (%d,%d)", tile, col, row)
				assert.Equal(t, whole.Values[j], labels.Values[i], "tile %s pixel (%d,%d)", tile, col, row)
			}
		}
	}
}

func TestRasterize_RegionOutOfBounds(t *testing.T) {
	t.Parallel()

	r, err := New(testGrid(), nil, DefaultOptions())
	require.NoError(t, err)

	_, err = r.Rasterize(grid.Region{X: 3, Width: 2, Height: 1})
	require.ErrorIs(t, err, grid.ErrRegionOutOfBounds)
}
