package rasterize

import (
	"cmp"
	"math"
	"slices"

	"github.com/ctessum/geom"

	"github.com/Sumatoshi-tech/polystats/pkg/block"
	"github.com/Sumatoshi-tech/polystats/pkg/grid"
)

// horizontalEdgeThreshold is the minimum vertical extent, in pixels, for an
// edge to take part in scan conversion.
const horizontalEdgeThreshold = 1e-10

// edge is a polygon edge in pixel coordinates, oriented top to bottom.
type edge struct {
	xTop float64 // x at yTop
	yTop float64
	yBot float64
	dxdy float64
}

// shape is one feature prepared for scan conversion.
type shape struct {
	geom.Polygonal // satisfies geom.Geom for the R-tree

	order  int
	label  uint32
	bounds *geom.Bounds // world coordinates, for the index
	edges  []edge       // sorted by yTop
	yMin   float64
	yMax   float64
}

// Bounds implements the spatial interface of the R-tree.
func (s *shape) Bounds() *geom.Bounds { return s.bounds }

// newShape converts every ring of p to pixel-space edges. It returns nil for
// empty or degenerate geometries.
func newShape(order int, label uint32, p geom.Polygonal, g grid.Grid) *shape {
	if p == nil {
		return nil
	}

	bounds, ok := shapeBounds(p)
	if !ok {
		return nil
	}

	s := &shape{Polygonal: p, order: order, label: label, bounds: bounds, yMin: math.Inf(1), yMax: math.Inf(-1)}

	for _, poly := range p.Polygons() {
		for _, ring := range poly {
			s.addRing(ring, g)
		}
	}

	if len(s.edges) == 0 {
		return nil
	}

	slices.SortFunc(s.edges, func(a, b edge) int { return cmp.Compare(a.yTop, b.yTop) })

	return s
}

// addRing adds the edges of a ring, closing it if the last point differs
// from the first.
func (s *shape) addRing(ring geom.Path, g grid.Grid) {
	n := len(ring)
	if n < 2 {
		return
	}

	for i := range n {
		a := ring[i]
		b := ring[(i+1)%n]

		if i == n-1 && a == ring[0] {
			break
		}

		ax, ay := g.ToPixel(a.X, a.Y)
		bx, by := g.ToPixel(b.X, b.Y)
		s.addEdge(ax, ay, bx, by)
	}
}

func (s *shape) addEdge(x0, y0, x1, y1 float64) {
	dy := y1 - y0
	if dy > -horizontalEdgeThreshold && dy < horizontalEdgeThreshold || math.IsNaN(dy) {
		return
	}

	if y0 > y1 {
		x0, y0, x1, y1 = x1, y1, x0, y0
	}

	s.edges = append(s.edges, edge{
		xTop: x0,
		yTop: y0,
		yBot: y1,
		dxdy: (x1 - x0) / (y1 - y0),
	})

	s.yMin = min(s.yMin, y0)
	s.yMax = max(s.yMax, y1)
}

// scanner holds per-call scratch buffers for the active edge list.
type scanner struct {
	active    []int
	crossings []float64
}

// fill burns s into dst for the rows of reg whose pixel centres fall inside
// the shape's vertical extent. A pixel is inside when its centre is inside
// the polygon under the even-odd rule; a centre exactly on a left edge is
// inside, on a right edge outside.
func (sc *scanner) fill(s *shape, reg grid.Region, dst *block.Labels) {
	rowStart := max(reg.Y, ceilInt(s.yMin-0.5, reg.Y, reg.Y+reg.Height))
	rowEnd := min(reg.Y+reg.Height, ceilInt(s.yMax-0.5, reg.Y, reg.Y+reg.Height))

	if rowStart >= rowEnd {
		return
	}

	colMin := reg.X
	colMax := reg.X + reg.Width

	sc.active = sc.active[:0]
	next := 0

	for row := rowStart; row < rowEnd; row++ {
		yc := float64(row) + 0.5

		for next < len(s.edges) && s.edges[next].yTop <= yc {
			sc.active = append(sc.active, next)
			next++
		}

		sc.crossings = sc.crossings[:0]

		for i := 0; i < len(sc.active); {
			e := &s.edges[sc.active[i]]
			if e.yBot <= yc {
				sc.active[i] = sc.active[len(sc.active)-1]
				sc.active = sc.active[:len(sc.active)-1]

				continue
			}

			sc.crossings = append(sc.crossings, e.xTop+(yc-e.yTop)*e.dxdy)
			i++
		}

		slices.Sort(sc.crossings)

		rowOffset := (row - reg.Y) * reg.Width

		for k := 0; k+1 < len(sc.crossings); k += 2 {
			c0 := ceilInt(sc.crossings[k]-0.5, colMin, colMax)
			c1 := ceilInt(sc.crossings[k+1]-0.5, colMin, colMax)

			for col := c0; col < c1; col++ {
				dst.Set(rowOffset+col-colMin, s.label)
			}
		}
	}
}

// ceilInt returns ceil(v) clamped to [lo, hi].
func ceilInt(v float64, lo, hi int) int {
	if math.IsNaN(v) || v <= float64(lo) {
		return lo
	}

	if v >= float64(hi) {
		return hi
	}

	return int(math.Ceil(v))
}
