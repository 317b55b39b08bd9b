// Package rasterize burns polygon attributes into label images, one tile at
// a time, on a target grid.
package rasterize

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"github.com/Sumatoshi-tech/polystats/pkg/block"
	"github.com/Sumatoshi-tech/polystats/pkg/grid"
	"github.com/Sumatoshi-tech/polystats/pkg/vector"
)

// NoLabel is the default background: the largest uint32.
const NoLabel = math.MaxUint32

// R-tree node fan-out.
const (
	rtreeMinChildren = 25
	rtreeMaxChildren = 50
)

// ErrLabelCollision is returned when a burn value equals the background value.
var ErrLabelCollision = errors.New("burn value collides with background label")

// Options configures a Rasterizer.
type Options struct {
	// Field is the attribute burned into the label image. Empty burns the
	// feature identifier.
	Field string
	// Background is written where no geometry covers a pixel.
	Background uint32
	// DefaultBurn is written where a geometry covers a pixel but its
	// attribute does not resolve to a label (null, non-numeric, out of range).
	DefaultBurn uint32
	Logger      *slog.Logger
}

// DefaultOptions burns identifiers on a NoLabel background.
func DefaultOptions() Options {
	return Options{Background: NoLabel}
}

// Rasterizer produces label tiles for a fixed grid and feature set.
// It is immutable after New and safe for concurrent use.
type Rasterizer struct {
	grid       grid.Grid
	background uint32
	shapes     []*shape
	index      *rtree.Rtree
}

// New resolves every burn value and indexes the features by bounding box.
// A feature missing Field is a fatal error.
func New(g grid.Grid, features []vector.Feature, opts Options) (*Rasterizer, error) {
	err := g.Validate()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Rasterizer{
		grid:       g,
		background: opts.Background,
		index:      rtree.NewTree(rtreeMinChildren, rtreeMaxChildren),
	}

	defaulted := 0

	for order, f := range features {
		label, resolved, labelErr := burnValue(f, opts)
		if labelErr != nil {
			return nil, labelErr
		}

		if !resolved {
			defaulted++

			if v, attrErr := f.Attribute(opts.Field); attrErr == nil {
				logger.Debug("class value is not a label", "feature", f.ID, "value", v.Text())
			}
		}

		if label == opts.Background {
			return nil, fmt.Errorf("%w: feature %d burns %d", ErrLabelCollision, f.ID, label)
		}

		s := newShape(order, label, f.Geometry, g)
		if s == nil {
			continue
		}

		r.shapes = append(r.shapes, s)
		r.index.Insert(s)
	}

	if defaulted > 0 {
		logger.Warn("features burned with default value",
			"field", opts.Field, "count", defaulted, "default", opts.DefaultBurn)
	}

	return r, nil
}

func burnValue(f vector.Feature, opts Options) (label uint32, resolved bool, err error) {
	if opts.Field == "" {
		return f.ID, true, nil
	}

	v, err := f.Attribute(opts.Field)
	if err != nil {
		return 0, false, err
	}

	label, ok := v.Label()
	if !ok {
		return opts.DefaultBurn, false, nil
	}

	return label, true, nil
}

// Grid returns the target grid.
func (r *Rasterizer) Grid() grid.Grid { return r.grid }

// Background returns the background label.
func (r *Rasterizer) Background() uint32 { return r.background }

// Rasterize returns the label block of region reg.
func (r *Rasterizer) Rasterize(reg grid.Region) (*block.Labels, error) {
	dst := &block.Labels{}

	err := r.RasterizeInto(reg, dst)
	if err != nil {
		return nil, err
	}

	return dst, nil
}

// RasterizeInto burns region reg into dst, reusing its buffers. Features are
// drawn in input order; later features overwrite earlier ones.
func (r *Rasterizer) RasterizeInto(reg grid.Region, dst *block.Labels) error {
	err := r.grid.CheckInside(reg)
	if err != nil {
		return err
	}

	dst.Reset(reg, r.background)

	hits := r.candidates(reg)

	var sc scanner

	for _, s := range hits {
		sc.fill(s, reg, dst)
	}

	return nil
}

// candidates returns the shapes whose bounds meet the region, in draw order.
func (r *Rasterizer) candidates(reg grid.Region) []*shape {
	found := r.index.SearchIntersect(r.grid.WorldBounds(reg))
	if len(found) == 0 {
		return nil
	}

	hits := make([]*shape, 0, len(found))

	for _, f := range found {
		hits = append(hits, f.(*shape))
	}

	slices.SortFunc(hits, func(a, b *shape) int { return a.order - b.order })

	return hits
}

// shapeBounds adapts a world bounding box for the index.
func shapeBounds(p geom.Polygonal) (*geom.Bounds, bool) {
	b := p.Bounds()
	if b == nil || b.Min.X > b.Max.X || b.Min.Y > b.Max.Y {
		return nil, false
	}

	return b, true
}
