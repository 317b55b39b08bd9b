// Package vector holds the polygon features that are burned into label
// images, their attribute values, and a shapefile reader producing them.
package vector

import (
	"errors"
	"fmt"

	"github.com/ctessum/geom"
)

// Sentinel errors.
var (
	// ErrMissingAttribute is returned when a feature lacks the designated burn attribute.
	ErrMissingAttribute = errors.New("feature is missing the burn attribute")
	// ErrNotPolygonal is returned for geometries that are not polygons or multipolygons.
	ErrNotPolygonal = errors.New("geometry is not polygonal")
)

// Feature is a polygon with an identifier and attribute values, expressed in
// the target grid's spatial reference.
type Feature struct {
	ID         uint32
	Geometry   geom.Polygonal
	Attributes map[string]Value
}

// Attribute returns the value of field, or ErrMissingAttribute.
func (f Feature) Attribute(field string) (Value, error) {
	v, ok := f.Attributes[field]
	if !ok {
		return Value{}, fmt.Errorf("%w: feature %d has no field %q", ErrMissingAttribute, f.ID, field)
	}

	return v, nil
}

// Bounds returns the feature's bounding box.
func (f Feature) Bounds() *geom.Bounds {
	return f.Geometry.Bounds()
}

// Collection is an ordered set of features with the spatial reference they
// are expressed in. Order is draw order.
type Collection struct {
	SRS      string
	Features []Feature
}
