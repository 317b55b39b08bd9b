package vector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"

	"github.com/Sumatoshi-tech/polystats/pkg/grid"
)

// ErrIneligibleField is returned when the class field is neither a string nor
// an integer field.
var ErrIneligibleField = errors.New("class field must be a string or integer field")

// dBase field types.
const (
	dbfCharacter = 'C'
	dbfNumeric   = 'N'
)

// ReadOptions configures ReadShapefile.
type ReadOptions struct {
	// Fields lists the attribute columns to load.
	Fields []string
	// ClassField, when set, is loaded too and must be a string field or a
	// numeric field without decimals.
	ClassField string
	// TargetSRS, when set, is the spatial reference features are
	// reprojected into. Files without a .prj are assumed to already use it.
	TargetSRS string
	Logger    *slog.Logger
}

// rowDecoder is the subset of shp.Decoder the reader needs.
type rowDecoder interface {
	DecodeRowFields(fieldNames ...string) (geom.Geom, map[string]string, bool)
	Error() error
}

// fieldDef describes one dBase column.
type fieldDef struct {
	Name     string
	Type     byte
	Decimals uint8
}

// ReadShapefile loads every polygon of the shapefile at path. Feature IDs are
// the zero-based record numbers.
func ReadShapefile(ctx context.Context, path string, opts ReadOptions) (*Collection, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer dec.Close()

	fields := opts.Fields

	if opts.ClassField != "" {
		var defs []fieldDef

		for _, f := range dec.Fields() {
			defs = append(defs, fieldDef{Name: f.String(), Type: f.Fieldtype, Decimals: f.Precision})
		}

		err = checkClassField(defs, opts.ClassField)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		if !slices.Contains(fields, opts.ClassField) {
			fields = append(slices.Clip(fields), opts.ClassField)
		}
	}

	transform, srs, err := resolveFrame(path, opts.TargetSRS)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if transform == nil && srs == opts.TargetSRS && srs != "" {
		logger.DebugContext(ctx, "shapefile has no .prj, assuming raster frame", "path", path)
	}

	features, err := decodeFeatures(dec, fields, transform)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	logger.DebugContext(ctx, "shapefile loaded", "path", path, "features", len(features), "reprojected", transform != nil)

	return &Collection{SRS: srs, Features: features}, nil
}

// checkClassField rejects a class field that is absent or holds values that
// cannot be labels, such as floats, dates or logicals.
func checkClassField(defs []fieldDef, name string) error {
	for _, d := range defs {
		if d.Name != name {
			continue
		}

		switch {
		case d.Type == dbfCharacter:
			return nil
		case d.Type == dbfNumeric && d.Decimals == 0:
			return nil
		default:
			return fmt.Errorf("%w: %q has type %q with %d decimals", ErrIneligibleField, name, d.Type, d.Decimals)
		}
	}

	return fmt.Errorf("%w: no field %q", ErrMissingAttribute, name)
}

// readProjection returns the .prj text next to the shapefile, or "" when the
// file has none.
func readProjection(shpPath string) (string, error) {
	prj := strings.TrimSuffix(shpPath, ".shp") + ".prj"

	data, err := os.ReadFile(prj)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("read spatial reference: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

// resolveFrame decides how features reach the target frame. It returns the
// transform to apply (nil for none) and the SRS the features end up in.
// Only a missing .prj is tolerated; any source or target the projection
// library cannot relate is a co-registration failure.
func resolveFrame(shpPath, target string) (proj.Transformer, string, error) {
	source, err := readProjection(shpPath)
	if err != nil {
		return nil, "", err
	}

	switch {
	case source == "":
		return nil, target, nil
	case target == "":
		return nil, source, nil
	}

	src, err := proj.Parse(source)
	if err != nil {
		return nil, "", fmt.Errorf("%w: source spatial reference: %w", grid.ErrMismatch, err)
	}

	dst, err := proj.Parse(target)
	if err != nil {
		return nil, "", fmt.Errorf("%w: raster spatial reference %q: %w", grid.ErrMismatch, target, err)
	}

	transform, err := src.NewTransform(dst)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build transform: %w", grid.ErrMismatch, err)
	}

	return transform, target, nil
}

func decodeFeatures(dec rowDecoder, fields []string, transform proj.Transformer) ([]Feature, error) {
	var features []Feature

	for id := uint32(0); ; id++ {
		g, row, more := dec.DecodeRowFields(fields...)
		if !more {
			break
		}

		if transform != nil {
			projected, err := g.Transform(transform)
			if err != nil {
				return nil, fmt.Errorf("reproject feature %d: %w", id, err)
			}

			g = projected
		}

		poly, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("%w: feature %d is %T", ErrNotPolygonal, id, g)
		}

		attrs := make(map[string]Value, len(row))

		for name, raw := range row {
			attrs[name] = parseField(raw)
		}

		features = append(features, Feature{ID: id, Geometry: poly, Attributes: attrs})
	}

	err := dec.Error()
	if err != nil {
		return nil, fmt.Errorf("decode shapefile: %w", err)
	}

	return features, nil
}

// parseField maps a dBase field to a Value; blank fields are null.
func parseField(raw string) Value {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Null()
	}

	return String(trimmed)
}
