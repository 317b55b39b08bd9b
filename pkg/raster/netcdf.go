package raster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/ctessum/cdf"

	"github.com/Sumatoshi-tech/polystats/pkg/budget"
	"github.com/Sumatoshi-tech/polystats/pkg/grid"
)

// NetCDF attribute and dimension names.
//
// The grid geometry lives in global attributes; samples live in one variable
// shaped [band][y][x] (or [y][x] for single-band rasters).
const (
	AttrOriginX  = "x0"
	AttrOriginY  = "y0"
	AttrSpacingX = "dx"
	AttrSpacingY = "dy"
	AttrSRS      = "srs"
	AttrFillVal  = "_FillValue"

	DimBand = "band"
	DimY    = "y"
	DimX    = "x"
)

// Sentinel errors.
var (
	// ErrNoVariable is returned when the requested variable is absent.
	ErrNoVariable = errors.New("netcdf variable not found")
	// ErrBadLayout is returned for variables that are not 2D or 3D.
	ErrBadLayout = errors.New("netcdf variable must be [y][x] or [band][y][x]")
	// ErrBadAttribute is returned when a grid attribute is missing or mistyped.
	ErrBadAttribute = errors.New("missing or invalid netcdf attribute")
	// ErrSampleType is returned for unsupported variable types.
	ErrSampleType = errors.New("unsupported netcdf sample type")
)

// NetCDF is a Source reading row strips of a NetCDF classic file.
// Reads are serialized on the underlying file handle. The last strip read is
// kept, so the column chunks of one row are served from a single read.
type NetCDF struct {
	mu        sync.Mutex
	file      *os.File
	cdf       *cdf.File
	variable  string
	grid      grid.Grid
	bands     int
	threeD    bool
	noData    float64
	hasNoData bool

	strip strip
	raw   any
}

// strip holds full-width rows [y, y+height) of every band, pixel-interleaved.
type strip struct {
	y, height int
	data      []float64
}

func (s *strip) holds(r grid.Region) bool {
	return s.height > 0 && s.y <= r.Y && r.Y+r.Height <= s.y+s.height
}

// OpenNetCDF opens variable of the NetCDF file at path.
func OpenNetCDF(path, variable string) (*NetCDF, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open netcdf: %w", err)
	}

	src, err := newNetCDF(file, variable)
	if err != nil {
		file.Close()

		return nil, err
	}

	return src, nil
}

func newNetCDF(file *os.File, variable string) (*NetCDF, error) {
	f, err := cdf.Open(file)
	if err != nil {
		return nil, fmt.Errorf("read netcdf header: %w", err)
	}

	if !hasVariable(f.Header, variable) {
		return nil, fmt.Errorf("%w: %q", ErrNoVariable, variable)
	}

	src := &NetCDF{file: file, cdf: f, variable: variable}

	lengths := f.Header.Lengths(variable)

	switch len(lengths) {
	case 2:
		src.bands = 1
		src.grid.Height, src.grid.Width = lengths[0], lengths[1]
	case 3:
		src.threeD = true
		src.bands = lengths[0]
		src.grid.Height, src.grid.Width = lengths[1], lengths[2]
	default:
		return nil, fmt.Errorf("%w: %q has %d dimensions", ErrBadLayout, variable, len(lengths))
	}

	for name, dst := range map[string]*float64{
		AttrOriginX:  &src.grid.OriginX,
		AttrOriginY:  &src.grid.OriginY,
		AttrSpacingX: &src.grid.SpacingX,
		AttrSpacingY: &src.grid.SpacingY,
	} {
		v, ok := firstFloat(f.Header.GetAttribute("", name))
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrBadAttribute, name)
		}

		*dst = v
	}

	if srs, ok := f.Header.GetAttribute("", AttrSRS).(string); ok {
		src.grid.SRS = srs
	}

	src.noData, src.hasNoData = firstFloat(f.Header.GetAttribute(variable, AttrFillVal))

	err = src.grid.Validate()
	if err != nil {
		return nil, err
	}

	return src, nil
}

// Close releases the file handle.
func (n *NetCDF) Close() error {
	return n.file.Close()
}

// Grid implements Source.
func (n *NetCDF) Grid() grid.Grid { return n.grid }

// Bands implements Source.
func (n *NetCDF) Bands() int { return n.bands }

// NoData implements Source.
func (n *NetCDF) NoData() (float64, bool) { return n.noData, n.hasNoData }

// ReadBlock implements Source.
func (n *NetCDF) ReadBlock(ctx context.Context, r grid.Region, dst []float64) error {
	err := checkRead(n.grid, n.bands, r, dst)
	if err != nil {
		return err
	}

	err = ctx.Err()
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.strip.holds(r) {
		err = n.readStrip(r.Y, r.Height)
		if err != nil {
			return err
		}
	}

	width, bands := n.grid.Width, n.bands
	rowLen := r.Width * bands

	for row := range r.Height {
		from := ((r.Y-n.strip.y+row)*width + r.X) * bands
		copy(dst[row*rowLen:(row+1)*rowLen], n.strip.data[from:from+rowLen])
	}

	return nil
}

// RowStagingBytes implements Stager: one full-width row of every band as
// float64, plus one row of the variable's own sample type.
func (n *NetCDF) RowStagingBytes() int64 {
	return int64(n.grid.Width) * int64(n.bands+1) * budget.SampleSize
}

// readStrip reads full-width rows [y, y+height) of every band into the
// staging strip. Whole rows keep every read a contiguous slab.
func (n *NetCDF) readStrip(y, height int) error {
	width := n.grid.Width
	n.strip.height = 0
	n.strip.data = resize(n.strip.data, height*width*n.bands)

	for band := range n.bands {
		begin := []int{y, 0}
		end := []int{y + height, width}

		if n.threeD {
			begin = append([]int{band}, begin...)
			end = append([]int{band + 1}, end...)
		}

		reader := n.cdf.Reader(n.variable, begin, end)

		raw, ok := reuseRaw(n.raw, height*width)
		if !ok {
			raw = reader.Zero(height * width)
		}

		n.raw = raw

		_, err := reader.Read(raw)
		if err != nil {
			return fmt.Errorf("read netcdf rows %d+%d band %d: %w", y, height, band, err)
		}

		err = scatter(raw, func(i int, v float64) {
			n.strip.data[i*n.bands+band] = v
		})
		if err != nil {
			return err
		}
	}

	n.strip.y, n.strip.height = y, height

	return nil
}

func resize(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}

	return buf[:n]
}

// reuseRaw reslices a typed staging buffer to n samples when it is large
// enough. The variable's type never changes, so a hit keeps the type.
func reuseRaw(buf any, n int) (any, bool) {
	switch b := buf.(type) {
	case []float32:
		if cap(b) >= n {
			return b[:n], true
		}
	case []float64:
		if cap(b) >= n {
			return b[:n], true
		}
	case []int32:
		if cap(b) >= n {
			return b[:n], true
		}
	case []int16:
		if cap(b) >= n {
			return b[:n], true
		}
	case []int8:
		if cap(b) >= n {
			return b[:n], true
		}
	case []uint8:
		if cap(b) >= n {
			return b[:n], true
		}
	}

	return nil, false
}

func scatter(buf any, set func(i int, v float64)) error {
	switch values := buf.(type) {
	case []float32:
		for i, v := range values {
			set(i, float64(v))
		}
	case []float64:
		for i, v := range values {
			set(i, v)
		}
	case []int32:
		for i, v := range values {
			set(i, float64(v))
		}
	case []int16:
		for i, v := range values {
			set(i, float64(v))
		}
	case []int8:
		for i, v := range values {
			set(i, float64(v))
		}
	case []uint8:
		for i, v := range values {
			set(i, float64(v))
		}
	default:
		return fmt.Errorf("%w: %T", ErrSampleType, buf)
	}

	return nil
}

func hasVariable(h *cdf.Header, name string) bool {
	for _, v := range h.Variables() {
		if v == name {
			return true
		}
	}

	return false
}

func firstFloat(attr any) (float64, bool) {
	switch v := attr.(type) {
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	case []float32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []int32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []int16:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	}

	return math.NaN(), false
}

// WriteNetCDF writes a float32 raster in the layout OpenNetCDF reads.
// data is pixel-interleaved like Memory; noData may be nil.
func WriteNetCDF(path, variable string, g grid.Grid, bands int, data []float64, noData *float64) error {
	if bands <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBands, bands)
	}

	if want := int(g.Pixels()) * bands; len(data) != want {
		return fmt.Errorf("%w: got %d samples, want %d", ErrDataSize, len(data), want)
	}

	h := cdf.NewHeader([]string{DimBand, DimY, DimX}, []int{bands, g.Height, g.Width})
	h.AddAttribute("", AttrOriginX, []float64{g.OriginX})
	h.AddAttribute("", AttrOriginY, []float64{g.OriginY})
	h.AddAttribute("", AttrSpacingX, []float64{g.SpacingX})
	h.AddAttribute("", AttrSpacingY, []float64{g.SpacingY})

	if g.SRS != "" {
		h.AddAttribute("", AttrSRS, g.SRS)
	}

	h.AddVariable(variable, []string{DimBand, DimY, DimX}, []float32{0})

	if noData != nil {
		h.AddAttribute(variable, AttrFillVal, []float32{float32(*noData)})
	}

	h.Define()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create netcdf: %w", err)
	}

	err = writeSamples(file, h, variable, g, bands, data)
	closeErr := file.Close()

	if err == nil && closeErr != nil {
		err = fmt.Errorf("close netcdf: %w", closeErr)
	}

	return err
}

func writeSamples(file *os.File, h *cdf.Header, variable string, g grid.Grid, bands int, data []float64) error {
	f, err := cdf.Create(file, h)
	if err != nil {
		return fmt.Errorf("write netcdf header: %w", err)
	}

	pixels := int(g.Pixels())
	slab := make([]float32, len(data))

	for pix := range pixels {
		for band := range bands {
			slab[band*pixels+pix] = float32(data[pix*bands+band])
		}
	}

	_, err = f.Writer(variable, []int{0, 0, 0}, []int{bands, g.Height, g.Width}).Write(slab)
	if err != nil {
		return fmt.Errorf("write netcdf samples: %w", err)
	}

	err = cdf.UpdateNumRecs(file)
	if err != nil {
		return fmt.Errorf("update netcdf records: %w", err)
	}

	return nil
}
