// Package nodata builds per-pixel validity masks from a raster's no-data rule.
package nodata

import (
	"errors"
	"fmt"
	"math"

	"github.com/Sumatoshi-tech/polystats/pkg/block"
)

// Mode selects how the no-data rule is derived.
type Mode int

// No-data modes.
const (
	// ModeAuto uses the source's declared value, or zero when none is declared.
	ModeAuto Mode = iota
	// ModeValue uses an explicit value regardless of the declaration.
	ModeValue
	// ModeNone treats every pixel as valid.
	ModeNone
)

// Sentinel errors.
var (
	// ErrInvalidMode is returned when parsing an unknown mode.
	ErrInvalidMode = errors.New("invalid no-data mode")
	// ErrMaskShape is returned when a mask block does not match the validity block.
	ErrMaskShape = errors.New("mask block does not match")
)

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "auto", "":
		return ModeAuto, nil
	case "value":
		return ModeValue, nil
	case "none":
		return ModeNone, nil
	default:
		return ModeAuto, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Rule flags a pixel as no-data when every band equals Value.
// A disabled rule flags nothing.
type Rule struct {
	Value   float64
	Enabled bool
}

// NewRule derives the rule for mode from a source's declaration.
func NewRule(mode Mode, explicit, declared float64, hasDeclared bool) Rule {
	switch mode {
	case ModeNone:
		return Rule{}
	case ModeValue:
		return Rule{Value: explicit, Enabled: true}
	default:
		if hasDeclared {
			return Rule{Value: declared, Enabled: true}
		}

		return Rule{Value: 0, Enabled: true}
	}
}

// matches reports whether a single sample equals the no-data value. NaN
// matches NaN.
func (r Rule) matches(v float64) bool {
	if math.IsNaN(r.Value) {
		return math.IsNaN(v)
	}

	return v == r.Value
}

// IsNoData reports whether every sample of a pixel matches the rule.
func (r Rule) IsNoData(samples []float64) bool {
	if !r.Enabled || len(samples) == 0 {
		return false
	}

	for _, v := range samples {
		if !r.matches(v) {
			return false
		}
	}

	return true
}

// Build fills dst with the validity of every pixel of p. It keeps no state
// between calls.
func (r Rule) Build(p *block.Pixels, dst *block.Mask) {
	dst.Reset(p.Region)

	for i := range dst.Valid {
		dst.Valid[i] = !r.IsNoData(p.Pixel(i))
	}
}

// String implements fmt.Stringer.
func (r Rule) String() string {
	if !r.Enabled {
		return "none"
	}

	return fmt.Sprintf("all bands == %g", r.Value)
}

// Intersect clears every pixel of dst whose sample in m is zero or NaN.
// m must be a single-band block over the same region.
func Intersect(dst *block.Mask, m *block.Pixels) error {
	if dst.Region != m.Region || m.Bands != 1 {
		return fmt.Errorf("%w: mask %s (%d bands), validity %s",
			ErrMaskShape, m.Region, m.Bands, dst.Region)
	}

	for i, v := range m.Data {
		if v == 0 || math.IsNaN(v) {
			dst.Valid[i] = false
		}
	}

	return nil
}
