package persist

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/polystats/pkg/stats"
)

// ErrSchemaViolation is returned when a JSON report does not match the report schema.
var ErrSchemaViolation = errors.New("report does not match schema")

//go:embed report.schema.json
var reportSchema []byte

var schemaLoader = gojsonschema.NewBytesLoader(reportSchema)

// ValidateJSON checks an encoded report against the report schema.
func ValidateJSON(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate report: %w", err)
	}

	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}

	return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(msgs, "; "))
}

func sortedKeys(m map[uint32]stats.Summary) []uint32 {
	return slices.Sorted(maps.Keys(m))
}
