package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/polystats/pkg/budget"
	"github.com/Sumatoshi-tech/polystats/pkg/config"
	"github.com/Sumatoshi-tech/polystats/pkg/nodata"
	"github.com/Sumatoshi-tech/polystats/pkg/observability"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "polystats.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig_EmptyFile_UsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, ""), nil)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultWorkers, cfg.Stats.Workers)
	assert.Equal(t, config.DefaultTileRows, cfg.Stats.TileRows)
	assert.Equal(t, config.DefaultRAM, cfg.Stats.RAM)
	assert.Equal(t, nodata.ModeAuto, cfg.Stats.NoDataMode())
	assert.Equal(t, config.DefaultLogFormat, cfg.Logging.Format)

	ram, err := cfg.Stats.MemoryBudget()
	require.NoError(t, err)
	assert.Equal(t, int64(budget.DefaultBudget), ram)
}

func TestLoadConfig_ValidFile_Unmarshals(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `stats:
  ram: "64MB"
  workers: 4
  tile_rows: 16
  class_field: code
  default_burn: 99
  nodata:
    mode: value
    value: -9999
logging:
  level: debug
  format: json
telemetry:
  otlp_endpoint: "localhost:4317"
  otlp_headers: "k=v"
  insecure: true
  metrics_addr: ":9090"
`)

	cfg, err := config.LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Stats.Workers)
	assert.Equal(t, 16, cfg.Stats.TileRows)
	assert.Equal(t, "code", cfg.Stats.ClassField)
	assert.Equal(t, uint32(99), cfg.Stats.DefaultBurn)
	assert.Equal(t, nodata.ModeValue, cfg.Stats.NoDataMode())
	assert.InDelta(t, -9999, cfg.Stats.NoData.Value, 0)

	ram, err := cfg.Stats.MemoryBudget()
	require.NoError(t, err)
	assert.Equal(t, int64(64_000_000), ram)

	obs := cfg.Observability("v1")
	assert.Equal(t, slog.LevelDebug, obs.LogLevel)
	assert.True(t, obs.LogJSON)
	assert.True(t, obs.OTLPInsecure)
	assert.True(t, obs.Prometheus)
	assert.Equal(t, "v1", obs.ServiceVersion)
	assert.Equal(t, map[string]string{"k": "v"}, obs.OTLPHeaders)
	assert.Equal(t, observability.ModeCLI, obs.Mode)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "stats:\n  workers: 2\n  ram: 1GiB\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("workers", 1, "")
	flags.String("ram", "", "")
	flags.String("field", "", "")
	require.NoError(t, flags.Parse([]string{"--workers=6", "--field=class"}))

	cfg, err := config.LoadConfig(path, flags)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Stats.Workers)
	assert.Equal(t, "class", cfg.Stats.ClassField)
	assert.Equal(t, "1GiB", cfg.Stats.RAM, "unset flag must not override the file")
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("POLYSTATS_STATS_WORKERS", "3")
	t.Setenv("POLYSTATS_STATS_CLASS_FIELD", "landuse")

	cfg, err := config.LoadConfig(writeConfig(t, ""), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Stats.Workers)
	assert.Equal(t, "landuse", cfg.Stats.ClassField)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"workers", "stats:\n  workers: 0\n", config.ErrInvalidWorkers},
		{"tile rows", "stats:\n  tile_rows: -1\n", config.ErrInvalidTileRows},
		{"ram", "stats:\n  ram: lots\n", config.ErrInvalidRAM},
		{"nodata", "stats:\n  nodata:\n    mode: guess\n", nodata.ErrInvalidMode},
		{"level", "logging:\n  level: loud\n", observability.ErrInvalidLogLevel},
		{"format", "logging:\n  format: xml\n", config.ErrInvalidFormat},
		{"rotation", "logging:\n  max_size_mb: -5\n", config.ErrInvalidRotation},
		{"endpoint", "telemetry:\n  otlp_endpoint: not a host\n", config.ErrInvalidEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadConfig(writeConfig(t, tt.content), nil)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
}

func TestMemoryBudget_Zero(t *testing.T) {
	t.Parallel()

	ram, err := config.StatsConfig{RAM: "0"}.MemoryBudget()
	require.NoError(t, err)
	assert.Zero(t, ram)
}

func TestConfig_ObservabilityLogFile(t *testing.T) {
	t.Parallel()

	content := "logging:\n  format: json\n  file: /var/log/polystats.log\n  max_age_days: 7\n" +
		"telemetry:\n  otlp_endpoint: localhost:4317\n  metrics_addr: :9090\n"

	cfg, err := config.LoadConfig(writeConfig(t, content), nil)
	require.NoError(t, err)

	obs := cfg.Observability("1.2.3")

	assert.Equal(t, "1.2.3", obs.ServiceVersion)
	assert.True(t, obs.LogJSON)
	assert.Equal(t, "/var/log/polystats.log", obs.LogFile)
	assert.Equal(t, config.DefaultLogMaxSizeMB, obs.LogMaxSizeMB)
	assert.Equal(t, 7, obs.LogMaxAgeDays)
	assert.Equal(t, "localhost:4317", obs.OTLPEndpoint)
	assert.True(t, obs.Prometheus)
}
