// Package config loads polystats settings from defaults, an optional YAML
// file, POLYSTATS_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/polystats/pkg/nodata"
	"github.com/Sumatoshi-tech/polystats/pkg/observability"
)

// Sentinel validation errors.
var (
	ErrInvalidWorkers  = errors.New("workers must be positive")
	ErrInvalidTileRows = errors.New("tile rows must not be negative")
	ErrInvalidRAM      = errors.New("invalid memory budget")
	ErrInvalidEndpoint = errors.New("invalid OTLP endpoint")
	ErrInvalidFormat   = errors.New("invalid log format")
	ErrInvalidRotation = errors.New("log rotation limits must not be negative")
)

// configValidate checks the struct tags of Config.
var configValidate = validator.New()

// fieldErrors maps validated fields to the sentinel reported for them.
var fieldErrors = map[string]error{
	"Config.Stats.Workers":          ErrInvalidWorkers,
	"Config.Stats.TileRows":         ErrInvalidTileRows,
	"Config.Stats.NoData.Mode":      nodata.ErrInvalidMode,
	"Config.Logging.Format":         ErrInvalidFormat,
	"Config.Logging.MaxSizeMB":      ErrInvalidRotation,
	"Config.Logging.MaxAgeDays":     ErrInvalidRotation,
	"Config.Telemetry.OTLPEndpoint": ErrInvalidEndpoint,
}

const envPrefix = "POLYSTATS"

// Config holds all polystats settings.
type Config struct {
	Stats     StatsConfig     `mapstructure:"stats"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// StatsConfig holds statistics pass settings.
type StatsConfig struct {
	// RAM is the tile memory budget, a humanized size such as "256MiB".
	// "0" processes the image as a single tile.
	RAM         string       `mapstructure:"ram"`
	ClassField  string       `mapstructure:"class_field"`
	NoData      NoDataConfig `mapstructure:"nodata"`
	Workers     int          `mapstructure:"workers" validate:"gte=1"`
	TileRows    int          `mapstructure:"tile_rows" validate:"gte=0"`
	DefaultBurn uint32       `mapstructure:"default_burn"`
}

// NoDataConfig selects the no-data rule.
type NoDataConfig struct {
	Mode  string  `mapstructure:"mode" validate:"omitempty,oneof=auto value none"`
	Value float64 `mapstructure:"value"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	// File, when set, receives the logs instead of stderr and is rotated
	// once it reaches MaxSizeMB.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// TelemetryConfig holds OpenTelemetry and Prometheus settings.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint" validate:"omitempty,hostname_port"`
	OTLPHeaders  string `mapstructure:"otlp_headers"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	Insecure     bool   `mapstructure:"insecure"`
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"ram":          "stats.ram",
	"workers":      "stats.workers",
	"tile-rows":    "stats.tile_rows",
	"field":        "stats.class_field",
	"default-burn": "stats.default_burn",
	"nodata":       "stats.nodata.mode",
	"nodata-value": "stats.nodata.value",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"log-file":     "logging.file",
	"otlp":         "telemetry.otlp_endpoint",
	"metrics-addr": "telemetry.metrics_addr",
}

// LoadConfig loads configuration. An empty configPath searches the usual
// locations for polystats.yaml and falls back to defaults when none exists.
// Flags listed in FlagKeys override every other source when set.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("polystats")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("$HOME/.config/polystats")
		viperCfg.AddConfigPath("/etc/polystats")
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	err := bindFlags(viperCfg, flags)
	if err != nil {
		return nil, err
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := config.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

func bindFlags(viperCfg *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	for name, key := range FlagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}

		err := viperCfg.BindPFlag(key, flag)
		if err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	return nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("stats.ram", DefaultRAM)
	viperCfg.SetDefault("stats.workers", DefaultWorkers)
	viperCfg.SetDefault("stats.tile_rows", DefaultTileRows)
	viperCfg.SetDefault("stats.class_field", DefaultClassField)
	viperCfg.SetDefault("stats.default_burn", DefaultBurn)
	viperCfg.SetDefault("stats.nodata.mode", DefaultNoDataMode)
	viperCfg.SetDefault("stats.nodata.value", DefaultNoDataValue)

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)
	viperCfg.SetDefault("logging.file", DefaultLogFile)
	viperCfg.SetDefault("logging.max_size_mb", DefaultLogMaxSizeMB)
	viperCfg.SetDefault("logging.max_age_days", DefaultLogMaxAgeDays)

	viperCfg.SetDefault("telemetry.otlp_endpoint", DefaultOTLPEndpoint)
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.insecure", DefaultOTLPInsecure)
	viperCfg.SetDefault("telemetry.metrics_addr", DefaultMetricsAddr)
}

// Validate checks every setting.
func (c *Config) Validate() error {
	err := configValidate.Struct(c)
	if err != nil {
		return fieldError(err)
	}

	_, err = c.Stats.MemoryBudget()
	if err != nil {
		return err
	}

	_, err = observability.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}

	return nil
}

// fieldError reports the first failed struct tag under its sentinel.
func fieldError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	fe := fieldErrs[0]

	sentinel, ok := fieldErrors[fe.StructNamespace()]
	if !ok {
		return fmt.Errorf("%s: %w", fe.Namespace(), err)
	}

	return fmt.Errorf("%w: %s=%v", sentinel, fe.Field(), fe.Value())
}

// MemoryBudget parses RAM into bytes.
func (s StatsConfig) MemoryBudget() (int64, error) {
	n, err := humanize.ParseBytes(s.RAM)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidRAM, s.RAM, err)
	}

	if n > uint64(1<<62) {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidRAM, s.RAM)
	}

	return int64(n), nil
}

// NoDataMode returns the parsed no-data mode.
func (s StatsConfig) NoDataMode() nodata.Mode {
	mode, err := nodata.ParseMode(s.NoData.Mode)
	if err != nil {
		return nodata.ModeAuto
	}

	return mode
}

// Observability converts the logging and telemetry settings.
func (c *Config) Observability(version string) observability.Config {
	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.LogLevel, _ = observability.ParseLevel(c.Logging.Level)
	cfg.LogJSON = c.Logging.Format == FormatJSON
	cfg.LogFile = c.Logging.File
	cfg.LogMaxSizeMB = c.Logging.MaxSizeMB
	cfg.LogMaxAgeDays = c.Logging.MaxAgeDays
	cfg.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	cfg.OTLPHeaders = observability.ParseOTLPHeaders(c.Telemetry.OTLPHeaders)
	cfg.OTLPInsecure = c.Telemetry.Insecure
	cfg.Prometheus = c.Telemetry.MetricsAddr != ""

	return cfg
}
