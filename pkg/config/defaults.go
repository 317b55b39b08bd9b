package config

// Statistics defaults.
const (
	DefaultRAM         = "256MiB"
	DefaultWorkers     = 1
	DefaultTileRows    = 0
	DefaultClassField  = ""
	DefaultBurn        = 0
	DefaultNoDataMode  = "auto"
	DefaultNoDataValue = 0.0
)

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultLogFile   = ""

	DefaultLogMaxSizeMB  = 100
	DefaultLogMaxAgeDays = 28
)

// Telemetry defaults.
const (
	DefaultOTLPEndpoint = ""
	DefaultOTLPInsecure = false
	DefaultMetricsAddr  = ""
)

// Logging formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)
