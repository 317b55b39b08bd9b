package observability

import (
	"io"

	"github.com/natefinch/lumberjack"
)

// defaultLogMaxSizeMB is the rotation size used when none is configured.
const defaultLogMaxSizeMB = 100

// logOutput returns the rotating file named by cfg.LogFile, or fallback when
// no file is configured. The returned function closes the file.
func logOutput(cfg Config, fallback io.Writer) (io.Writer, func() error) {
	if cfg.LogFile == "" {
		return fallback, func() error { return nil }
	}

	maxSize := cfg.LogMaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultLogMaxSizeMB
	}

	l := &lumberjack.Logger{
		Filename: cfg.LogFile,
		MaxSize:  maxSize, // megabytes
		MaxAge:   cfg.LogMaxAgeDays,
	}

	return l, l.Close
}
