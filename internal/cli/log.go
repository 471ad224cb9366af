// Package cli implements the tilecraft command-line interface.
//
// Commands cover a full run (run), the two stages on their own (extract,
// tiles), the feature catalogue (features), archive inspection and serving
// (inspect, serve) and artifact cache management (cache). The CLI is built
// using cobra and logs through charmbracelet/log.
//
// # Configuration
//
// Settings come from tilecraft.toml, then .env and TILECRAFT_* environment
// variables, then flags; later sources win.
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging, which also
// surfaces tippecanoe's output line by line.
package cli

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger creates a new logger with timestamp formatting.
// Timestamps are formatted as "HH:MM:SS.ms" (e.g., "14:32:01.45").
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// progress tracks the start time of an operation and logs completion with elapsed duration.
type progress struct {
	logger *log.Logger
	start  time.Time
}

func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

// done logs msg along with the elapsed time since progress was created.
// Example output: "Extracted 3 categories (1.234s)"
func (p *progress) done(msg string, keyvals ...any) {
	p.logger.Info(msg, append(keyvals, "elapsed", time.Since(p.start).Round(time.Millisecond))...)
}
