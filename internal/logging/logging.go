// Package logging builds the process logger from the logging config section.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iged-project/iged/internal/model"
)

// FileName is the log file created under the logs directory when file
// logging is on.
const FileName = "iged.log"

// ParseLevel maps a config string to a zerolog level. Unknown values fall
// back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New returns a logger writing to w (console or JSON per cfg.Format) and,
// when cfg.File is set, also appending JSON lines to logsDir/iged.log. The
// returned closer releases the file and is never nil.
func New(cfg model.LoggingConfig, logsDir string, w io.Writer) (zerolog.Logger, io.Closer, error) {
	if w == nil {
		w = os.Stderr
	}
	var out io.Writer = w
	if strings.EqualFold(cfg.Format, "console") || cfg.Format == "" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	closer := io.Closer(nopCloser{})
	if cfg.File {
		if err := os.MkdirAll(logsDir, 0o700); err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("create logs dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(logsDir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, f)
		closer = f
	}

	logger := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
