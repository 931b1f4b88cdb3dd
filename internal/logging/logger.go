// Package logging builds the exporter's slog loggers with promslog, so log
// lines look like those of every other Prometheus exporter.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/common/promslog"
)

// Supported log formats.
const (
	Logfmt = "logfmt"
	JSON   = "json"
)

// ParseLevel validates a level name. "warning" is accepted as an alias for
// "warn".
func ParseLevel(s string) (*promslog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl := promslog.NewLevel()
	if err := lvl.Set(s); err != nil {
		return nil, errors.WithMessagef(err, "unknown log level %q", s)
	}
	return lvl, nil
}

func ParseFormat(s string) (*promslog.Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	f := promslog.NewFormat()
	if err := f.Set(s); err != nil {
		return nil, errors.WithMessagef(err, "unknown log format %q", s)
	}
	return f, nil
}

// New returns a logger writing to out (stderr when nil) at the given level
// and format.
func New(out io.Writer, level, format string) (*slog.Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return promslog.New(&promslog.Config{Level: lvl, Format: f, Writer: out}), nil
}
