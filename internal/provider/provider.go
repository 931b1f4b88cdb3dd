// Package provider implements the socket table providers polled by the
// tracker: procfs on Linux, the IP Helper API on Windows, and gopsutil on
// every other platform.
package provider

import (
	"log/slog"

	"github.com/pkg/errors"
	"github.com/prometheus/common/promslog"

	"netconn-exporter/internal/conn"
	"netconn-exporter/internal/tracker"
)

const (
	// DefaultBufferSize is the initial scratch buffer capacity for providers
	// that stage a whole OS table in memory.
	DefaultBufferSize = 1 << 16
	DefaultMaxRetries = 3
)

// ErrUnsupportedFamily is returned for a family the platform cannot enumerate.
var ErrUnsupportedFamily = errors.New("connection family not supported")

// Options configures the platform provider.
type Options struct {
	// ProcfsPath is the procfs mount point (Linux).
	ProcfsPath string

	// BufferSize is the initial table buffer capacity in bytes (Windows).
	BufferSize int

	// MaxRetries bounds how often a too-small buffer is grown and the call
	// retried before the family fails for the poll (Windows). Zero means no
	// retry.
	MaxRetries int

	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.ProcfsPath == "" {
		o.ProcfsPath = "/proc"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Logger == nil {
		o.Logger = promslog.NewNopLogger()
	}
}

// New returns the table provider for the running platform.
func New(opts Options) (tracker.TableProvider, error) {
	opts.setDefaults()
	return newPlatform(opts)
}

// Func adapts a function to tracker.TableProvider.
type Func func(family conn.Family) ([]conn.RawRow, error)

func (f Func) Fetch(family conn.Family) ([]conn.RawRow, error) { return f(family) }

// Static serves fixed rows per family. Families without an entry yield no
// rows; families listed in Errors fail.
type Static struct {
	Rows   map[conn.Family][]conn.RawRow
	Errors map[conn.Family]error
}

func (s *Static) Fetch(family conn.Family) ([]conn.RawRow, error) {
	if err := s.Errors[family]; err != nil {
		return nil, err
	}
	rows := s.Rows[family]
	out := make([]conn.RawRow, len(rows))
	copy(out, rows)
	return out, nil
}
