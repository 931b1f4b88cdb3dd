package owner

import (
	"log/slog"
	"time"

	"netconn-exporter/internal/tracker"
)

// Options configures the platform resolver.
type Options struct {
	// Disabled turns resolution off entirely.
	Disabled bool

	ProcfsPath string
	CacheTTL   time.Duration
	Logger     *slog.Logger
}

// New returns the cached resolver for the running platform, or Nop when
// resolution is disabled. The returned close function releases the cache.
func New(opts Options) (tracker.OwnerResolver, func()) {
	if opts.Disabled {
		return Nop{}, func() {}
	}
	if opts.ProcfsPath == "" {
		opts.ProcfsPath = "/proc"
	}
	c := NewCache(platformLookup(opts), opts.CacheTTL, opts.Logger)
	return c, c.Close
}
