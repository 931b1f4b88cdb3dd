// Package owner resolves the module (process name and executable path) that
// owns a socket. Resolution is best effort: a resolver that cannot find the
// owner reports false instead of an error.
package owner

import (
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/common/promslog"

	"netconn-exporter/internal/conn"
	"netconn-exporter/internal/tracker"
)

// DefaultCacheTTL is how long a PID's owner stays cached.
const DefaultCacheTTL = 30 * time.Second

// Lookup resolves a process ID to its owner module.
type Lookup interface {
	Lookup(pid uint32) (conn.Owner, bool)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(pid uint32) (conn.Owner, bool)

func (f LookupFunc) Lookup(pid uint32) (conn.Owner, bool) { return f(pid) }

// Nop never resolves anything.
type Nop struct{}

func (Nop) Resolve(*conn.RawRow, conn.Family) (conn.Owner, bool) { return conn.Owner{}, false }

type cacheEntry struct {
	owner conn.Owner
	ok    bool
}

// Cache is a tracker.OwnerResolver that resolves rows by PID and remembers
// the answer, negative ones included, for a TTL. Many sockets share a process,
// and the tracker only asks for sockets it has not seen before.
type Cache struct {
	lookup Lookup
	cache  *ttlcache.Cache[uint32, cacheEntry]
	logger *slog.Logger
}

var _ tracker.OwnerResolver = (*Cache)(nil)

// NewCache wraps lookup. Call Close to stop the expiry goroutine.
func NewCache(lookup Lookup, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = promslog.NewNopLogger()
	}
	c := &Cache{
		lookup: lookup,
		cache: ttlcache.New(
			ttlcache.WithTTL[uint32, cacheEntry](ttl),
			ttlcache.WithDisableTouchOnHit[uint32, cacheEntry](),
		),
		logger: logger,
	}
	go c.cache.Start()
	return c
}

// Resolve implements tracker.OwnerResolver. PID 0 (no known owner, or the
// system idle process) never resolves.
func (c *Cache) Resolve(row *conn.RawRow, family conn.Family) (conn.Owner, bool) {
	if row.PID == 0 {
		return conn.Owner{}, false
	}
	if item := c.cache.Get(row.PID); item != nil {
		e := item.Value()
		return e.owner, e.ok
	}

	o, ok := c.lookup.Lookup(row.PID)
	if !ok {
		c.logger.Debug("owner not resolved", "pid", row.PID, "family", family)
	}
	c.cache.Set(row.PID, cacheEntry{owner: o, ok: ok}, ttlcache.DefaultTTL)
	return o, ok
}

// Len returns the number of cached PIDs.
func (c *Cache) Len() int { return c.cache.Len() }

// Close stops the expiry goroutine.
func (c *Cache) Close() { c.cache.Stop() }
