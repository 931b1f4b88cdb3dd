package tracker

import (
	"log/slog"

	"github.com/prometheus/common/promslog"

	"netconn-exporter/internal/conn"
)

// TableProvider returns the raw socket rows of one family. A failure makes the
// family contribute no rows to the current poll.
type TableProvider interface {
	Fetch(family conn.Family) ([]conn.RawRow, error)
}

// OwnerResolver looks up the module owning a socket. It returns false when
// the owner cannot be determined; that is not an error.
type OwnerResolver interface {
	Resolve(row *conn.RawRow, family conn.Family) (conn.Owner, bool)
}

// FamilyError records a table provider failure for one family in one poll.
type FamilyError struct {
	Family conn.Family
	Err    error
}

func (e FamilyError) Error() string {
	return e.Family.String() + ": " + e.Err.Error()
}

func (e FamilyError) Unwrap() error { return e.Err }

// Result is the outcome of one Poll.
//
// The slices share entities with the tracker. They stay valid until the next
// Poll, which may update entities that are still tracked in place.
type Result struct {
	Current []*conn.Connection
	New     []*conn.Connection
	Closed  []*conn.Connection

	Failures []FamilyError

	// Bootstrap is set when the poll started from an empty snapshot; New and
	// Closed are then empty by definition.
	Bootstrap bool

	// Claimed is the number of previously tracked connections observed again.
	Claimed int

	// Duplicates counts rows dropped because an earlier row in the same poll
	// had the same identity key.
	Duplicates int
}

// Config configures a Tracker.
type Config struct {
	Families conn.Family
	Identity conn.IdentityMode
	Logger   *slog.Logger
}

// Tracker reconciles successive socket table snapshots.
//
// Poll must not be called concurrently on the same Tracker: the snapshot is
// updated in place without locking.
type Tracker struct {
	provider TableProvider
	resolver OwnerResolver
	families conn.Family
	identity conn.IdentityMode
	logger   *slog.Logger

	snapshot map[conn.Key]*conn.Connection
	last     Result
}

// New returns a Tracker with an empty snapshot. A nil resolver disables owner
// resolution.
func New(cfg Config, provider TableProvider, resolver OwnerResolver) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = promslog.NewNopLogger()
	}
	return &Tracker{
		provider: provider,
		resolver: resolver,
		families: cfg.Families,
		identity: cfg.Identity,
		logger:   logger,
		snapshot: make(map[conn.Key]*conn.Connection),
	}
}

// SetTrackedFamilies selects the families enumerated by subsequent polls.
// Connections of a family that is no longer tracked are reported closed by
// the next poll.
func (t *Tracker) SetTrackedFamilies(f conn.Family) { t.families = f & conn.All }

// TrackedFamilies returns the families enumerated by Poll.
func (t *Tracker) TrackedFamilies() conn.Family { return t.families }

// Current returns the connections observed by the last poll.
func (t *Tracker) Current() []*conn.Connection { return t.last.Current }

// New returns the connections first observed by the last poll.
func (t *Tracker) New() []*conn.Connection { return t.last.New }

// Closed returns the connections that disappeared in the last poll.
func (t *Tracker) Closed() []*conn.Connection { return t.last.Closed }

// Failures returns the provider failures of the last poll.
func (t *Tracker) Failures() []FamilyError { return t.last.Failures }

// Last returns the complete result of the last poll.
func (t *Tracker) Last() Result { return t.last }

// Len returns the number of tracked connections.
func (t *Tracker) Len() int { return len(t.snapshot) }

// Poll enumerates every tracked family and reconciles the rows against the
// previous snapshot.
//
// A row whose identity key is in the previous snapshot claims that entity,
// refreshes its mutable fields and carries it forward. Any other row becomes
// a new entity, with its owner resolved once, here. Entities left unclaimed
// after all families are enumerated are closed and dropped.
//
// When the previous snapshot is empty the poll is a bootstrap: every row
// becomes the baseline and nothing is reported new or closed.
func (t *Tracker) Poll() Result {
	prev := t.snapshot
	res := Result{Bootstrap: len(prev) == 0}

	next := make(map[conn.Key]*conn.Connection, len(prev))
	res.Current = make([]*conn.Connection, 0, len(prev))

	for _, family := range t.families.Families() {
		rows, err := t.provider.Fetch(family)
		if err != nil {
			t.logger.Warn("failed to fetch connection table", "family", family, "err", err)
			res.Failures = append(res.Failures, FamilyError{Family: family, Err: err})
			continue
		}

		for i := range rows {
			row := &rows[i]
			observed := conn.Normalize(family, row, t.identity)
			key := observed.Key()

			if _, seen := next[key]; seen {
				res.Duplicates++
				t.logger.Debug("duplicate connection key in one poll", "conn", observed.String())
				continue
			}

			if existing, ok := prev[key]; ok {
				existing.Update(&observed)
				delete(prev, key)
				next[key] = existing
				res.Current = append(res.Current, existing)
				res.Claimed++
				continue
			}

			c := &observed
			t.resolveOwner(c, row, family)
			next[key] = c
			res.Current = append(res.Current, c)
			if !res.Bootstrap {
				res.New = append(res.New, c)
			}
		}
	}

	// Whatever was not claimed is gone. Walk the previous result to report
	// closures in a stable order.
	for _, c := range t.last.Current {
		if prev[c.Key()] == c {
			res.Closed = append(res.Closed, c)
		}
	}

	t.snapshot = next
	t.last = res

	t.logger.Debug("poll complete",
		"current", len(res.Current),
		"new", len(res.New),
		"closed", len(res.Closed),
		"claimed", res.Claimed,
		"bootstrap", res.Bootstrap,
	)
	return res
}

func (t *Tracker) resolveOwner(c *conn.Connection, row *conn.RawRow, family conn.Family) {
	if t.resolver == nil {
		return
	}
	if o, ok := t.resolver.Resolve(row, family); ok {
		c.SetOwner(o)
	}
}
