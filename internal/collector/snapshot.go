package collector

import (
	"time"

	"netconn-exporter/internal/conn"
	"netconn-exporter/internal/tracker"
)

// Snapshot is a copy of one poll result that stays valid after later polls.
type Snapshot struct {
	PolledAt  time.Time         `json:"polled_at"`
	Bootstrap bool              `json:"bootstrap"`
	Current   []conn.Connection `json:"current"`
	New       []conn.Connection `json:"new"`
	Closed    []conn.Connection `json:"closed"`
	Failures  []string          `json:"failures,omitempty"`
}

func newSnapshot(res tracker.Result, polledAt time.Time) Snapshot {
	s := Snapshot{
		PolledAt:  polledAt.UTC(),
		Bootstrap: res.Bootstrap,
		Current:   copyConns(res.Current),
		New:       copyConns(res.New),
		Closed:    copyConns(res.Closed),
	}
	for _, f := range res.Failures {
		s.Failures = append(s.Failures, f.Error())
	}
	return s
}

func copyConns(in []*conn.Connection) []conn.Connection {
	out := make([]conn.Connection, len(in))
	for i, c := range in {
		out[i] = *c
	}
	return out
}

// Filter returns a snapshot restricted to the given families.
func (s Snapshot) Filter(families conn.Family) Snapshot {
	out := s
	out.Current = filterConns(s.Current, families)
	out.New = filterConns(s.New, families)
	out.Closed = filterConns(s.Closed, families)
	return out
}

func filterConns(in []conn.Connection, families conn.Family) []conn.Connection {
	out := make([]conn.Connection, 0, len(in))
	for _, c := range in {
		if families.Has(c.Family) {
			out = append(out, c)
		}
	}
	return out
}
