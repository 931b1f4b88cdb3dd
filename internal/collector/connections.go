package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/promslog"

	"netconn-exporter/internal/conn"
	"netconn-exporter/internal/ports"
	"netconn-exporter/internal/tracker"
)

// Poller is the part of tracker.Tracker the collector drives.
type Poller interface {
	Poll() tracker.Result
}

// ConnectionCollector periodically polls the connection tracker and maintains
// a cached set of Prometheus metrics plus the last published Snapshot.
//
// Design notes:
//   - netconn_connections is a GaugeVec that is RESET on every refresh, so
//     label pairs of vanished connections disappear.
//   - Open/close/failure counts are Counters fed from the poll diff; they are
//     never reset.
//
// Per-connection label set: family, state, service. UDP connections carry
// state="NONE".
type ConnectionCollector struct {
	poller   Poller
	interval time.Duration
	logger   *slog.Logger

	connections      *prometheus.GaugeVec
	totalConnections prometheus.Gauge
	opened           *prometheus.CounterVec
	closed           *prometheus.CounterVec
	failures         *prometheus.CounterVec
	duplicates       prometheus.Counter
	pollDuration     prometheus.Histogram
	lastPoll         prometheus.Gauge

	// serializes polls; Tracker is not safe for concurrent use
	pollMu sync.Mutex

	mu       sync.RWMutex
	snapshot Snapshot
	polled   bool

	stopCh chan struct{}
	doneCh chan struct{}
}

var labelNames = []string{"family", "state", "service"}

type key struct {
	Family  string
	State   string
	Service string
}

func NewConnectionCollector(poller Poller, interval time.Duration, logger *slog.Logger) *ConnectionCollector {
	if logger == nil {
		logger = promslog.NewNopLogger()
	}
	c := &ConnectionCollector{
		poller:   poller,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	c.connections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netconn_connections",
		Help: "Number of connections in the last poll by family, TCP state and well-known service.",
	}, labelNames)
	c.totalConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netconn_total_connections",
		Help: "Total number of connections in the last poll.",
	})
	c.opened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netconn_opened_total",
		Help: "Connections reported as new by a poll.",
	}, []string{"family"})
	c.closed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netconn_closed_total",
		Help: "Connections reported as closed by a poll.",
	}, []string{"family"})
	c.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netconn_provider_failures_total",
		Help: "Polls in which the connection table of a family could not be read.",
	}, []string{"family"})
	c.duplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netconn_duplicate_rows_total",
		Help: "Table rows dropped because another row of the same poll had the same identity.",
	})
	c.pollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "netconn_poll_duration_seconds",
		Help:    "Time spent polling the connection tables.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
	c.lastPoll = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netconn_last_poll_timestamp_seconds",
		Help: "Unix time of the last completed poll.",
	})

	// Export zero-valued series for every family up front.
	for _, f := range conn.All.Families() {
		c.opened.WithLabelValues(f.String())
		c.closed.WithLabelValues(f.String())
		c.failures.WithLabelValues(f.String())
	}

	return c
}

// MustRegister registers all metrics into the provided registry.
func (c *ConnectionCollector) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.connections,
		c.totalConnections,
		c.opened,
		c.closed,
		c.failures,
		c.duplicates,
		c.pollDuration,
		c.lastPoll,
	)
}

// Start begins periodic collection in a background goroutine.
// It performs an initial update immediately.
func (c *ConnectionCollector) Start(ctx context.Context) {
	go func() {
		defer close(c.doneCh)

		_ = c.UpdateOnce(ctx)

		t := time.NewTicker(c.interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-t.C:
				_ = c.UpdateOnce(ctx)
			}
		}
	}()
}

func (c *ConnectionCollector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// UpdateOnce polls the tracker, updates metrics, logs connection events and
// publishes a new Snapshot. Provider failures do not prevent the update; they
// are returned afterwards.
func (c *ConnectionCollector) UpdateOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.pollMu.Lock()
	start := time.Now()
	res := c.poller.Poll()
	elapsed := time.Since(start)
	c.pollMu.Unlock()

	c.pollDuration.Observe(elapsed.Seconds())
	c.lastPoll.Set(float64(start.Unix()))

	c.applyResult(res)
	c.logEvents(res)

	snap := newSnapshot(res, start)
	c.mu.Lock()
	c.snapshot = snap
	c.polled = true
	c.mu.Unlock()

	if len(res.Failures) > 0 {
		return errors.WithMessagef(res.Failures[0], "%d of the tracked families failed", len(res.Failures))
	}
	return nil
}

// Snapshot returns the last published snapshot. It reports false until the
// first poll completed.
func (c *ConnectionCollector) Snapshot() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, c.polled
}

func (c *ConnectionCollector) applyResult(res tracker.Result) {
	cur := make(map[key]int)
	for _, cn := range res.Current {
		cur[keyOf(cn)]++
	}

	c.connections.Reset()
	for k, n := range cur {
		c.connections.WithLabelValues(k.Family, k.State, k.Service).Set(float64(n))
	}
	c.totalConnections.Set(float64(len(res.Current)))

	for _, cn := range res.New {
		c.opened.WithLabelValues(cn.Family.String()).Inc()
	}
	for _, cn := range res.Closed {
		c.closed.WithLabelValues(cn.Family.String()).Inc()
	}
	for _, f := range res.Failures {
		c.failures.WithLabelValues(f.Family.String()).Inc()
	}
	c.duplicates.Add(float64(res.Duplicates))
}

func (c *ConnectionCollector) logEvents(res tracker.Result) {
	if res.Bootstrap {
		c.logger.Info("connection baseline established", "connections", len(res.Current))
		return
	}
	for _, cn := range res.New {
		c.logger.Info("connection opened", connAttrs(cn)...)
	}
	for _, cn := range res.Closed {
		c.logger.Info("connection closed", connAttrs(cn)...)
	}
}

func connAttrs(cn *conn.Connection) []any {
	attrs := []any{
		"family", cn.Family,
		"local", cn.LocalEndpoint(),
		"remote", cn.RemoteEndpoint(),
		"pid", cn.PID,
	}
	if cn.Family.IsTCP() {
		attrs = append(attrs, "state", cn.State)
	}
	if cn.Resolved() {
		attrs = append(attrs, "module", cn.ModuleName)
	}
	return attrs
}

// keyOf names the service by the local port when it is well known (a server
// socket), otherwise by the remote port (a client socket).
func keyOf(cn *conn.Connection) key {
	transport := cn.Family.Transport()
	service := ports.ServiceName(transport, cn.LocalPort)
	if service == "unknown" || service == "na" {
		if remote := ports.ServiceName(transport, cn.RemotePort); remote != "na" {
			service = remote
		}
	}
	return key{
		Family:  cn.Family.String(),
		State:   cn.State.String(),
		Service: service,
	}
}
