package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netconn-exporter/internal/collector"
	"netconn-exporter/internal/conn"
)

type staticSource struct {
	snap collector.Snapshot
	ok   bool
}

func (s staticSource) Snapshot() (collector.Snapshot, bool) { return s.snap, s.ok }

func testSnapshot() collector.Snapshot {
	return collector.Snapshot{
		PolledAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Current: []conn.Connection{
			{
				Family:     conn.TCPv4,
				LocalAddr:  netip.MustParseAddr("10.0.0.1"),
				LocalPort:  5000,
				RemoteAddr: netip.MustParseAddr("93.1.1.1"),
				RemotePort: 443,
				PID:        42,
				State:      conn.StateEstablished,
				ModuleName: "curl",
			},
			{
				Family:    conn.UDPv6,
				LocalAddr: netip.IPv6Unspecified(),
				LocalPort: 5353,
				PID:       7,
			},
		},
		New:    []conn.Connection{},
		Closed: []conn.Connection{},
	}
}

func TestConnectionsHandler(t *testing.T) {
	s := &Server{ConnectionsPath: "/connections", Snapshots: staticSource{snap: testSnapshot(), ok: true}}
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connections", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		PolledAt  time.Time        `json:"polled_at"`
		Bootstrap bool             `json:"bootstrap"`
		Current   []map[string]any `json:"current"`
		New       []map[string]any `json:"new"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Current, 2)
	assert.Equal(t, "tcp4", body.Current[0]["family"])
	assert.Equal(t, "ESTABLISHED", body.Current[0]["state"])
	assert.Equal(t, "93.1.1.1", body.Current[0]["remote_address"])
	assert.Equal(t, "curl", body.Current[0]["module_name"])
	assert.Equal(t, "udp6", body.Current[1]["family"])
	assert.Equal(t, "", body.Current[1]["remote_address"])
	assert.NotContains(t, body.Current[1], "module_name")
	assert.Empty(t, body.New)
	assert.Equal(t, 2026, body.PolledAt.Year())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connections?family=udp", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Current, 1)
	assert.Equal(t, "udp6", body.Current[0]["family"])
}

func TestConnectionsHandlerErrors(t *testing.T) {
	s := &Server{ConnectionsPath: "/connections", Snapshots: staticSource{}}
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connections", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connections?family=sctp", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/connections", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "netconn_total_connections", Help: "test"})
	g.Set(3)
	reg.MustRegister(g)

	t.Run("with exporter metrics", func(t *testing.T) {
		s := &Server{Registry: reg}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "netconn_total_connections 3")
	})

	t.Run("without exporter metrics", func(t *testing.T) {
		s := &Server{Registry: prometheus.NewRegistry(), TelemetryPath: "/m", DisableExpMetrics: true}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/m", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "promhttp_metric_handler_requests_total")
	})
}

func TestStartServesUntilCancelled(t *testing.T) {
	ln := freeAddr(t)

	s := &Server{ListenAddrs: []string{ln}, Registry: prometheus.NewRegistry()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln + "/metrics")
		if err != nil {
			return false
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}
