package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/promslog"

	"netconn-exporter/internal/collector"
	"netconn-exporter/internal/conn"
)

// SnapshotSource provides the last published poll result.
type SnapshotSource interface {
	Snapshot() (collector.Snapshot, bool)
}

// Server exposes Prometheus metrics and the connection snapshot via HTTP.
type Server struct {
	Logger *slog.Logger

	Registry          *prometheus.Registry
	TelemetryPath     string
	ConnectionsPath   string
	Snapshots         SnapshotSource
	ListenAddrs       []string
	MaxRequests       int
	DisableExpMetrics bool
}

// Handler returns the HTTP handler serving all configured paths.
func (s *Server) Handler() http.Handler {
	if s.Logger == nil {
		s.Logger = promslog.NewNopLogger()
	}
	if s.Registry == nil {
		s.Registry = prometheus.NewRegistry()
	}
	if s.TelemetryPath == "" {
		s.TelemetryPath = "/metrics"
	}

	handlerOpts := promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(s.Logger.Handler(), slog.LevelError),
	}
	if s.MaxRequests > 0 {
		handlerOpts.MaxRequestsInFlight = s.MaxRequests
	}

	baseHandler := promhttp.HandlerFor(s.Registry, handlerOpts)
	var metricsHandler http.Handler = baseHandler

	// promhttp_ metrics are only registered if we wrap with InstrumentMetricHandler.
	if !s.DisableExpMetrics {
		metricsHandler = promhttp.InstrumentMetricHandler(s.Registry, baseHandler)
	}

	mux := http.NewServeMux()
	mux.Handle(s.TelemetryPath, metricsHandler)
	if s.ConnectionsPath != "" && s.Snapshots != nil {
		mux.Handle(s.ConnectionsPath, &connectionsHandler{source: s.Snapshots, logger: s.Logger})
	}
	return mux
}

// Start launches HTTP servers for all configured listen addresses.
// It blocks until ctx is cancelled, then attempts a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()

	errCh := make(chan error, len(s.ListenAddrs))
	servers := make([]*http.Server, 0, len(s.ListenAddrs))

	for _, addr := range s.ListenAddrs {
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			shutdown(servers)
			return err
		}
		servers = append(servers, srv)

		s.Logger.Info("http server started", "addr", ln.Addr().String(), "path", s.TelemetryPath)

		go func(srv *http.Server, ln net.Listener) {
			err := srv.Serve(ln)
			if err == nil || err == http.ErrServerClosed {
				errCh <- nil
				return
			}
			errCh <- err
		}(srv, ln)
	}

	// Wait for shutdown or first error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			shutdown(servers)
			return err
		}
		// If one server exits cleanly unexpectedly, continue and wait for ctx.
		<-ctx.Done()
	}

	shutdown(servers)
	return nil
}

func shutdown(servers []*http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
}

type connectionsHandler struct {
	source SnapshotSource
	logger *slog.Logger
}

// ServeHTTP writes the last snapshot as JSON. The optional "family" query
// parameter (e.g. tcp4,udp6) restricts all lists to those families.
func (h *connectionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	families := conn.All
	if q := r.URL.Query().Get("family"); q != "" {
		f, err := conn.ParseFamilies(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		families = f
	}

	snap, ok := h.source.Snapshot()
	if !ok {
		http.Error(w, "no poll completed yet", http.StatusServiceUnavailable)
		return
	}
	if families != conn.All {
		snap = snap.Filter(families)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Debug("failed to write connections response", "err", err)
	}
}
