package app

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/version"

	"netconn-exporter/internal/collector"
	"netconn-exporter/internal/config"
	"netconn-exporter/internal/logging"
	"netconn-exporter/internal/owner"
	"netconn-exporter/internal/provider"
	"netconn-exporter/internal/tracker"
	"netconn-exporter/internal/web"
)

const name = "netconn_exporter"

// Run wires the application together and blocks until termination.
func Run(cfg config.Config) int {
	return run(cfg, os.Stderr)
}

func run(cfg config.Config, stderr io.Writer) int {
	if cfg.ShowVersion {
		_, _ = io.WriteString(stderr, version.Print(name)+"\n")
		return 0
	}

	log, err := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		_, _ = io.WriteString(stderr, err.Error()+"\n")
		return 2
	}
	log.Info("starting "+name, "version", version.Info(), "build_context", version.BuildContext())

	tables, err := provider.New(provider.Options{
		ProcfsPath: cfg.ProcfsPath,
		BufferSize: cfg.ProviderBufferSize,
		MaxRetries: cfg.ProviderMaxRetries,
		Logger:     log.With("component", "provider"),
	})
	if err != nil {
		log.Error("failed to create connection table provider", "err", err)
		return 1
	}

	resolver, closeResolver := owner.New(owner.Options{
		Disabled:   !cfg.OwnerResolve,
		ProcfsPath: cfg.ProcfsPath,
		CacheTTL:   cfg.OwnerCacheTTL,
		Logger:     log.With("component", "owner"),
	})
	defer closeResolver()

	tr := tracker.New(tracker.Config{
		Families: cfg.TrackedFamilies,
		Identity: cfg.IdentityMode,
		Logger:   log.With("component", "tracker"),
	}, tables, resolver)
	log.Info("tracking connections", "families", cfg.TrackedFamilies, "identity", cfg.IdentityMode, "interval", cfg.CollectorInterval)

	// Prometheus registry and exporter metrics control.
	reg := prometheus.NewRegistry()
	reg.MustRegister(versioncollector.NewCollector(name))
	if !cfg.WebDisableExporterMetrics {
		reg.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	}

	connCollector := collector.NewConnectionCollector(tr, cfg.CollectorInterval, log.With("component", "collector"))
	connCollector.MustRegister(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	connCollector.Start(ctx)

	srv := &web.Server{
		Logger:            log.With("component", "web"),
		Registry:          reg,
		TelemetryPath:     cfg.WebTelemetryPath,
		ConnectionsPath:   cfg.WebConnectionsPath,
		Snapshots:         connCollector,
		ListenAddrs:       cfg.WebListenAddresses,
		MaxRequests:       cfg.WebMaxRequests,
		DisableExpMetrics: cfg.WebDisableExporterMetrics,
	}

	// Run HTTP server (blocks). When it returns, stop collector.
	err = srv.Start(ctx)
	cancel()
	connCollector.Stop()

	if err != nil {
		log.Error("http server error", "err", err)
		return 1
	}
	return 0
}
