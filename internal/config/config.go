package config

import (
	"flag"
	"io"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/fftoml"
	"github.com/pkg/errors"

	"netconn-exporter/internal/conn"
	"netconn-exporter/internal/logging"
	"netconn-exporter/internal/owner"
	"netconn-exporter/internal/provider"
)

// EnvVarPrefix prefixes the environment variable of every flag, e.g.
// NETCONN_EXPORTER_COLLECTOR_INTERVAL for --collector.interval.
const EnvVarPrefix = "NETCONN_EXPORTER"

// Config holds runtime configuration for the exporter.
type Config struct {
	ConfigFile string

	CollectorInterval time.Duration
	ProcfsPath        string

	Families string
	Identity string

	OwnerResolve  bool
	OwnerCacheTTL time.Duration

	ProviderBufferSize int
	ProviderMaxRetries int

	WebTelemetryPath          string
	WebConnectionsPath        string
	WebDisableExporterMetrics bool
	WebMaxRequests            int
	WebListenAddresses        multiString

	LogLevel  string
	LogFormat string

	ShowHelp    bool
	ShowVersion bool

	// Set by Validate.
	TrackedFamilies conn.Family
	IdentityMode    conn.IdentityMode

	intervalSeconds int
}

func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("netconn-exporter", flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigFile, "config.file", "", "TOML file with flag values, keyed by flag name. Flags and environment variables take precedence.")

	fs.IntVar(&cfg.intervalSeconds, "collector.interval", 5, "Seconds between polls of the connection tables.")
	fs.StringVar(&cfg.ProcfsPath, "path.procfs", "/proc", "Procfs mountpoint.")

	fs.StringVar(&cfg.Families, "tracker.families", "all", "Connection families to track. Comma separated list of [tcp4, tcp6, udp4, udp6, tcp, udp, all].")
	fs.StringVar(&cfg.Identity, "tracker.identity", "legacy", "How connections are identified across polls. One of: [legacy, strict]")

	fs.BoolVar(&cfg.OwnerResolve, "owner.resolve", true, "Resolve the process name and path owning each connection.")
	fs.DurationVar(&cfg.OwnerCacheTTL, "owner.cache-ttl", owner.DefaultCacheTTL, "How long a resolved process owner is cached.")

	fs.IntVar(&cfg.ProviderBufferSize, "provider.buffer-size", provider.DefaultBufferSize, "Initial connection table buffer size in bytes (Windows).")
	fs.IntVar(&cfg.ProviderMaxRetries, "provider.max-retries", provider.DefaultMaxRetries, "How often a too small table buffer is grown and the read retried (Windows).")

	fs.StringVar(&cfg.WebTelemetryPath, "web.telemetry-path", "/metrics", "Path under which to expose metrics.")
	fs.StringVar(&cfg.WebConnectionsPath, "web.connections-path", "/connections", "Path under which to expose the last poll as JSON. Empty disables it.")
	fs.BoolVar(&cfg.WebDisableExporterMetrics, "web.disable-exporter-metrics", false, "Exclude metrics about the exporter itself (promhttp_*, process_*, go_*).")
	fs.IntVar(&cfg.WebMaxRequests, "web.max-requests", 40, "Maximum number of parallel scrape requests. Use 0 to disable.")
	fs.Var(&cfg.WebListenAddresses, "web.listen-address", "Addresses on which to expose metrics and web interface. Repeatable for multiple addresses. Examples: :9100 or [::1]:9100")

	fs.StringVar(&cfg.LogLevel, "log.level", "info", "Only log messages with the given severity or above. One of: [debug, info, warn, error]")
	fs.StringVar(&cfg.LogFormat, "log.format", "logfmt", "Output format of log messages. One of: [logfmt, json]")

	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help and exit.")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help and exit.")

	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show application version and exit.")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show application version and exit.")

	return fs
}

// Parse reads configuration from args, then NETCONN_EXPORTER_* environment
// variables, then the file named by --config.file, in decreasing precedence.
// The result is validated.
func Parse(args []string) (Config, error) {
	var cfg Config
	fs := newFlagSet(&cfg)
	fs.SetOutput(io.Discard)

	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix(EnvVarPrefix),
		ff.WithConfigFileFlag("config.file"),
		ff.WithConfigFileParser(fftoml.Parser),
	)
	if err != nil {
		return cfg, errors.WithMessage(err, "failed to parse configuration")
	}

	cfg.CollectorInterval = time.Duration(cfg.intervalSeconds) * time.Second
	if len(cfg.WebListenAddresses) == 0 {
		cfg.WebListenAddresses = append(cfg.WebListenAddresses, ":9100")
	}
	if cfg.ShowHelp || cfg.ShowVersion {
		return cfg, nil
	}

	return cfg, cfg.Validate()
}

// Validate checks option values and derives TrackedFamilies and IdentityMode.
func (c *Config) Validate() error {
	if c.CollectorInterval <= 0 {
		return errors.Errorf("collector.interval must be positive, got %s", c.CollectorInterval)
	}

	families, err := conn.ParseFamilies(c.Families)
	if err != nil {
		return errors.WithMessage(err, "invalid tracker.families")
	}
	if families == conn.None {
		return errors.New("tracker.families selects no family")
	}
	c.TrackedFamilies = families

	mode, err := conn.ParseIdentityMode(c.Identity)
	if err != nil {
		return errors.WithMessage(err, "invalid tracker.identity")
	}
	c.IdentityMode = mode

	if c.OwnerCacheTTL <= 0 {
		return errors.Errorf("owner.cache-ttl must be positive, got %s", c.OwnerCacheTTL)
	}
	if c.ProviderBufferSize <= 0 {
		return errors.Errorf("provider.buffer-size must be positive, got %d", c.ProviderBufferSize)
	}
	if c.ProviderMaxRetries < 0 {
		return errors.Errorf("provider.max-retries must not be negative, got %d", c.ProviderMaxRetries)
	}
	if !strings.HasPrefix(c.WebTelemetryPath, "/") {
		return errors.Errorf("web.telemetry-path must start with /, got %q", c.WebTelemetryPath)
	}
	if c.WebConnectionsPath != "" {
		if !strings.HasPrefix(c.WebConnectionsPath, "/") {
			return errors.Errorf("web.connections-path must start with /, got %q", c.WebConnectionsPath)
		}
		if c.WebConnectionsPath == c.WebTelemetryPath {
			return errors.New("web.connections-path and web.telemetry-path must differ")
		}
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		return err
	}
	return nil
}

// PrintUsage writes the flag documentation to w.
func PrintUsage(w io.Writer) {
	var cfg Config
	fs := newFlagSet(&cfg)
	fs.SetOutput(w)
	_, _ = io.WriteString(w, "Usage of netconn-exporter:\n")
	fs.PrintDefaults()
	_, _ = io.WriteString(w, "\nEvery flag can also be set with an environment variable, e.g. "+
		EnvVarPrefix+"_WEB_LISTEN_ADDRESS for --web.listen-address.\n")
}

// multiString collects a repeatable flag. A single value may also carry a
// comma separated list, which is how environment variables set it.
type multiString []string

func (m *multiString) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiString) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*m = append(*m, v)
		}
	}
	return nil
}
