package main

import (
	"fmt"
	"os"

	"github.com/prometheus/common/version"

	"netconn-exporter/internal/app"
	"netconn-exporter/internal/config"
)

var (
	// buildVersion is meant to be overridden at build time via -ldflags.
	buildVersion = "dev"
)

func main() {
	version.Version = buildVersion

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		config.PrintUsage(os.Stderr)
		os.Exit(2)
	}
	if cfg.ShowHelp {
		config.PrintUsage(os.Stdout)
		os.Exit(0)
	}

	os.Exit(app.Run(cfg))
}
