//go:build !linux && !windows

package provider

import (
	"log/slog"

	"github.com/pkg/errors"
	psnet "github.com/shirou/gopsutil/net"

	"netconn-exporter/internal/conn"
	"netconn-exporter/internal/tracker"
)

// Psutil lists connections through gopsutil, which shells out or uses sysctl
// depending on the platform.
type Psutil struct {
	logger *slog.Logger
}

func newPlatform(opts Options) (tracker.TableProvider, error) {
	return &Psutil{logger: opts.Logger}, nil
}

func (p *Psutil) Fetch(family conn.Family) ([]conn.RawRow, error) {
	kind, ok := psutilKinds[family]
	if !ok {
		return nil, errors.WithMessagef(ErrUnsupportedFamily, "family %s", family)
	}
	stats, err := psnet.Connections(kind)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to list %s connections", kind)
	}
	return psutilRows(family, stats, p.logger), nil
}
