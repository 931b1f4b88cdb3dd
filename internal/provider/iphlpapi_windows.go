//go:build windows

package provider

import (
	"log/slog"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/prometheus/common/promslog"
	"golang.org/x/sys/windows"

	"netconn-exporter/internal/conn"
	"netconn-exporter/internal/tracker"
)

var (
	modIphlpapi = windows.NewLazySystemDLL("iphlpapi.dll")

	procGetExtendedTCPTable = modIphlpapi.NewProc("GetExtendedTcpTable")
	procGetExtendedUDPTable = modIphlpapi.NewProc("GetExtendedUdpTable")
)

// table classes
const (
	tcpTableOwnerModuleAll = 8
	udpTableOwnerModule    = 2
)

// ErrBufferTooSmall is returned when the table outgrew the scratch buffer and
// the retry budget is spent.
var ErrBufferTooSmall = errors.New("connection table buffer too small")

// IPHelper reads the owner-module connection tables through the IP Helper
// API. Tables are staged in pooled scratch buffers; a buffer is taken for one
// Fetch and returned afterwards, never shared between concurrent calls.
type IPHelper struct {
	maxRetries int
	logger     *slog.Logger
	buffers    sync.Pool
}

func newPlatform(opts Options) (tracker.TableProvider, error) {
	if err := modIphlpapi.Load(); err != nil {
		return nil, errors.WithMessage(err, "failed to load iphlpapi.dll")
	}
	return NewIPHelper(opts.BufferSize, opts.MaxRetries, opts.Logger), nil
}

func NewIPHelper(bufferSize, maxRetries int, logger *slog.Logger) *IPHelper {
	if logger == nil {
		logger = promslog.NewNopLogger()
	}
	h := &IPHelper{maxRetries: maxRetries, logger: logger}
	h.buffers.New = func() any {
		b := make([]byte, bufferSize)
		return &b
	}
	return h
}

func (h *IPHelper) Fetch(family conn.Family) ([]conn.RawRow, error) {
	bufp := h.buffers.Get().(*[]byte)
	defer h.buffers.Put(bufp)

	buf, err := h.table(family, bufp)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to get %s table", family)
	}
	return parseOwnerModuleTable(family, buf)
}

// #nosec
func (h *IPHelper) table(family conn.Family, bufp *[]byte) ([]byte, error) {
	var (
		proc  *windows.LazyProc
		af    uint32 = windows.AF_INET
		class uint32
	)
	switch family {
	case conn.TCPv4, conn.TCPv6:
		proc, class = procGetExtendedTCPTable, tcpTableOwnerModuleAll
	case conn.UDPv4, conn.UDPv6:
		proc, class = procGetExtendedUDPTable, udpTableOwnerModule
	default:
		return nil, errors.WithMessagef(ErrUnsupportedFamily, "family %s", family)
	}
	if family.IsV6() {
		af = windows.AF_INET6
	}

	for attempt := 0; ; attempt++ {
		buf := *bufp
		size := uint32(len(buf))
		ret, _, _ := proc.Call(
			uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&size)),
			0, uintptr(af), uintptr(class), 0,
		)
		if ret == uintptr(windows.NO_ERROR) {
			return buf, nil
		}
		if windows.Errno(ret) != windows.ERROR_INSUFFICIENT_BUFFER {
			return nil, errors.WithStack(windows.Errno(ret))
		}
		if attempt >= h.maxRetries {
			return nil, errors.WithMessagef(ErrBufferTooSmall, "need %d bytes, have %d", size, len(buf))
		}
		// The table can keep growing between calls; leave some headroom.
		grown := make([]byte, size+size/4)
		h.logger.Debug("growing connection table buffer", "family", family, "from", len(buf), "to", len(grown))
		*bufp = grown
	}
}
