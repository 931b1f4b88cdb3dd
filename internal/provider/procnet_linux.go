//go:build linux

package provider

import (
	"log/slog"

	"github.com/pkg/errors"
	"github.com/prometheus/common/promslog"

	"netconn-exporter/internal/conn"
	"netconn-exporter/internal/procfs"
	"netconn-exporter/internal/tracker"
)

var procTables = map[conn.Family]string{
	conn.TCPv4: "tcp",
	conn.TCPv6: "tcp6",
	conn.UDPv4: "udp",
	conn.UDPv6: "udp6",
}

// Kernel TCP states (include/net/tcp_states.h) mapped onto MIB numbering.
var linuxTCPStates = map[uint64]conn.TCPState{
	1:  conn.StateEstablished,
	2:  conn.StateSynSent,
	3:  conn.StateSynReceived,
	4:  conn.StateFinWait1,
	5:  conn.StateFinWait2,
	6:  conn.StateTimeWait,
	7:  conn.StateClosed,
	8:  conn.StateCloseWait,
	9:  conn.StateLastAck,
	10: conn.StateListen,
	11: conn.StateClosing,
	12: conn.StateSynReceived, // TCP_NEW_SYN_RECV
}

// ProcNet reads socket tables from procfs. The kernel does not report the
// owning process in these tables, so each Fetch maps socket inodes to PIDs by
// scanning process fd directories. Sockets no process holds (for example in
// TIME_WAIT) get PID 0.
type ProcNet struct {
	fs     procfs.FS
	logger *slog.Logger
}

func newPlatform(opts Options) (tracker.TableProvider, error) {
	return NewProcNet(opts.ProcfsPath, opts.Logger), nil
}

func NewProcNet(root string, logger *slog.Logger) *ProcNet {
	if logger == nil {
		logger = promslog.NewNopLogger()
	}
	return &ProcNet{fs: procfs.FS{Root: root}, logger: logger}
}

func (p *ProcNet) Fetch(family conn.Family) ([]conn.RawRow, error) {
	table, ok := procTables[family]
	if !ok {
		return nil, errors.WithMessagef(ErrUnsupportedFamily, "family %s", family)
	}

	sockets, err := p.fs.Sockets(table)
	if err != nil {
		return nil, err
	}

	// The inode map only lives for this call.
	wanted := make(map[uint64]struct{}, len(sockets))
	for i := range sockets {
		if sockets[i].Inode != 0 {
			wanted[sockets[i].Inode] = struct{}{}
		}
	}
	owners, err := p.fs.SocketOwners(wanted)
	if err != nil {
		p.logger.Debug("failed to map socket owners", "family", family, "err", err)
		owners = nil
	}

	rows := make([]conn.RawRow, 0, len(sockets))
	for i := range sockets {
		s := &sockets[i]
		state := conn.StateNotApplicable
		if family.IsTCP() {
			state = linuxTCPStates[s.State]
		}
		row := conn.NewRawRow(s.LocalAddr, s.RemoteAddr, state, uint32(owners[s.Inode]))
		if !family.IsTCP() {
			row.RemoteAddr = [16]byte{}
			row.RemotePort = [2]byte{}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
