package provider

import (
	"log/slog"
	"net/netip"
	"strings"

	"github.com/pkg/errors"
	psnet "github.com/shirou/gopsutil/net"

	"netconn-exporter/internal/conn"
)

var psutilKinds = map[conn.Family]string{
	conn.TCPv4: "tcp4",
	conn.TCPv6: "tcp6",
	conn.UDPv4: "udp4",
	conn.UDPv6: "udp6",
}

var psutilTCPStates = map[string]conn.TCPState{
	"ESTABLISHED": conn.StateEstablished,
	"SYN_SENT":    conn.StateSynSent,
	"SYN_RECV":    conn.StateSynReceived,
	"FIN_WAIT1":   conn.StateFinWait1,
	"FIN_WAIT_1":  conn.StateFinWait1,
	"FIN_WAIT2":   conn.StateFinWait2,
	"FIN_WAIT_2":  conn.StateFinWait2,
	"TIME_WAIT":   conn.StateTimeWait,
	"CLOSE":       conn.StateClosed,
	"CLOSED":      conn.StateClosed,
	"CLOSE_WAIT":  conn.StateCloseWait,
	"LAST_ACK":    conn.StateLastAck,
	"LISTEN":      conn.StateListen,
	"CLOSING":     conn.StateClosing,
}

func psutilRows(family conn.Family, stats []psnet.ConnectionStat, logger *slog.Logger) []conn.RawRow {
	rows := make([]conn.RawRow, 0, len(stats))
	for _, st := range stats {
		local, err := psutilAddrPort(family, st.Laddr)
		if err != nil {
			logger.Debug("skipping connection with bad local address", "family", family, "addr", st.Laddr.IP, "err", err)
			continue
		}
		var remote netip.AddrPort
		state := conn.StateNotApplicable
		if family.IsTCP() {
			remote, _ = psutilAddrPort(family, st.Raddr)
			state = psutilTCPStates[strings.ToUpper(st.Status)]
		}
		rows = append(rows, conn.NewRawRow(local, remote, state, uint32(st.Pid)))
	}
	return rows
}

// psutilAddrPort parses a gopsutil address. An empty or "*" IP means the
// unspecified address of the family.
func psutilAddrPort(family conn.Family, a psnet.Addr) (netip.AddrPort, error) {
	if a.Port > 0xffff {
		return netip.AddrPort{}, errors.Errorf("port %d out of range", a.Port)
	}
	var addr netip.Addr
	switch a.IP {
	case "", "*":
		if family.IsV6() {
			addr = netip.IPv6Unspecified()
		} else {
			addr = netip.IPv4Unspecified()
		}
	default:
		var err error
		addr, err = netip.ParseAddr(a.IP)
		if err != nil {
			return netip.AddrPort{}, errors.WithStack(err)
		}
		if !family.IsV6() {
			addr = addr.Unmap()
		}
	}
	return netip.AddrPortFrom(addr, uint16(a.Port)), nil
}
