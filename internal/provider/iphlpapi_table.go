package provider

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"netconn-exporter/internal/conn"
)

// Row layouts of the *_OWNER_MODULE tables returned by GetExtendedTcpTable and
// GetExtendedUdpTable. Every row holds a LARGE_INTEGER, so rows are 8-byte
// aligned and the first one starts after the padded dwNumEntries.
//
// references:
// https://learn.microsoft.com/en-us/windows/win32/api/tcpmib/ns-tcpmib-mib_tcprow_owner_module
// https://learn.microsoft.com/en-us/windows/win32/api/tcpmib/ns-tcpmib-mib_tcp6row_owner_module
// https://learn.microsoft.com/en-us/windows/win32/api/udpmib/ns-udpmib-mib_udprow_owner_module
// https://learn.microsoft.com/en-us/windows/win32/api/udpmib/ns-udpmib-mib_udp6row_owner_module
const (
	tableHeaderSize = 8

	tcp4RowSize = 160
	tcp6RowSize = 192
	udp4RowSize = 160
	udp6RowSize = 176
)

var rowSizes = map[conn.Family]int{
	conn.TCPv4: tcp4RowSize,
	conn.TCPv6: tcp6RowSize,
	conn.UDPv4: udp4RowSize,
	conn.UDPv6: udp6RowSize,
}

// errTruncatedTable means the entry count does not fit the returned buffer.
var errTruncatedTable = errors.New("truncated connection table")

// parseOwnerModuleTable decodes a table buffer into raw rows. Addresses and
// ports are copied in the network order the OS delivers them.
func parseOwnerModuleTable(family conn.Family, buf []byte) ([]conn.RawRow, error) {
	size, ok := rowSizes[family]
	if !ok {
		return nil, errors.WithMessagef(ErrUnsupportedFamily, "family %s", family)
	}
	if len(buf) < tableHeaderSize {
		return nil, errors.WithMessagef(errTruncatedTable, "%d byte buffer", len(buf))
	}
	n := int(binary.LittleEndian.Uint32(buf))
	if need := tableHeaderSize + n*size; len(buf) < need {
		return nil, errors.WithMessagef(errTruncatedTable, "%d rows need %d bytes, have %d", n, need, len(buf))
	}

	rows := make([]conn.RawRow, n)
	for i := range rows {
		b := buf[tableHeaderSize+i*size : tableHeaderSize+(i+1)*size]
		r := &rows[i]
		switch family {
		case conn.TCPv4:
			r.State = conn.TCPState(binary.LittleEndian.Uint32(b[0:]))
			copy(r.LocalAddr[:4], b[4:8])
			copy(r.LocalPort[:], b[8:10])
			copy(r.RemoteAddr[:4], b[12:16])
			copy(r.RemotePort[:], b[16:18])
			r.PID = binary.LittleEndian.Uint32(b[20:])
			r.CreateTimestamp = binary.LittleEndian.Uint64(b[24:])
		case conn.TCPv6:
			copy(r.LocalAddr[:], b[0:16])
			copy(r.LocalPort[:], b[20:22])
			copy(r.RemoteAddr[:], b[24:40])
			copy(r.RemotePort[:], b[44:46])
			r.State = conn.TCPState(binary.LittleEndian.Uint32(b[48:]))
			r.PID = binary.LittleEndian.Uint32(b[52:])
			r.CreateTimestamp = binary.LittleEndian.Uint64(b[56:])
		case conn.UDPv4:
			copy(r.LocalAddr[:4], b[0:4])
			copy(r.LocalPort[:], b[4:6])
			r.PID = binary.LittleEndian.Uint32(b[8:])
			r.CreateTimestamp = binary.LittleEndian.Uint64(b[16:])
		case conn.UDPv6:
			copy(r.LocalAddr[:], b[0:16])
			copy(r.LocalPort[:], b[20:22])
			r.PID = binary.LittleEndian.Uint32(b[24:])
			r.CreateTimestamp = binary.LittleEndian.Uint64(b[32:])
		}
	}
	return rows, nil
}
