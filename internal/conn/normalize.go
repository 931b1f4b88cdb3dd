package conn

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
)

// IdentityMode selects which fields make up a connection's identity key.
type IdentityMode uint8

const (
	// IdentityLegacy keys on family, the 32-bit IPv4 local address, local
	// port and owning PID. For v6 families the address part is always zero,
	// so two v6 sockets sharing a local port and PID collide.
	IdentityLegacy IdentityMode = iota

	// IdentityStrict additionally keys on the full v6 local address and, for
	// TCP, the remote endpoint.
	IdentityStrict
)

func (m IdentityMode) String() string {
	switch m {
	case IdentityLegacy:
		return "legacy"
	case IdentityStrict:
		return "strict"
	}
	return fmt.Sprintf("IdentityMode(%d)", uint8(m))
}

// ParseIdentityMode parses "legacy" or "strict".
func ParseIdentityMode(s string) (IdentityMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "legacy":
		return IdentityLegacy, nil
	case "strict":
		return IdentityStrict, nil
	}
	return IdentityLegacy, fmt.Errorf("unknown identity mode %q", s)
}

// Key identifies "the same" connection across polls. It is comparable and
// used directly as a map key.
type Key struct {
	Family     Family
	LocalAddr4 [4]byte
	LocalPort  uint16
	PID        uint32

	// Zero unless IdentityStrict.
	LocalAddr6 [16]byte
	RemoteAddr [16]byte
	RemotePort uint16
}

// Normalize converts a raw row of the given family into a Connection and
// fixes its identity key. Owner fields are left empty.
func Normalize(family Family, row *RawRow, mode IdentityMode) Connection {
	c := Connection{
		Family:          family,
		LocalPort:       binary.BigEndian.Uint16(row.LocalPort[:]),
		PID:             row.PID,
		CreateTimestamp: row.CreateTimestamp,
	}

	if family.IsV6() {
		c.LocalAddr = netip.AddrFrom16(row.LocalAddr)
	} else {
		c.LocalAddr = netip.AddrFrom4([4]byte(row.LocalAddr[:4]))
	}

	if family.IsTCP() {
		c.State = row.State
		c.RemotePort = binary.BigEndian.Uint16(row.RemotePort[:])
		if family.IsV6() {
			c.RemoteAddr = netip.AddrFrom16(row.RemoteAddr)
		} else {
			c.RemoteAddr = netip.AddrFrom4([4]byte(row.RemoteAddr[:4]))
		}
	} else {
		c.State = StateNotApplicable
	}

	c.key = keyOf(family, row, mode)
	return c
}

func keyOf(family Family, row *RawRow, mode IdentityMode) Key {
	k := Key{
		Family:    family,
		LocalPort: binary.BigEndian.Uint16(row.LocalPort[:]),
		PID:       row.PID,
	}
	if !family.IsV6() {
		copy(k.LocalAddr4[:], row.LocalAddr[:4])
	}
	if mode == IdentityStrict {
		if family.IsV6() {
			k.LocalAddr6 = row.LocalAddr
		}
		if family.IsTCP() {
			k.RemoteAddr = row.RemoteAddr
			k.RemotePort = binary.BigEndian.Uint16(row.RemotePort[:])
		}
	}
	return k
}

// NewRawRow builds a raw row from host-order values. Providers that receive
// parsed addresses and ports use it to produce the network-order form.
func NewRawRow(local netip.AddrPort, remote netip.AddrPort, state TCPState, pid uint32) RawRow {
	row := RawRow{State: state, PID: pid}
	putAddr(&row.LocalAddr, local.Addr())
	putAddr(&row.RemoteAddr, remote.Addr())
	binary.BigEndian.PutUint16(row.LocalPort[:], local.Port())
	binary.BigEndian.PutUint16(row.RemotePort[:], remote.Port())
	return row
}

func putAddr(dst *[16]byte, addr netip.Addr) {
	switch {
	case !addr.IsValid():
	case addr.Is4():
		a := addr.As4()
		copy(dst[:4], a[:])
	default:
		*dst = addr.As16()
	}
}
