package conn

// This package holds the connection entity and the rules that turn a raw,
// provider-native socket row into it.
//
// IMPORTANT:
// - Keep this package free from Prometheus and OS dependencies.
// - A Connection's identity key is computed once, at normalization, and never
//   changes afterwards. Only mutable fields are refreshed across polls.

import (
	"fmt"
	"net/netip"
	"strings"
)

// Family is a set of protocol/address-version combinations.
// A single Connection always carries exactly one family bit.
type Family uint8

const (
	TCPv4 Family = 1 << iota
	TCPv6
	UDPv4
	UDPv6

	None Family = 0
	All         = TCPv4 | TCPv6 | UDPv4 | UDPv6
)

// order is the enumeration order used by the tracker within one poll.
var order = [...]Family{TCPv4, TCPv6, UDPv4, UDPv6}

var familyNames = map[Family]string{
	TCPv4: "tcp4",
	TCPv6: "tcp6",
	UDPv4: "udp4",
	UDPv6: "udp6",
}

// Families returns the members of f in enumeration order.
func (f Family) Families() []Family {
	out := make([]Family, 0, len(order))
	for _, m := range order {
		if f&m != 0 {
			out = append(out, m)
		}
	}
	return out
}

// Has reports whether every bit of other is set in f.
func (f Family) Has(other Family) bool {
	return other != None && f&other == other
}

// IsTCP reports whether f is a TCP family.
func (f Family) IsTCP() bool { return f == TCPv4 || f == TCPv6 }

// IsV6 reports whether f is an IPv6 family.
func (f Family) IsV6() bool { return f == TCPv6 || f == UDPv6 }

// Transport returns "tcp" or "udp" for a single family.
func (f Family) Transport() string {
	switch f {
	case TCPv4, TCPv6:
		return "tcp"
	case UDPv4, UDPv6:
		return "udp"
	}
	return ""
}

func (f Family) String() string {
	if f == None {
		return "none"
	}
	if name, ok := familyNames[f]; ok {
		return name
	}
	members := f.Families()
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, familyNames[m])
	}
	return strings.Join(names, "|")
}

func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// ParseFamilies parses a comma (or |) separated list such as "tcp4,udp6".
// "all" selects every family, "tcp" and "udp" select both address versions.
func ParseFamilies(s string) (Family, error) {
	var f Family
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' || r == ' ' }) {
		switch strings.ToLower(tok) {
		case "all":
			f |= All
		case "tcp":
			f |= TCPv4 | TCPv6
		case "udp":
			f |= UDPv4 | UDPv6
		case "tcp4":
			f |= TCPv4
		case "tcp6":
			f |= TCPv6
		case "udp4":
			f |= UDPv4
		case "udp6":
			f |= UDPv6
		default:
			return None, fmt.Errorf("unknown connection family %q", tok)
		}
	}
	if f == None {
		return None, fmt.Errorf("no connection family in %q", s)
	}
	return f, nil
}

// TCPState follows the MIB_TCP_STATE numbering. StateNotApplicable is the
// fixed value carried by UDP connections.
type TCPState uint8

const (
	StateNotApplicable TCPState = iota
	StateClosed
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
	StateDeleteTCB
)

var stateNames = [...]string{
	StateNotApplicable: "NONE",
	StateClosed:        "CLOSED",
	StateListen:        "LISTEN",
	StateSynSent:       "SYN_SENT",
	StateSynReceived:   "SYN_RECEIVED",
	StateEstablished:   "ESTABLISHED",
	StateFinWait1:      "FIN_WAIT1",
	StateFinWait2:      "FIN_WAIT2",
	StateCloseWait:     "CLOSE_WAIT",
	StateClosing:       "CLOSING",
	StateLastAck:       "LAST_ACK",
	StateTimeWait:      "TIME_WAIT",
	StateDeleteTCB:     "DELETE_TCB",
}

func (s TCPState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

func (s TCPState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RawRow is one socket as reported by a table provider, before normalization.
//
// Addresses are raw bytes in network order; v4 rows use the first four bytes.
// Ports are in network byte order. UDP rows leave the remote endpoint zero.
type RawRow struct {
	LocalAddr       [16]byte
	LocalPort       [2]byte
	RemoteAddr      [16]byte
	RemotePort      [2]byte
	State           TCPState
	PID             uint32
	CreateTimestamp uint64
}

// Owner is the best-effort module information for the process owning a socket.
type Owner struct {
	Name string
	Path string
}

// Connection is one socket at a point in time.
type Connection struct {
	Family     Family     `json:"family"`
	LocalAddr  netip.Addr `json:"local_address"`
	LocalPort  uint16     `json:"local_port"`
	RemoteAddr netip.Addr `json:"remote_address"`
	RemotePort uint16     `json:"remote_port"`
	PID        uint32     `json:"pid"`
	State      TCPState   `json:"state"`

	// CreateTimestamp is the OS creation tick count. It is opaque and
	// monotonic, not wall-clock time.
	CreateTimestamp uint64 `json:"create_timestamp"`

	// Empty when owner resolution failed.
	ModuleName string `json:"module_name,omitempty"`
	ModulePath string `json:"module_path,omitempty"`

	key Key
}

// Key returns the identity key fixed at normalization.
func (c *Connection) Key() Key { return c.key }

// Update copies the mutable fields of observed into c. Only TCP state is
// mutable; UDP connections have nothing to refresh.
func (c *Connection) Update(observed *Connection) {
	if c.Family.IsTCP() {
		c.State = observed.State
	}
}

// SetOwner records resolved owner module information.
func (c *Connection) SetOwner(o Owner) {
	c.ModuleName = o.Name
	c.ModulePath = o.Path
}

// Resolved reports whether owner information is present.
func (c *Connection) Resolved() bool {
	return c.ModuleName != "" || c.ModulePath != ""
}

// LocalEndpoint renders "addr:port", bracketing v6 addresses.
func (c *Connection) LocalEndpoint() string {
	return endpoint(c.LocalAddr, c.LocalPort)
}

// RemoteEndpoint renders "addr:port", or "*:*" when the connection has no
// remote endpoint.
func (c *Connection) RemoteEndpoint() string {
	if !c.RemoteAddr.IsValid() {
		return "*:*"
	}
	return endpoint(c.RemoteAddr, c.RemotePort)
}

func endpoint(addr netip.Addr, port uint16) string {
	if !addr.IsValid() {
		return fmt.Sprintf("*:%d", port)
	}
	return netip.AddrPortFrom(addr, port).String()
}

func (c *Connection) String() string {
	s := fmt.Sprintf("%s %s -> %s pid=%d", c.Family, c.LocalEndpoint(), c.RemoteEndpoint(), c.PID)
	if c.Family.IsTCP() {
		s += " state=" + c.State.String()
	}
	return s
}
