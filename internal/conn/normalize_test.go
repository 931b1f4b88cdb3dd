package conn

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTCP4(t *testing.T) {
	row := NewRawRow(
		netip.MustParseAddrPort("10.0.0.1:5000"),
		netip.MustParseAddrPort("93.1.1.1:443"),
		StateEstablished, 100,
	)
	row.CreateTimestamp = 42

	// ports travel in network byte order
	require.Equal(t, [2]byte{0x13, 0x88}, row.LocalPort)

	c := Normalize(TCPv4, &row, IdentityLegacy)
	assert.Equal(t, TCPv4, c.Family)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), c.LocalAddr)
	assert.Equal(t, uint16(5000), c.LocalPort)
	assert.Equal(t, netip.MustParseAddr("93.1.1.1"), c.RemoteAddr)
	assert.Equal(t, uint16(443), c.RemotePort)
	assert.Equal(t, uint32(100), c.PID)
	assert.Equal(t, StateEstablished, c.State)
	assert.Equal(t, uint64(42), c.CreateTimestamp)
	assert.False(t, c.Resolved())

	assert.Equal(t, Key{
		Family:     TCPv4,
		LocalAddr4: [4]byte{10, 0, 0, 1},
		LocalPort:  5000,
		PID:        100,
	}, c.Key())
}

func TestNormalizeUDPDropsRemoteAndState(t *testing.T) {
	row := NewRawRow(
		netip.MustParseAddrPort("[fe80::1]:53"),
		netip.MustParseAddrPort("[2001:db8::1]:9999"),
		StateEstablished, 7,
	)

	c := Normalize(UDPv6, &row, IdentityLegacy)
	assert.Equal(t, netip.MustParseAddr("fe80::1"), c.LocalAddr)
	assert.Equal(t, uint16(53), c.LocalPort)
	assert.False(t, c.RemoteAddr.IsValid())
	assert.Zero(t, c.RemotePort)
	assert.Equal(t, StateNotApplicable, c.State)
	assert.Equal(t, "*:*", c.RemoteEndpoint())
}

func TestLegacyKeyCollidesForV6(t *testing.T) {
	a := NewRawRow(netip.MustParseAddrPort("[2001:db8::1]:8080"), netip.AddrPort{}, StateListen, 10)
	b := NewRawRow(netip.MustParseAddrPort("[2001:db8::2]:8080"), netip.AddrPort{}, StateListen, 10)

	ca := Normalize(TCPv6, &a, IdentityLegacy)
	cb := Normalize(TCPv6, &b, IdentityLegacy)
	assert.Equal(t, ca.Key(), cb.Key())
	assert.Equal(t, [4]byte{}, ca.Key().LocalAddr4)

	ca = Normalize(TCPv6, &a, IdentityStrict)
	cb = Normalize(TCPv6, &b, IdentityStrict)
	assert.NotEqual(t, ca.Key(), cb.Key())
}

func TestLegacyKeyIgnoresRemoteEndpoint(t *testing.T) {
	a := NewRawRow(netip.MustParseAddrPort("10.0.0.1:443"), netip.MustParseAddrPort("1.1.1.1:5000"), StateEstablished, 1)
	b := NewRawRow(netip.MustParseAddrPort("10.0.0.1:443"), netip.MustParseAddrPort("2.2.2.2:6000"), StateEstablished, 1)

	ca, cb := Normalize(TCPv4, &a, IdentityLegacy), Normalize(TCPv4, &b, IdentityLegacy)
	assert.Equal(t, ca.Key(), cb.Key())

	ca, cb = Normalize(TCPv4, &a, IdentityStrict), Normalize(TCPv4, &b, IdentityStrict)
	assert.NotEqual(t, ca.Key(), cb.Key())
}

func TestKeyDiffersByFamily(t *testing.T) {
	row := NewRawRow(netip.MustParseAddrPort("0.0.0.0:53"), netip.AddrPort{}, StateListen, 1)
	tcp := Normalize(TCPv4, &row, IdentityLegacy)
	udp := Normalize(UDPv4, &row, IdentityLegacy)
	assert.NotEqual(t, tcp.Key(), udp.Key())
}

func TestUpdate(t *testing.T) {
	row := NewRawRow(netip.MustParseAddrPort("10.0.0.1:5000"), netip.MustParseAddrPort("93.1.1.1:443"), StateEstablished, 100)
	c := Normalize(TCPv4, &row, IdentityLegacy)

	row.State = StateCloseWait
	row.CreateTimestamp = 99
	observed := Normalize(TCPv4, &row, IdentityLegacy)
	c.Update(&observed)
	assert.Equal(t, StateCloseWait, c.State)
	assert.Zero(t, c.CreateTimestamp)

	u := Normalize(UDPv4, &row, IdentityLegacy)
	u.Update(&observed)
	assert.Equal(t, StateNotApplicable, u.State)
}

func TestParseFamilies(t *testing.T) {
	tests := []struct {
		in      string
		want    Family
		wantErr bool
	}{
		{in: "all", want: All},
		{in: "tcp4", want: TCPv4},
		{in: "tcp4,udp6", want: TCPv4 | UDPv6},
		{in: "TCP|udp4", want: TCPv4 | TCPv6 | UDPv4},
		{in: "udp", want: UDPv4 | UDPv6},
		{in: "", wantErr: true},
		{in: "sctp", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFamilies(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFamiliesOrder(t *testing.T) {
	f := UDPv6 | TCPv4 | UDPv4
	assert.Equal(t, []Family{TCPv4, UDPv4, UDPv6}, f.Families())
	assert.Equal(t, "tcp4|udp4|udp6", f.String())
	assert.Equal(t, "none", None.String())
	assert.True(t, All.Has(TCPv6))
	assert.False(t, TCPv4.Has(None))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ESTABLISHED", StateEstablished.String())
	assert.Equal(t, "NONE", StateNotApplicable.String())
	assert.Equal(t, "UNKNOWN(77)", TCPState(77).String())
}
