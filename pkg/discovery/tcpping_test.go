package discovery

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prtip/prtip/pkg/packet"
)

func TestParseTCPSourceRoundTrip(t *testing.T) {
	src := netip.MustParseAddr("203.0.113.5")
	dst := netip.MustParseAddr("203.0.113.10")

	raw, err := packet.BuildTCP(packet.TCPSpec{
		SrcAddr: src, DstAddr: dst,
		SrcPort: 443, DstPort: 55000,
		Seq:   1, Ack: 2,
		Flags: packet.TCPFlags{SYN: true, ACK: true},
	})
	require.NoError(t, err)

	got, ok := parseTCPSource(raw)
	require.True(t, ok)
	require.Equal(t, src, got)
}
