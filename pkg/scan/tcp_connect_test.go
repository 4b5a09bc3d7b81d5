package scan

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prtip/prtip/pkg/models"
	"github.com/prtip/prtip/pkg/scanlog"
)

func TestConnectEngineOpenAndClosed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	closedConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	closedPort := closedConn.LocalAddr().(*net.UDPAddr).Port
	closedConn.Close() // a just-freed ephemeral port number; very likely nothing listens on it over TCP

	openPort := ln.Addr().(*net.TCPAddr).Port

	cfg := models.Config{Timing: 3, TimeoutMS: 2000}
	e := NewConnectEngine(cfg, nil, scanlog.NewTest())

	out := make(chan models.ScanResult, 2)
	target := netip.MustParseAddr("127.0.0.1")
	err = e.Scan(context.Background(), target, []uint16{uint16(openPort), uint16(closedPort)}, out)
	require.NoError(t, err)
	close(out)

	results := map[uint16]models.PortState{}
	for r := range out {
		results[r.Port] = r.State
	}
	require.Equal(t, models.StateOpen, results[uint16(openPort)])
	require.Equal(t, models.StateClosed, results[uint16(closedPort)])
}

func TestConcurrencyLimit(t *testing.T) {
	require.Equal(t, 10, concurrencyLimit(models.Config{MaxConcurrent: 10}, 100))
	require.Equal(t, 50, concurrencyLimit(models.Config{MaxConcurrent: 0}, 50))
	require.Equal(t, 1, concurrencyLimit(models.Config{}, 0))
}
