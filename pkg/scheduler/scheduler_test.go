package scheduler

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prtip/prtip/pkg/config"
	"github.com/prtip/prtip/pkg/eventbus"
	"github.com/prtip/prtip/pkg/models"
	"github.com/prtip/prtip/pkg/scanlog"
)

func TestSchedulerConnectScanEndToEnd(t *testing.T) {
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
	openPort := ln.Addr().(*net.TCPAddr).Port

	cfg := config.FileConfig{
		Config: models.Config{
			ScanType:  models.ScanConnect,
			Timing:    3,
			TimeoutMS: 2000,
		},
		Sink: config.SinkConfig{Backend: "memory"},
	}

	s, err := New(cfg, scanlog.NewTest())
	require.NoError(t, err)
	defer s.Close()

	ports, err := models.ParsePortSpec(strconv.Itoa(openPort))
	require.NoError(t, err)

	targets := []models.Target{{Kind: models.TargetAddr, Addr: netip.MustParseAddr("127.0.0.1")}}
	require.NoError(t, s.Run(context.Background(), targets, ports))

	mem, ok := s.sink.(interface{ Results() []models.ScanResult })
	require.True(t, ok)
	results := mem.Results()
	require.Len(t, results, 1)
	require.Equal(t, models.StateOpen, results[0].State)
}

func TestSchedulerPublishesResultsToEventBus(t *testing.T) {
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
	openPort := ln.Addr().(*net.TCPAddr).Port

	cfg := config.FileConfig{
		Config: models.Config{ScanType: models.ScanConnect, Timing: 3, TimeoutMS: 2000},
		Sink:   config.SinkConfig{Backend: "memory"},
	}

	s, err := New(cfg, scanlog.NewTest())
	require.NoError(t, err)
	defer s.Close()

	bus := eventbus.NewBus()
	s.WithEventBus(bus)
	events, unsubscribe := bus.Subscribe(eventbus.FilterTypes(eventbus.EventPortFound), false)
	defer unsubscribe()

	ports, err := models.ParsePortSpec(strconv.Itoa(openPort))
	require.NoError(t, err)
	targets := []models.Target{{Kind: models.TargetAddr, Addr: netip.MustParseAddr("127.0.0.1")}}
	require.NoError(t, s.Run(context.Background(), targets, ports))

	select {
	case evt := <-events:
		require.Equal(t, eventbus.EventPortFound, evt.Type)
		data, ok := evt.Data.(eventbus.PortFoundData)
		require.True(t, ok)
		require.Equal(t, models.StateOpen, data.Result.State)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published result")
	}
}
