//go:build !windows

package sink

import (
	"context"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prtip/prtip/pkg/models"
)

func TestMmapSinkWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.mmap")

	s, err := NewMmapSink(path)
	require.NoError(t, err)

	want := models.ScanResult{
		TargetIP: netip.MustParseAddr("198.51.100.7"), Port: 443,
		State: models.StateOpen, Service: "https", Product: "nginx", Version: "1.18.0",
		Banner: "nginx/1.18.0", ResponseTime: 12 * time.Millisecond, Timestamp: time.Unix(1700000000, 0),
	}
	require.NoError(t, s.Write(context.Background(), want))
	require.NoError(t, s.Flush(context.Background()))
	require.Equal(t, uint64(1), s.Count())
	require.NoError(t, s.Close())

	got, err := ReadAllMmap(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, want.TargetIP, got[0].TargetIP)
	require.Equal(t, want.Port, got[0].Port)
	require.Equal(t, want.State, got[0].State)
	require.Equal(t, want.Service, got[0].Service)
	require.Equal(t, want.Product, got[0].Product)
	require.Equal(t, want.Version, got[0].Version)
}

func TestMmapSinkCollectAndLen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collect.mmap")
	mm, err := NewMmapSink(path)
	require.NoError(t, err)
	defer mm.Close()

	var s Sink = mm

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, models.ScanResult{TargetIP: netip.MustParseAddr("198.51.100.1"), Port: 22}))
	require.NoError(t, s.Write(ctx, models.ScanResult{TargetIP: netip.MustParseAddr("198.51.100.1"), Port: 80}))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	collected, err := s.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, collected, 2)
	require.Equal(t, uint16(22), collected[0].Port)
	require.Equal(t, uint16(80), collected[1].Port)
}

func TestMmapSinkGrowsPastInitialCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.mmap")
	s, err := NewMmapSink(path)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < initialCapacity+5; i++ {
		err := s.Write(context.Background(), models.ScanResult{
			TargetIP: netip.MustParseAddr("10.0.0.1"), Port: uint16(i % 65535),
		})
		require.NoError(t, err)
	}
	require.Equal(t, uint64(initialCapacity+5), s.Count())
	require.Greater(t, s.capacity, uint64(initialCapacity))
}
