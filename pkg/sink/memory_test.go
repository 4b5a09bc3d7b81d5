package sink

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prtip/prtip/pkg/models"
)

func TestMemorySinkOrdersResults(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, models.ScanResult{TargetIP: netip.MustParseAddr("10.0.0.5"), Port: 80}))
	require.NoError(t, s.Write(ctx, models.ScanResult{TargetIP: netip.MustParseAddr("10.0.0.1"), Port: 443}))
	require.NoError(t, s.Write(ctx, models.ScanResult{TargetIP: netip.MustParseAddr("10.0.0.1"), Port: 22}))

	results := s.Results()
	require.Len(t, results, 3)
	require.Equal(t, netip.MustParseAddr("10.0.0.1"), results[0].TargetIP)
	require.Equal(t, uint16(22), results[0].Port)
	require.Equal(t, uint16(443), results[1].Port)
	require.Equal(t, netip.MustParseAddr("10.0.0.5"), results[2].TargetIP)
}

func TestMemorySinkCollectAndLen(t *testing.T) {
	var s Sink = NewMemorySink()
	ctx := context.Background()

	n, err := s.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, s.Write(ctx, models.ScanResult{TargetIP: netip.MustParseAddr("10.0.0.1"), Port: 22}))
	require.NoError(t, s.Write(ctx, models.ScanResult{TargetIP: netip.MustParseAddr("10.0.0.1"), Port: 80}))

	n, err = s.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	collected, err := s.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, collected, 2)
	require.Equal(t, uint16(22), collected[0].Port)
}
