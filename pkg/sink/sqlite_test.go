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

func TestAsyncSQLiteSinkCollectAndLen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")

	s, err := NewAsyncSQLiteSink(path, 16)
	require.NoError(t, err)

	ctx := context.Background()
	want := models.ScanResult{
		TargetIP: netip.MustParseAddr("198.51.100.9"), Port: 22,
		State: models.StateOpen, Service: "ssh", ResponseTime: 5 * time.Millisecond,
		Timestamp: time.Unix(1700000000, 0),
	}
	require.NoError(t, s.Write(ctx, want))
	require.NoError(t, s.Write(ctx, models.ScanResult{TargetIP: netip.MustParseAddr("198.51.100.9"), Port: 80}))
	require.NoError(t, s.Close())

	reopened, err := NewAsyncSQLiteSink(path, 16)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := reopened.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint16(22), got[0].Port)
	require.Equal(t, want.Service, got[0].Service)
	require.Equal(t, uint16(80), got[1].Port)
}
