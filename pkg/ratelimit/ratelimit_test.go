package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireUnlimitedReturnsImmediately(t *testing.T) {
	l := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
}

func TestICMPBackoffRaisesAndRecovers(t *testing.T) {
	l := New(1000)
	require.Equal(t, 0, l.BackoffLevel())

	l.ReportICMPBackoffSignal()
	require.Equal(t, 1, l.BackoffLevel())

	for i := 0; i < cleanWindowsToRecover-1; i++ {
		l.ReportCleanWindow()
		require.Equal(t, 1, l.BackoffLevel())
	}
	l.ReportCleanWindow()
	require.Equal(t, 0, l.BackoffLevel())
}

func TestBatchSizerGrowsAndShrinks(t *testing.T) {
	bs := NewBatchSizer(BatchSizerConfig{Min: 10, Max: 1000})
	require.Equal(t, 10, bs.Size())

	bs.Report(100, 98) // ratio 0.98 >= 0.95 -> double
	require.Equal(t, 20, bs.Size())

	bs.Report(100, 10) // ratio 0.1 <= 0.5 -> halve
	require.Equal(t, 10, bs.Size())
}

func TestBatchSizerRespectsMemoryCeiling(t *testing.T) {
	bs := NewBatchSizer(BatchSizerConfig{Min: 10, Max: 100000, MemoryCeilingBytes: 4096, MemoryCeilingBytesPerPacket: 64})
	for i := 0; i < 10; i++ {
		bs.Report(100, 100)
	}
	require.LessOrEqual(t, bs.Size(), 4096/64)
}
