package concurrency

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prtip/prtip/pkg/models"
	"github.com/prtip/prtip/pkg/scanlog"
)

func TestParallelismForPortCountTable(t *testing.T) {
	cases := []struct {
		ports int
		want  int
	}{
		{1, 20}, {1000, 20},
		{1001, 100}, {5000, 100},
		{5001, 500}, {20000, 500},
		{20001, 1000}, {65535, 1000},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ParallelismForPortCount(c.ports))
	}
}

func TestCalculateParallelismMonotoneUpToClamp(t *testing.T) {
	log := scanlog.NewTest()
	prev := 0
	for _, n := range []int{100, 1000, 5000, 20000, 100000} {
		got := CalculateParallelism(n, models.ScanConnect, 0, 0, log)
		require.GreaterOrEqual(t, got, prev)
		require.LessOrEqual(t, got, MaxParallelism)
		prev = got
	}
}

func TestCalculateParallelismClampsUserOverride(t *testing.T) {
	log := scanlog.NewTest()
	got := CalculateParallelism(100, models.ScanConnect, 100000, 0, log)
	require.Equal(t, MaxParallelism, got)
}

func TestCalculateParallelismRespectsUlimitCeiling(t *testing.T) {
	log := scanlog.NewTest()
	got := CalculateParallelism(100000, models.ScanConnect, 0, 100, log)
	require.LessOrEqual(t, got, 50)
}

func TestCalculateParallelismIdleForcedToMinimum(t *testing.T) {
	log := scanlog.NewTest()
	got := CalculateParallelism(100000, models.ScanIdle, 0, 0, log)
	require.Equal(t, MinParallelism, got)
}
