package bufpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolGetAdvancesCursor(t *testing.T) {
	p := New(16)

	b1, err := p.Get(10)
	require.NoError(t, err)
	require.Len(t, b1, 10)
	require.Equal(t, 6, p.Remaining())

	_, err = p.Get(7)
	require.ErrorIs(t, err, ErrExhausted)

	b2, err := p.Get(6)
	require.NoError(t, err)
	require.Len(t, b2, 6)
	require.Equal(t, 0, p.Remaining())
}

func TestPoolResetReclaimsSpace(t *testing.T) {
	p := New(8)

	_, err := p.Get(8)
	require.NoError(t, err)

	p.Reset()
	require.Equal(t, 8, p.Remaining())

	_, err = p.Get(8)
	require.NoError(t, err)
}

func TestPoolWithRollsBackCursorOnError(t *testing.T) {
	p := New(8)

	err := p.With(4, func(buf []byte) error {
		buf[0] = 1
		return ErrExhausted
	})
	require.ErrorIs(t, err, ErrExhausted)
	require.Equal(t, 8, p.Remaining(), "cursor should roll back on fn error")
}

func TestPoolNoAllocationAfterFirstUse(t *testing.T) {
	p := New(1024)

	allocs := testing.AllocsPerRun(100, func() {
		p.Reset()
		_, _ = p.Get(64)
	})
	require.Equal(t, float64(0), allocs)
}
