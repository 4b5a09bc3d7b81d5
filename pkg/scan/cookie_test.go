package scan

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCookieDeterministicAndKeyed(t *testing.T) {
	jar := NewCookieJarWithSecret([32]byte{1, 2, 3})
	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")

	a := jar.Cookie(src, dst, 40000, 80, 6)
	b := jar.Cookie(src, dst, 40000, 80, 6)
	require.Equal(t, a, b, "cookie must be deterministic for the same tuple")

	c := jar.Cookie(src, dst, 40000, 443, 6)
	require.NotEqual(t, a, c, "cookie must vary with destination port")

	other := NewCookieJarWithSecret([32]byte{9, 9, 9})
	d := other.Cookie(src, dst, 40000, 80, 6)
	require.NotEqual(t, a, d, "cookie must vary with the per-process secret")
}

func TestCookieVerify(t *testing.T) {
	jar := NewCookieJarWithSecret([32]byte{5})
	src := netip.MustParseAddr("192.168.1.1")
	dst := netip.MustParseAddr("192.168.1.2")

	got := jar.Cookie(src, dst, 12345, 22, 6)
	require.True(t, jar.Verify(src, dst, 12345, 22, 6, got))
	require.False(t, jar.Verify(src, dst, 12345, 23, 6, got))
}
