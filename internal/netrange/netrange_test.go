package netrange

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustRange(t *testing.T, s string) Range {
	t.Helper()
	r, err := Parse(s)
	require.NoError(t, err)
	return r
}

func TestIPv4Contains(t *testing.T) {
	ip, err := ParseAddr("192.168.1.5")
	require.NoError(t, err)

	require.True(t, mustRange(t, "192.168.1.0/24").Contains(ip))
	require.False(t, mustRange(t, "192.168.2.0/24").Contains(ip))
	require.True(t, mustRange(t, "192.168.0.0/16").Contains(ip))
	require.True(t, mustRange(t, "0.0.0.0/0").Contains(ip))
	require.True(t, mustRange(t, "192.168.1.5").Contains(ip))
	require.False(t, mustRange(t, "192.168.1.4/32").Contains(ip))
}

func TestIPv6PrefixBoundary(t *testing.T) {
	r := mustRange(t, "2001:db8:abcd:12::/64")
	inside, err := ParseAddr("2001:db8:abcd:12:ffff:ffff:ffff:ffff")
	require.NoError(t, err)
	outside, err := ParseAddr("2001:db8:abcd:13::1")
	require.NoError(t, err)
	require.True(t, r.Contains(inside))
	require.False(t, r.Contains(outside))

	// /60 leaves four bits of the eighth byte in the prefix.
	r60 := mustRange(t, "2001:db8:abcd:10::/60")
	in60, _ := ParseAddr("2001:db8:abcd:1f::1")
	out60, _ := ParseAddr("2001:db8:abcd:20::1")
	require.True(t, r60.Contains(in60))
	require.False(t, r60.Contains(out60))
}

func TestFamiliesDoNotCrossMatch(t *testing.T) {
	v4, _ := ParseAddr("10.0.0.1")
	v6, _ := ParseAddr("2001:db8::1")
	require.False(t, mustRange(t, "::/0").Contains(v4))
	require.False(t, mustRange(t, "0.0.0.0/0").Contains(v6))
}

func TestMappedAddressesUnmap(t *testing.T) {
	mapped, err := ParseAddr("::ffff:10.1.2.3")
	require.NoError(t, err)
	require.True(t, mustRange(t, "10.0.0.0/8").Contains(mapped))
	require.Equal(t, "10.0.0.0/8", mustRange(t, "::ffff:10.0.0.0/104").String())
}

func TestParseCanonicalisesAndRejects(t *testing.T) {
	require.Equal(t, "10.0.0.0/8", mustRange(t, "10.1.2.3/8").String())
	require.Equal(t, "2001:db8::1/128", mustRange(t, "2001:db8::1").String())

	for _, bad := range []string{"", "10.0.0.0/33", "2001:db8::/129", "10.0.0/8", "hello", "10.0.0.0/-1"} {
		_, err := Parse(bad)
		require.ErrorIs(t, err, ErrInvalidCIDR, bad)
	}
	_, err := ParseAddr("999.1.1.1")
	require.ErrorIs(t, err, ErrInvalidAddress)
}
