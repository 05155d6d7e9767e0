package network

import (
	"math"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

// r1 - r2 - r4 and r1 - r3 - r4
func testTopology(t *testing.T) *Static {
	s, err := NewStatic(0)
	require.NoError(t, err)
	for _, n := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"} {
		s.AddNode(addr(n))
	}
	require.NoError(t, s.AddLink(addr("10.0.0.1"), addr("10.0.0.2"), 10))
	require.NoError(t, s.AddLink(addr("10.0.0.2"), addr("10.0.0.4"), 10))
	require.NoError(t, s.AddLink(addr("10.0.0.1"), addr("10.0.0.3"), 5))
	require.NoError(t, s.AddLink(addr("10.0.0.3"), addr("10.0.0.4"), 30))
	require.NoError(t, s.AddPrefix(addr("10.0.0.4"), netip.MustParsePrefix("192.168.4.0/24")))
	return s
}

func TestStatic_Distance(t *testing.T) {
	s := testTopology(t)
	tests := []struct {
		name string
		from string
		to   string
		dist uint32
		ok   bool
	}{
		{name: "self", from: "10.0.0.1", to: "10.0.0.1", dist: 0, ok: true},
		{name: "direct", from: "10.0.0.1", to: "10.0.0.3", dist: 5, ok: true},
		{name: "two hops", from: "10.0.0.1", to: "10.0.0.4", dist: 20, ok: true},
		{name: "owned prefix", from: "10.0.0.1", to: "192.168.4.10", dist: 20, ok: true},
		{name: "isolated node", from: "10.0.0.1", to: "10.0.0.5", ok: false},
		{name: "unknown address", from: "10.0.0.1", to: "172.16.0.1", ok: false},
	}
	t.Parallel()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			d, ok := s.Distance(addr(tt.from), addr(tt.to))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.dist, d)
			}
		})
	}
}

func TestStatic_Changes(t *testing.T) {
	s := testTopology(t)
	d, ok := s.Distance(addr("10.0.0.1"), addr("10.0.0.4"))
	require.True(t, ok)
	assert.Equal(t, uint32(20), d)

	require.NoError(t, s.SetLinkCost(addr("10.0.0.4"), addr("10.0.0.2"), 100))
	d, ok = s.Distance(addr("10.0.0.1"), addr("10.0.0.4"))
	require.True(t, ok)
	assert.Equal(t, uint32(35), d)

	require.NoError(t, s.SetLinkState(addr("10.0.0.1"), addr("10.0.0.3"), false))
	d, ok = s.Distance(addr("10.0.0.1"), addr("10.0.0.4"))
	require.True(t, ok)
	assert.Equal(t, uint32(110), d)

	require.NoError(t, s.RemoveLink(addr("10.0.0.1"), addr("10.0.0.2")))
	_, ok = s.Distance(addr("10.0.0.1"), addr("10.0.0.4"))
	assert.False(t, ok)

	require.NoError(t, s.SetLinkState(addr("10.0.0.1"), addr("10.0.0.3"), true))
	d, ok = s.Distance(addr("10.0.0.1"), addr("10.0.0.4"))
	require.True(t, ok)
	assert.Equal(t, uint32(35), d)
	assert.Len(t, s.Links(), 3)
}

func TestStatic_Errors(t *testing.T) {
	s := testTopology(t)
	assert.ErrorIs(t, s.AddLink(addr("10.0.0.1"), addr("10.0.0.9"), 1), ErrNodeNotFound)
	assert.ErrorIs(t, s.AddLink(addr("10.0.0.1"), addr("10.0.0.1"), 1), ErrInvalidLink)
	assert.ErrorIs(t, s.SetLinkCost(addr("10.0.0.1"), addr("10.0.0.4"), 1), ErrLinkNotFound)
	assert.ErrorIs(t, s.RemoveLink(addr("10.0.0.2"), addr("10.0.0.3")), ErrLinkNotFound)
	assert.ErrorIs(t, s.AddPrefix(addr("10.0.0.9"), netip.MustParsePrefix("10.9.0.0/16")), ErrNodeNotFound)
}

func TestStatic_LargeCosts(t *testing.T) {
	s, err := NewStatic(0)
	require.NoError(t, err)
	for _, n := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"} {
		s.AddNode(addr(n))
	}
	require.NoError(t, s.AddLink(addr("10.0.0.1"), addr("10.0.0.2"), math.MaxUint32-1))
	require.NoError(t, s.AddLink(addr("10.0.0.2"), addr("10.0.0.3"), 10))
	require.NoError(t, s.AddLink(addr("10.0.0.1"), addr("10.0.0.3"), 100))
	require.NoError(t, s.AddLink(addr("10.0.0.2"), addr("10.0.0.4"), 10))

	d, ok := s.Distance(addr("10.0.0.1"), addr("10.0.0.3"))
	require.True(t, ok)
	assert.Equal(t, uint32(100), d)
	d, ok = s.Distance(addr("10.0.0.1"), addr("10.0.0.4"))
	require.True(t, ok)
	assert.Equal(t, uint32(120), d)

	require.NoError(t, s.SetLinkState(addr("10.0.0.1"), addr("10.0.0.3"), false))
	d, ok = s.Distance(addr("10.0.0.1"), addr("10.0.0.4"))
	require.True(t, ok)
	assert.Equal(t, uint32(math.MaxUint32), d)
}
