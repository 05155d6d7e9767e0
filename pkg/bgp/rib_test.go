package bgp

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocRib_Match(t *testing.T) {
	store := NewAttrStore()
	loc := NewLocRib()
	info := testPeerInfo("10.1.0.1", 1, false)
	for _, prefix := range []string{"10.0.0.0/8", "10.1.0.0/16", "10.1.2.0/24", "192.168.0.0/24"} {
		loc.insert(testPath(store, prefix, info, Attributes{NextHop: info.addr}, 0))
	}
	tests := []struct {
		name   string
		addr   string
		prefix string
	}{
		{name: "most specific", addr: "10.1.2.3", prefix: "10.1.2.0/24"},
		{name: "middle", addr: "10.1.3.3", prefix: "10.1.0.0/16"},
		{name: "covering", addr: "10.200.0.1", prefix: "10.0.0.0/8"},
		{name: "other", addr: "192.168.0.10", prefix: "192.168.0.0/24"},
		{name: "unreachable", addr: "172.16.0.1", prefix: ""},
	}
	t.Parallel()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			path := loc.Match(netip.MustParseAddr(tt.addr))
			if tt.prefix == "" {
				assert.Nil(t, path)
				assert.False(t, loc.IsReachable(netip.MustParseAddr(tt.addr)))
				return
			}
			require.NotNil(t, path)
			assert.Equal(t, tt.prefix, path.Prefix().String())
		})
	}
}

func TestLocRib_Drop(t *testing.T) {
	store := NewAttrStore()
	loc := NewLocRib()
	info := testPeerInfo("10.1.0.1", 1, false)
	loc.insert(testPath(store, "10.0.0.0/8", info, Attributes{NextHop: info.addr}, 0))
	loc.drop(MustParsePrefix("10.0.0.0/8"))
	loc.drop(MustParsePrefix("10.0.0.0/8"))
	assert.Equal(t, 0, loc.Len())
	assert.Nil(t, loc.Match(netip.MustParseAddr("10.0.0.1")))
}

// checkRib verifies that every Loc-RIB entry is the decision over the feasible candidates of its prefix.
func checkRib(t *testing.T, rib *Rib) {
	t.Helper()
	for _, prefix := range rib.Prefixes() {
		feasible := []*Path{}
		for _, path := range rib.Candidates(prefix) {
			if _, ok := rib.ctx.distance(path); ok {
				feasible = append(feasible, path)
			}
		}
		best, _ := decide(rib.ctx, feasible)
		assert.Same(t, best, rib.LocRib().Lookup(prefix), prefix.String())
	}
}

func TestRib_RecomputeBest(t *testing.T) {
	store := NewAttrStore()
	p1 := testPeerInfo("10.1.0.1", 65001, false)
	p2 := testPeerInfo("10.2.0.1", 65002, false)
	rib := NewRib(testSelf, DefaultDecisionConfig(), nil)
	prefix := MustParsePrefix("10.0.0.0/8")

	a := testPath(store, "10.0.0.0/8", p1, Attributes{ASPath: CreateASPath(65001, 1), NextHop: p1.addr, LocalPref: 100}, 0)
	assert.Nil(t, rib.AddOrReplace(p1.addr, a))
	change := rib.RecomputeBest(prefix)
	assert.Equal(t, CHANGE_INSTALLED, change.Kind)
	assert.Same(t, a, change.New)
	assert.Equal(t, STEP_ONLY_PATH, change.Reason)
	assert.True(t, a.IsBest())
	checkRib(t, rib)

	assert.Equal(t, CHANGE_NONE, rib.RecomputeBest(prefix).Kind)

	b := testPath(store, "10.0.0.0/8", p2, Attributes{ASPath: CreateASPath(65002), NextHop: p2.addr, LocalPref: 100}, 0)
	rib.AddOrReplace(p2.addr, b)
	change = rib.RecomputeBest(prefix)
	assert.Equal(t, CHANGE_REPLACED, change.Kind)
	assert.Same(t, a, change.Old)
	assert.Same(t, b, change.New)
	assert.Equal(t, STEP_AS_PATH_LENGTH, change.Reason)
	assert.False(t, a.IsBest())
	assert.True(t, a.IsFeasible())
	checkRib(t, rib)

	assert.Same(t, b, rib.Withdraw(p2.addr, prefix))
	change = rib.RecomputeBest(prefix)
	assert.Equal(t, CHANGE_REPLACED, change.Kind)
	assert.Same(t, a, change.New)
	checkRib(t, rib)

	assert.Same(t, a, rib.Withdraw(p1.addr, prefix))
	change = rib.RecomputeBest(prefix)
	assert.Equal(t, CHANGE_REMOVED, change.Kind)
	assert.Nil(t, rib.LocRib().Lookup(prefix))
	assert.Equal(t, CHANGE_NONE, rib.RecomputeBest(prefix).Kind)
}

func TestRib_Feasibility(t *testing.T) {
	store := NewAttrStore()
	p1 := testPeerInfo("10.1.0.1", 65001, false)
	p2 := testPeerInfo("10.2.0.1", 65002, false)
	igp := testIGP{p2.addr: 10}
	rib := NewRib(testSelf, DefaultDecisionConfig(), igp)
	prefix := MustParsePrefix("10.0.0.0/8")

	short := testPath(store, "10.0.0.0/8", p1, Attributes{ASPath: CreateASPath(65001), NextHop: p1.addr}, 0)
	long := testPath(store, "10.0.0.0/8", p2, Attributes{ASPath: CreateASPath(65002, 1, 2), NextHop: p2.addr}, 0)
	rib.AddOrReplace(p1.addr, short)
	rib.AddOrReplace(p2.addr, long)
	change := rib.RecomputeBest(prefix)
	assert.Same(t, long, change.New)
	assert.False(t, short.IsFeasible())
	checkRib(t, rib)

	igp[p1.addr] = 5
	change = rib.RecomputeBest(prefix)
	assert.Equal(t, CHANGE_REPLACED, change.Kind)
	assert.Same(t, short, change.New)
	checkRib(t, rib)
}

func TestRib_DropPeer(t *testing.T) {
	store := NewAttrStore()
	p1 := testPeerInfo("10.1.0.1", 65001, false)
	rib := NewRib(testSelf, DefaultDecisionConfig(), nil)
	for _, prefix := range []string{"10.2.0.0/16", "10.1.0.0/16", "10.3.0.0/16"} {
		rib.AddOrReplace(p1.addr, testPath(store, prefix, p1, Attributes{ASPath: CreateASPath(65001), NextHop: p1.addr}, 0))
		rib.RecomputeBest(MustParsePrefix(prefix))
	}
	assert.Equal(t, 3, rib.LocRib().Len())
	dropped := rib.DropPeer(p1.addr)
	require.Len(t, dropped, 3)
	assert.Equal(t, "10.1.0.0/16", dropped[0].Prefix().String())
	assert.Equal(t, 3, len(rib.Prefixes()))
	for _, prefix := range rib.Prefixes() {
		assert.Equal(t, CHANGE_REMOVED, rib.RecomputeBest(prefix).Kind)
	}
	assert.Equal(t, 0, rib.LocRib().Len())
	assert.Empty(t, rib.Prefixes())
	assert.Nil(t, rib.DropPeer(netip.MustParseAddr("10.9.9.9")))
}

func TestAdjRibOut(t *testing.T) {
	store := NewAttrStore()
	out := newAdjRibOut()
	info := testPeerInfo("10.1.0.1", 1, false)
	a := testPath(store, "10.2.0.0/16", info, Attributes{NextHop: info.addr}, 0)
	b := testPath(store, "10.1.0.0/16", info, Attributes{NextHop: info.addr}, 0)
	assert.Nil(t, out.Insert(a))
	assert.Nil(t, out.Insert(b))
	assert.Equal(t, 2, out.Len())
	prefixes := []string{}
	out.Walk(func(p *Path) bool {
		prefixes = append(prefixes, p.Prefix().String())
		return true
	})
	assert.Equal(t, []string{"10.1.0.0/16", "10.2.0.0/16"}, prefixes)
	assert.Same(t, a, out.Drop(a.Prefix()))
	assert.Nil(t, out.Drop(a.Prefix()))
	assert.Len(t, out.Clear(), 1)
	assert.Equal(t, 0, out.Len())
}
