package bgp

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testIGP map[netip.Addr]uint32

func (g testIGP) Distance(_, to netip.Addr) (uint32, bool) {
	d, ok := g[to]
	return d, ok
}

var testSelf = netip.MustParseAddr("192.0.2.1")

func testPeerInfo(addr string, as uint32, ibgp bool) *peerInfo {
	a := netip.MustParseAddr(addr)
	return &peerInfo{addr: a, routerId: a, as: as, ibgp: ibgp}
}

func testPath(store *AttrStore, prefix string, info *peerInfo, attrs Attributes, received time.Duration) *Path {
	return newPath(MustParsePrefix(prefix), store.Intern(attrs), info, received)
}

func permutations(paths []*Path) [][]*Path {
	if len(paths) <= 1 {
		return [][]*Path{append([]*Path{}, paths...)}
	}
	res := [][]*Path{}
	for i := range paths {
		rest := make([]*Path, 0, len(paths)-1)
		rest = append(rest, paths[:i]...)
		rest = append(rest, paths[i+1:]...)
		for _, p := range permutations(rest) {
			res = append(res, append([]*Path{paths[i]}, p...))
		}
	}
	return res
}

func TestDecide_LocalPrefBeatsPathLength(t *testing.T) {
	store := NewAttrStore()
	long := testPath(store, "10.0.0.0/8", testPeerInfo("10.1.0.1", 65001, false), Attributes{
		ASPath:    CreateASPath(65001, 2, 3, 4, 5),
		NextHop:   netip.MustParseAddr("10.1.0.1"),
		LocalPref: 200,
	}, 0)
	short := testPath(store, "10.0.0.0/8", testPeerInfo("10.2.0.1", 65002, false), Attributes{
		ASPath:    CreateASPath(65002),
		NextHop:   netip.MustParseAddr("10.2.0.1"),
		LocalPref: 100,
	}, 0)
	best, step := Decide(DefaultDecisionConfig(), nil, testSelf, []*Path{short, long})
	assert.Same(t, long, best)
	assert.Equal(t, STEP_LOCAL_PREF, step)
}

func TestDecide_Steps(t *testing.T) {
	nh1 := netip.MustParseAddr("10.1.0.1")
	nh2 := netip.MustParseAddr("10.2.0.1")
	igp := testIGP{nh1: 10, nh2: 20}
	tests := []struct {
		name     string
		a, b     Attributes
		aInfo    *peerInfo
		bInfo    *peerInfo
		aRecv    time.Duration
		bRecv    time.Duration
		winner   string
		step     DecisionStep
		alwayMED bool
	}{
		{
			name:   "as path length",
			a:      Attributes{ASPath: CreateASPath(1, 2), NextHop: nh1, LocalPref: 100},
			b:      Attributes{ASPath: CreateASPath(3), NextHop: nh2, LocalPref: 100},
			aInfo:  testPeerInfo("10.1.0.1", 1, false),
			bInfo:  testPeerInfo("10.2.0.1", 3, false),
			winner: "b",
			step:   STEP_AS_PATH_LENGTH,
		},
		{
			name:   "origin",
			a:      Attributes{Origin: ORIGIN_INCOMPLETE, ASPath: CreateASPath(1), NextHop: nh1},
			b:      Attributes{Origin: ORIGIN_EGP, ASPath: CreateASPath(3), NextHop: nh2},
			aInfo:  testPeerInfo("10.1.0.1", 1, false),
			bInfo:  testPeerInfo("10.2.0.1", 3, false),
			winner: "b",
			step:   STEP_ORIGIN,
		},
		{
			name:   "med from the same neighbor AS",
			a:      Attributes{ASPath: CreateASPath(1, 7), NextHop: nh1, MED: 5},
			b:      Attributes{ASPath: CreateASPath(1, 8), NextHop: nh2, MED: 50},
			aInfo:  testPeerInfo("10.1.0.1", 1, false),
			bInfo:  testPeerInfo("10.2.0.1", 1, false),
			winner: "a",
			step:   STEP_MED,
		},
		{
			name:   "med ignored across neighbor AS",
			a:      Attributes{ASPath: CreateASPath(1), NextHop: nh1, MED: 50},
			b:      Attributes{ASPath: CreateASPath(2), NextHop: nh2, MED: 5},
			aInfo:  testPeerInfo("10.1.0.1", 1, false),
			bInfo:  testPeerInfo("10.2.0.1", 2, false),
			winner: "a",
			step:   STEP_IGP_DISTANCE,
		},
		{
			name:     "always compare med",
			a:        Attributes{ASPath: CreateASPath(1), NextHop: nh1, MED: 50},
			b:        Attributes{ASPath: CreateASPath(2), NextHop: nh2, MED: 5},
			aInfo:    testPeerInfo("10.1.0.1", 1, false),
			bInfo:    testPeerInfo("10.2.0.1", 2, false),
			winner:   "b",
			step:     STEP_MED,
			alwayMED: true,
		},
		{
			name:   "ebgp over ibgp",
			a:      Attributes{ASPath: CreateASPath(1), NextHop: nh1},
			b:      Attributes{ASPath: CreateASPath(2), NextHop: nh2},
			aInfo:  testPeerInfo("10.1.0.1", 65000, true),
			bInfo:  testPeerInfo("10.2.0.1", 2, false),
			winner: "b",
			step:   STEP_EBGP_OVER_IBGP,
		},
		{
			name:   "oldest",
			a:      Attributes{ASPath: CreateASPath(1), NextHop: nh1},
			b:      Attributes{ASPath: CreateASPath(2), NextHop: nh1},
			aInfo:  testPeerInfo("10.1.0.1", 1, false),
			bInfo:  testPeerInfo("10.2.0.1", 2, false),
			aRecv:  5 * time.Second,
			bRecv:  time.Second,
			winner: "b",
			step:   STEP_OLDEST,
		},
		{
			name:   "router id",
			a:      Attributes{ASPath: CreateASPath(1), NextHop: nh1},
			b:      Attributes{ASPath: CreateASPath(2), NextHop: nh1},
			aInfo:  &peerInfo{addr: netip.MustParseAddr("10.1.0.1"), routerId: netip.MustParseAddr("1.1.1.1"), as: 1},
			bInfo:  &peerInfo{addr: netip.MustParseAddr("10.2.0.1"), routerId: netip.MustParseAddr("2.2.2.2"), as: 2},
			winner: "a",
			step:   STEP_ROUTER_ID,
		},
		{
			name:   "peer address",
			a:      Attributes{ASPath: CreateASPath(1), NextHop: nh1},
			b:      Attributes{ASPath: CreateASPath(2), NextHop: nh1},
			aInfo:  &peerInfo{addr: netip.MustParseAddr("10.2.0.1"), routerId: netip.MustParseAddr("1.1.1.1"), as: 1},
			bInfo:  &peerInfo{addr: netip.MustParseAddr("10.1.0.1"), routerId: netip.MustParseAddr("1.1.1.1"), as: 2},
			winner: "b",
			step:   STEP_PEER_ADDRESS,
		},
	}
	t.Parallel()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			store := NewAttrStore()
			a := testPath(store, "10.0.0.0/8", tt.aInfo, tt.a, tt.aRecv)
			b := testPath(store, "10.0.0.0/8", tt.bInfo, tt.b, tt.bRecv)
			conf := DefaultDecisionConfig()
			conf.AlwaysCompareMED = tt.alwayMED
			best, step := Decide(conf, igp, testSelf, []*Path{a, b})
			exp := a
			if tt.winner == "b" {
				exp = b
			}
			assert.Same(t, exp, best)
			assert.Equal(t, tt.step, step)
		})
	}
}

func TestDecide_OrderIndependent(t *testing.T) {
	store := NewAttrStore()
	nh := map[string]netip.Addr{
		"a": netip.MustParseAddr("10.1.0.1"),
		"b": netip.MustParseAddr("10.2.0.1"),
		"c": netip.MustParseAddr("10.3.0.1"),
		"d": netip.MustParseAddr("10.4.0.1"),
	}
	igp := testIGP{nh["a"]: 5, nh["b"]: 10, nh["c"]: 15, nh["d"]: 5}
	// MED only separates a from c, the IGP cost separates the rest.
	paths := []*Path{
		testPath(store, "10.0.0.0/8", testPeerInfo("10.1.0.1", 1, false), Attributes{ASPath: CreateASPath(1, 9), NextHop: nh["a"], MED: 100}, 0),
		testPath(store, "10.0.0.0/8", testPeerInfo("10.2.0.1", 2, false), Attributes{ASPath: CreateASPath(2, 9), NextHop: nh["b"], MED: 150}, 0),
		testPath(store, "10.0.0.0/8", testPeerInfo("10.3.0.1", 1, false), Attributes{ASPath: CreateASPath(1, 9), NextHop: nh["c"], MED: 50}, 0),
		testPath(store, "10.0.0.0/8", testPeerInfo("10.4.0.1", 65000, true), Attributes{ASPath: CreateASPath(3, 9), NextHop: nh["d"]}, 0),
	}
	first, firstStep := Decide(DefaultDecisionConfig(), igp, testSelf, paths)
	require.NotNil(t, first)
	for _, perm := range permutations(paths) {
		best, step := Decide(DefaultDecisionConfig(), igp, testSelf, perm)
		assert.Same(t, first, best)
		assert.Equal(t, firstStep, step)
	}
	assert.Same(t, paths[1], first)
}

func TestDecide_Trivial(t *testing.T) {
	store := NewAttrStore()
	best, step := Decide(DefaultDecisionConfig(), nil, testSelf, nil)
	assert.Nil(t, best)
	assert.Equal(t, STEP_NOT_COMPARED, step)
	only := testPath(store, "10.0.0.0/8", testPeerInfo("10.1.0.1", 1, false), Attributes{NextHop: netip.MustParseAddr("10.1.0.1")}, 0)
	best, step = Decide(DefaultDecisionConfig(), nil, testSelf, []*Path{only})
	assert.Same(t, only, best)
	assert.Equal(t, STEP_ONLY_PATH, step)
}

func TestDecide_Exhausted(t *testing.T) {
	store := NewAttrStore()
	info := testPeerInfo("10.1.0.1", 1, false)
	a := testPath(store, "10.0.0.0/8", info, Attributes{NextHop: netip.MustParseAddr("10.1.0.1")}, 0)
	b := testPath(store, "10.0.0.0/8", info, Attributes{NextHop: netip.MustParseAddr("10.1.0.1")}, 0)
	conf := &DecisionConfig{Steps: []DecisionStep{STEP_LOCAL_PREF}}
	assert.Panics(t, func() { Decide(conf, nil, testSelf, []*Path{a, b}) })
}

func TestDecisionConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		steps   []DecisionStep
		wantErr bool
	}{
		{name: "default", steps: DefaultDecisionConfig().Steps},
		{name: "peer address only", steps: []DecisionStep{STEP_PEER_ADDRESS}},
		{name: "empty", steps: nil, wantErr: true},
		{name: "duplicated", steps: []DecisionStep{STEP_MED, STEP_MED, STEP_PEER_ADDRESS}, wantErr: true},
		{name: "no tie break", steps: []DecisionStep{STEP_LOCAL_PREF, STEP_ROUTER_ID}, wantErr: true},
		{name: "unknown", steps: []DecisionStep{DecisionStep(100), STEP_PEER_ADDRESS}, wantErr: true},
	}
	t.Parallel()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := (&DecisionConfig{Steps: tt.steps}).Validate()
			if tt.wantErr {
				var confErr *ConfigError
				assert.ErrorAs(t, err, &confErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseDecisionStep(t *testing.T) {
	for _, s := range DefaultDecisionConfig().Steps {
		step, err := ParseDecisionStep(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, step)
	}
	_, err := ParseDecisionStep("weight")
	assert.Error(t, err)
}
