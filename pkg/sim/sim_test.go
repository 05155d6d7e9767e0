package sim

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terassyi/bgpsim/pkg/bgp"
	"github.com/terassyi/bgpsim/pkg/config"
	"github.com/terassyi/bgpsim/pkg/sched"
	"gopkg.in/yaml.v3"
)

const chainTopology = `log:
  level: 0
simulation:
  scheduler: %s
routers:
  - address: 10.0.0.1
    as: 100
    networks: [192.168.1.0/24]
    peers:
      - {address: 10.0.0.2, as: 200}
  - address: 10.0.0.2
    as: 200
    peers:
      - {address: 10.0.0.1, as: 100}
      - {address: 10.0.0.3, as: 300}
  - address: 10.0.0.3
    as: 300
    peers:
      - {address: 10.0.0.2, as: 200}
`

func loadTopology(t *testing.T, data string) *config.Config {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	conf, err := config.Load(path)
	require.NoError(t, err)
	return conf
}

func addr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func TestSimulator_Chain(t *testing.T) {
	for _, scheduler := range []string{"dynamic", "static"} {
		scheduler := scheduler
		t.Run(scheduler, func(t *testing.T) {
			s, err := FromConfig(loadTopology(t, fmt.Sprintf(chainTopology, scheduler)), nil)
			require.NoError(t, err)
			_, err = s.Run(sched.Never())
			require.NoError(t, err)

			routes, err := s.BestRoutes(addr("10.0.0.3"))
			require.NoError(t, err)
			require.Len(t, routes, 1)
			assert.Equal(t, "192.168.1.0/24", routes[0].Prefix)
			assert.Equal(t, "200 100", routes[0].ASPath)
			assert.Equal(t, "10.0.0.2", routes[0].NextHop)
			assert.True(t, routes[0].Best)
			assert.Equal(t, "only-path", routes[0].Reason)

			peers, err := s.Peers(addr("10.0.0.2"))
			require.NoError(t, err)
			require.Len(t, peers, 2)
			for _, p := range peers {
				assert.Equal(t, "ESTABLISHED", p.State)
			}

			out, err := s.AdjRibOut(addr("10.0.0.2"), addr("10.0.0.3"))
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, "200 100", out[0].ASPath)

			snap, err := s.Snapshot()
			require.NoError(t, err)
			assert.Len(t, snap.Routers, 3)
			assert.Equal(t, 0, snap.Pending)
			_, err = yaml.Marshal(snap)
			assert.NoError(t, err)
		})
	}
}

func TestSimulator_Commands(t *testing.T) {
	s, err := FromConfig(loadTopology(t, fmt.Sprintf(chainTopology, "dynamic")), nil)
	require.NoError(t, err)
	_, err = s.Run(nil)
	require.NoError(t, err)

	require.NoError(t, s.Originate(addr("10.0.0.3"), netip.MustParsePrefix("192.168.3.0/24")))
	_, err = s.Run(nil)
	require.NoError(t, err)
	routes, err := s.BestRoutes(addr("10.0.0.1"))
	require.NoError(t, err)
	assert.Len(t, routes, 2)

	require.NoError(t, s.StopSession(addr("10.0.0.2"), addr("10.0.0.3")))
	_, err = s.Run(nil)
	require.NoError(t, err)
	routes, err = s.BestRoutes(addr("10.0.0.1"))
	require.NoError(t, err)
	assert.Len(t, routes, 1)
	peers, err := s.Peers(addr("10.0.0.3"))
	require.NoError(t, err)
	assert.Equal(t, "IDLE", peers[0].State)

	require.NoError(t, s.StartSession(addr("10.0.0.2"), addr("10.0.0.3")))
	require.NoError(t, s.StartSession(addr("10.0.0.3"), addr("10.0.0.2")))
	_, err = s.Run(nil)
	require.NoError(t, err)
	routes, err = s.BestRoutes(addr("10.0.0.1"))
	require.NoError(t, err)
	assert.Len(t, routes, 2)

	require.NoError(t, s.ExpireHoldTimer(addr("10.0.0.1"), addr("10.0.0.2")))
	_, err = s.Run(nil)
	require.NoError(t, err)
	routes, err = s.BestRoutes(addr("10.0.0.3"))
	require.NoError(t, err)
	assert.Len(t, routes, 1)
	assert.Equal(t, "192.168.3.0/24", routes[0].Prefix)

	rib, err := s.RibDump(addr("10.0.0.2"), netip.Prefix{})
	require.NoError(t, err)
	assert.Len(t, rib, 1)

	require.NoError(t, s.WithdrawOrigin(addr("10.0.0.3"), netip.MustParsePrefix("192.168.3.0/24")))
	_, err = s.Run(nil)
	require.NoError(t, err)
	routes, err = s.BestRoutes(addr("10.0.0.2"))
	require.NoError(t, err)
	assert.Empty(t, routes)

	_, err = s.BestRoutes(addr("10.9.9.9"))
	assert.ErrorIs(t, err, ErrRouterNotFound)
	assert.ErrorIs(t, s.StartSession(addr("10.0.0.1"), addr("10.0.0.3")), bgp.ErrPeerNotFound)
	assert.ErrorIs(t, s.SetLinkCost(addr("10.0.0.1"), addr("10.0.0.2"), 1), ErrNoNetwork)
	assert.ErrorIs(t, s.Originate(addr("10.0.0.1"), netip.MustParsePrefix("192.168.1.1/24")), bgp.ErrInvalidPrefix)
}

func TestSimulator_IGPDistance(t *testing.T) {
	s, err := FromConfig(loadTopology(t, `routers:
  - address: 10.0.0.1
    as: 100
    peers:
      - {address: 10.0.0.2, as: 100}
      - {address: 10.0.0.3, as: 100}
  - address: 10.0.0.2
    as: 100
    networks: [10.9.0.0/16]
    peers:
      - {address: 10.0.0.1, as: 100}
  - address: 10.0.0.3
    as: 100
    networks: [10.9.0.0/16]
    peers:
      - {address: 10.0.0.1, as: 100}
network:
  links:
    - {a: 10.0.0.1, b: 10.0.0.2, cost: 10}
    - {a: 10.0.0.1, b: 10.0.0.3, cost: 5}
`), nil)
	require.NoError(t, err)
	_, err = s.Run(nil)
	require.NoError(t, err)

	routes, err := s.BestRoutes(addr("10.0.0.1"))
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "10.0.0.3", routes[0].NextHop)
	assert.Equal(t, "igp-distance", routes[0].Reason)

	require.NoError(t, s.SetLinkCost(addr("10.0.0.3"), addr("10.0.0.1"), 50))
	_, err = s.Run(nil)
	require.NoError(t, err)
	routes, err = s.BestRoutes(addr("10.0.0.1"))
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "10.0.0.2", routes[0].NextHop)

	require.NoError(t, s.SetLinkState(addr("10.0.0.1"), addr("10.0.0.2"), false))
	_, err = s.Run(nil)
	require.NoError(t, err)
	rib, err := s.RibDump(addr("10.0.0.1"), netip.MustParsePrefix("10.9.0.0/16"))
	require.NoError(t, err)
	require.Len(t, rib, 2)
	for _, r := range rib {
		if r.NextHop == "10.0.0.2" {
			assert.False(t, r.Feasible)
		} else {
			assert.True(t, r.Best)
		}
	}
}

func TestSimulator_StaticReject(t *testing.T) {
	s, err := FromConfig(loadTopology(t, `simulation:
  scheduler: static
  overflow: reject
routers:
  - address: 10.0.0.1
    as: 100
`), nil)
	require.NoError(t, err)
	err = s.Originate(addr("10.0.0.1"), netip.MustParsePrefix("192.168.1.0/24"))
	assert.ErrorIs(t, err, sched.ErrPlanSealed)
}

func TestSimulator_Inject(t *testing.T) {
	s, err := FromConfig(loadTopology(t, `routers:
  - address: 10.0.0.1
    as: 100
    as-loop: discard
    peers:
      - {address: 10.0.0.2, as: 200, start: false}
  - address: 10.0.0.2
    as: 200
routes:
  - {router: 10.0.0.1, peer: 10.0.0.2, prefix: 172.16.0.0/16, as-path: "200 400", communities: ["65000:1", "rt:65000:10"]}
  - {router: 10.0.0.1, peer: 10.0.0.2, prefix: 172.17.0.0/16, as-path: "200 100"}
  - {router: 10.0.0.1, prefix: 172.18.0.0/16, local-pref: 300, origin: egp}
`), nil)
	require.NoError(t, err)
	routes, err := s.BestRoutes(addr("10.0.0.1"))
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, "172.16.0.0/16", routes[0].Prefix)
	assert.Equal(t, []string{"65000:1"}, routes[0].Communities)
	assert.Len(t, routes[0].ExtCommunities, 1)
	assert.Equal(t, uint32(bgp.DEFAULT_LOCAL_PREF), routes[0].LocalPref)
	assert.Equal(t, "172.18.0.0/16", routes[1].Prefix)
	assert.Equal(t, uint32(300), routes[1].LocalPref)
	assert.True(t, routes[1].Local)

	require.NoError(t, s.Inject(addr("10.0.0.2"), netip.Addr{}, netip.MustParsePrefix("10.2.0.0/16"), bgp.Attributes{}))
	routes, err = s.BestRoutes(addr("10.0.0.2"))
	require.NoError(t, err)
	assert.Len(t, routes, 1)
}

func TestFromConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "unknown filter", data: "routers:\n  - address: 10.0.0.1\n    as: 1\n    peers:\n      - {address: 10.0.0.2, as: 2, import: nothing}\n"},
		{name: "bad predicate", data: "filters:\n  - name: f\n    rules:\n      - {match: \"prefix in\", action: permit}\nrouters: []\n"},
		{name: "duplicated router", data: "routers:\n  - {address: 10.0.0.1, as: 1}\n  - {address: 10.0.0.1, as: 2}\n"},
		{name: "bad network", data: "routers:\n  - {address: 10.0.0.1, as: 1, networks: [10.0.0.1/8]}\n"},
		{name: "short hold time", data: "routers:\n  - address: 10.0.0.1\n    as: 1\n    peers:\n      - {address: 10.0.0.2, as: 2, hold-time: 1s}\n"},
		{name: "link to unknown router", data: "routers:\n  - {address: 10.0.0.1, as: 1}\nnetwork:\n  links:\n    - {a: 10.0.0.1, b: 10.0.0.9, cost: 1}\n"},
		{name: "route from unknown peer", data: "routers:\n  - {address: 10.0.0.1, as: 1}\nroutes:\n  - {router: 10.0.0.1, peer: 10.0.0.2, prefix: 10.1.0.0/16}\n"},
		{name: "bad scheduler", data: "simulation:\n  scheduler: parallel\nrouters: []\n"},
		{name: "decision without tie break", data: "simulation:\n  decision:\n    steps: [local-pref]\nrouters: []\n"},
		{name: "missing AS", data: "routers:\n  - {address: 10.0.0.1}\n"},
	}
	t.Parallel()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s, err := FromConfig(loadTopology(t, tt.data), nil)
			assert.Nil(t, s)
			var confErr *bgp.ConfigError
			assert.True(t, errors.As(err, &confErr), "%v", err)
		})
	}
}

func TestSimulator_RecoverPanic(t *testing.T) {
	s, err := New(Options{})
	require.NoError(t, err)
	err = s.command("Broken", func() error {
		panic(bgp.ErrDecisionExhausted)
	})
	assert.ErrorIs(t, err, bgp.ErrDecisionExhausted)
	// the lock is released after a panic
	assert.Empty(t, s.Routers())
}
