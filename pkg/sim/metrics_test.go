package sim

import (
	"fmt"
	"net/netip"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terassyi/bgpsim/pkg/sched"
)

func TestSimulator_Metrics(t *testing.T) {
	s, err := FromConfig(loadTopology(t, fmt.Sprintf(chainTopology, "dynamic")), nil)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	require.NoError(t, s.RegisterMetrics(reg))
	assert.Error(t, s.RegisterMetrics(reg))

	_, err = s.Run(sched.Never())
	require.NoError(t, err)

	want := `
# HELP bgpsim_router_loc_rib_routes Best routes installed in the Loc-RIB.
# TYPE bgpsim_router_loc_rib_routes gauge
bgpsim_router_loc_rib_routes{router="10.0.0.1"} 1
bgpsim_router_loc_rib_routes{router="10.0.0.2"} 1
bgpsim_router_loc_rib_routes{router="10.0.0.3"} 1
# HELP bgpsim_pending_events Events waiting in the scheduler.
# TYPE bgpsim_pending_events gauge
bgpsim_pending_events 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want),
		"bgpsim_router_loc_rib_routes", "bgpsim_pending_events"))

	assert.Equal(t, float64(4), testutil.ToFloat64(s.metrics.dispatched.WithLabelValues("BGP start")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.dispatched.WithLabelValues("Originate network")))
	assert.Less(t, float64(0), testutil.ToFloat64(s.metrics.dispatched.WithLabelValues("Receive update message")))
	assert.Equal(t, float64(0), testutil.ToFloat64(s.metrics.dropped))

	families, err := reg.Gather()
	require.NoError(t, err)
	established := 0.0
	for _, f := range families {
		if f.GetName() != "bgpsim_peer_established" {
			continue
		}
		for _, m := range f.GetMetric() {
			established += m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(4), established)
}

func TestSimulator_MetricsIgnoredEvents(t *testing.T) {
	s, err := FromConfig(loadTopology(t, `simulation:
  scheduler: static
  overflow: ignore
routers:
  - address: 10.0.0.1
    as: 100
`), nil)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	require.NoError(t, s.RegisterMetrics(reg))

	require.NoError(t, s.Originate(addr("10.0.0.1"), netip.MustParsePrefix("192.168.1.0/24")))
	require.NoError(t, s.Originate(addr("10.0.0.1"), netip.MustParsePrefix("192.168.2.0/24")))

	want := `
# HELP bgpsim_events_ignored_total Events discarded because they were scheduled after the plan was sealed.
# TYPE bgpsim_events_ignored_total counter
bgpsim_events_ignored_total 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want), "bgpsim_events_ignored_total"))
}
