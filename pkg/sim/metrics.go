package sim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/terassyi/bgpsim/pkg/sched"
)

const namespace = "bgpsim"

var (
	descSimulatedSeconds = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "simulated_seconds"),
		"Simulated time of the scheduler.", nil, nil)
	descPendingEvents = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "pending_events"),
		"Events waiting in the scheduler.", nil, nil)
	descIgnoredEvents = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "events_ignored_total"),
		"Events discarded because they were scheduled after the plan was sealed.", nil, nil)
	descAttributes = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "interned_attributes"),
		"Distinct attribute sets held by the attribute store.", nil, nil)
	descLocRibRoutes = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "router", "loc_rib_routes"),
		"Best routes installed in the Loc-RIB.", []string{"router"}, nil)
	descBestPathChanges = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "router", "best_path_changes_total"),
		"Loc-RIB changes made by the decision process.", []string{"router"}, nil)
	descPeerEstablished = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "peer", "established"),
		"1 if the session is established.", []string{"router", "peer"}, nil)
	descPeerReceived = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "peer", "received_routes"),
		"Routes held in the Adj-RIB-In of the peer.", []string{"router", "peer"}, nil)
	descPeerAdvertised = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "peer", "advertised_routes"),
		"Routes held in the Adj-RIB-Out of the peer.", []string{"router", "peer"}, nil)
	descPeerUpdates = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "peer", "updates_total"),
		"UPDATE messages exchanged with the peer.", []string{"router", "peer", "direction"}, nil)
	descPeerResets = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "peer", "resets_total"),
		"Sessions torn down after being up.", []string{"router", "peer"}, nil)
)

type metrics struct {
	dispatched *prometheus.CounterVec
	dropped    prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Events dispatched to routers, by event type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events addressed to an unknown router.",
		}),
	}
}

// collector reads the routing state on every scrape.
type collector struct {
	s *Simulator
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descSimulatedSeconds, descPendingEvents, descIgnoredEvents, descAttributes,
		descLocRibRoutes, descBestPathChanges,
		descPeerEstablished, descPeerReceived, descPeerAdvertised, descPeerUpdates, descPeerResets,
	} {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.s
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ch <- prometheus.MustNewConstMetric(descSimulatedSeconds, prometheus.GaugeValue, s.scheduler.Now().Seconds())
	ch <- prometheus.MustNewConstMetric(descPendingEvents, prometheus.GaugeValue, float64(s.scheduler.Len()))
	ignored := 0
	if st, ok := s.scheduler.(*sched.Static); ok {
		ignored = st.Dropped()
	}
	ch <- prometheus.MustNewConstMetric(descIgnoredEvents, prometheus.CounterValue, float64(ignored))
	ch <- prometheus.MustNewConstMetric(descAttributes, prometheus.GaugeValue, float64(s.store.Len()))
	for _, addr := range s.order {
		r := s.routers[addr]
		router := addr.String()
		ch <- prometheus.MustNewConstMetric(descLocRibRoutes, prometheus.GaugeValue, float64(r.Rib().LocRib().Len()), router)
		ch <- prometheus.MustNewConstMetric(descBestPathChanges, prometheus.CounterValue, float64(r.BestPathChanges()), router)
		for _, p := range r.Peers() {
			peer := p.Address.String()
			established := 0.0
			if p.State == "ESTABLISHED" {
				established = 1
			}
			ch <- prometheus.MustNewConstMetric(descPeerEstablished, prometheus.GaugeValue, established, router, peer)
			ch <- prometheus.MustNewConstMetric(descPeerReceived, prometheus.GaugeValue, float64(p.Received), router, peer)
			ch <- prometheus.MustNewConstMetric(descPeerAdvertised, prometheus.GaugeValue, float64(p.Advertised), router, peer)
			ch <- prometheus.MustNewConstMetric(descPeerUpdates, prometheus.CounterValue, float64(p.UpdatesIn), router, peer, "in")
			ch <- prometheus.MustNewConstMetric(descPeerUpdates, prometheus.CounterValue, float64(p.UpdatesOut), router, peer, "out")
			ch <- prometheus.MustNewConstMetric(descPeerResets, prometheus.CounterValue, float64(p.Resets), router, peer)
		}
	}
}

// RegisterMetrics exposes the simulator to reg.
func (s *Simulator) RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{s.metrics.dispatched, s.metrics.dropped, &collector{s: s}} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
