package sim

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/terassyi/bgpsim/pkg/bgp"
	"github.com/terassyi/bgpsim/pkg/log"
	"github.com/terassyi/bgpsim/pkg/network"
	"github.com/terassyi/bgpsim/pkg/sched"
)

var (
	ErrRouterNotFound          = errors.New("router is not found")
	ErrRouterAlreadyRegistered = errors.New("router is already registered")
	ErrNoNetwork               = errors.New("no network model is configured")
)

type Options struct {
	Scheduler sched.Kind
	Overflow  sched.Overflow
	Decision  *bgp.DecisionConfig
	// Network is optional. Without it every next hop is reachable at cost zero.
	Network *network.Static
	Logger  log.Logger
}

// Simulator owns the routers, the shared attribute store and the scheduler driving them.
// Every exported method is serialized on the simulator lock.
type Simulator struct {
	mutex     sync.Mutex
	store     *bgp.AttrStore
	scheduler sched.Scheduler
	network   *network.Static
	decision  *bgp.DecisionConfig
	routers   map[netip.Addr]*bgp.Router
	order     []netip.Addr
	logger    log.Logger
	until     sched.StopCondition
	metrics   *metrics
}

func New(opts Options) (*Simulator, error) {
	scheduler, err := sched.New(opts.Scheduler, opts.Overflow)
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger, err = log.New(log.NoLog, "")
		if err != nil {
			return nil, err
		}
	}
	logger = logger.With()
	logger.SetClock(scheduler.Now)
	return &Simulator{
		store:     bgp.NewAttrStore(),
		scheduler: scheduler,
		network:   opts.Network,
		decision:  opts.Decision,
		routers:   make(map[netip.Addr]*bgp.Router),
		logger:    logger,
		metrics:   newMetrics(),
	}, nil
}

// command runs f under the simulator lock and turns a panic into an error.
func (s *Simulator) command(name string, f func() error) (err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Err("%s panicked: %v", name, r)
			if e, ok := r.(error); ok {
				err = fmt.Errorf("%s: %w", name, e)
				return
			}
			err = fmt.Errorf("%s: %v", name, r)
		}
	}()
	if err := f(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (s *Simulator) router(addr netip.Addr) (*bgp.Router, error) {
	r, ok := s.routers[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRouterNotFound, addr)
	}
	return r, nil
}

func (s *Simulator) peer(router, peer netip.Addr) (*bgp.Router, error) {
	r, err := s.router(router)
	if err != nil {
		return nil, err
	}
	if !r.HasPeer(peer) {
		return nil, fmt.Errorf("%w: %s on router %s", bgp.ErrPeerNotFound, peer, router)
	}
	return r, nil
}

func (s *Simulator) post(router netip.Addr, evt bgp.Event) error {
	id, err := s.scheduler.Schedule(router.String(), evt, 0)
	if err != nil {
		return err
	}
	if id == 0 {
		s.logger.Warn("Dropped %s for %s: static plan is sealed", bgp.EventString(evt), router)
	}
	return nil
}

func (s *Simulator) Now() time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.scheduler.Now()
}

func (s *Simulator) Pending() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.scheduler.Len()
}

// Seal freezes the plan of a static scheduler. It is a no-op for the dynamic one.
func (s *Simulator) Seal() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if st, ok := s.scheduler.(*sched.Static); ok {
		st.Seal()
	}
}

func (s *Simulator) AddRouter(conf *bgp.RouterConfig) error {
	return s.command("AddRouter", func() error {
		return s.addRouter(conf)
	})
}

func (s *Simulator) addRouter(conf *bgp.RouterConfig) error {
	if _, ok := s.routers[conf.Address]; ok {
		return fmt.Errorf("%w: %s", ErrRouterAlreadyRegistered, conf.Address)
	}
	if conf.Decision == nil {
		conf.Decision = s.decision
	}
	var igp bgp.IGP
	if s.network != nil {
		s.network.AddNode(conf.Address)
		igp = s.network
	}
	r, err := bgp.NewRouter(conf, s.store, s.scheduler, igp, s.logger)
	if err != nil {
		return err
	}
	s.routers[conf.Address] = r
	s.order = append(s.order, conf.Address)
	sort.Slice(s.order, func(i, j int) bool { return s.order[i].Less(s.order[j]) })
	return nil
}

func (s *Simulator) AddPeer(router netip.Addr, conf *bgp.PeerConfig) error {
	return s.command("AddPeer", func() error {
		r, err := s.router(router)
		if err != nil {
			return err
		}
		return r.AddPeer(conf)
	})
}

func (s *Simulator) StartSession(router, peer netip.Addr) error {
	return s.command("StartSession", func() error {
		if _, err := s.peer(router, peer); err != nil {
			return err
		}
		return s.post(router, bgp.NewStartEvent(peer))
	})
}

func (s *Simulator) StopSession(router, peer netip.Addr) error {
	return s.command("StopSession", func() error {
		if _, err := s.peer(router, peer); err != nil {
			return err
		}
		return s.post(router, bgp.NewStopEvent(peer))
	})
}

// ExpireHoldTimer simulates the loss of every keepalive from peer.
func (s *Simulator) ExpireHoldTimer(router, peer netip.Addr) error {
	return s.command("ExpireHoldTimer", func() error {
		if _, err := s.peer(router, peer); err != nil {
			return err
		}
		return s.post(router, bgp.NewHoldTimerExpiredEvent(peer))
	})
}

func (s *Simulator) Originate(router netip.Addr, prefix netip.Prefix) error {
	return s.command("Originate", func() error {
		if _, err := s.router(router); err != nil {
			return err
		}
		if prefix != prefix.Masked() {
			return fmt.Errorf("%w: %s", bgp.ErrInvalidPrefix, prefix)
		}
		return s.post(router, bgp.NewOriginateEvent(prefix))
	})
}

func (s *Simulator) WithdrawOrigin(router netip.Addr, prefix netip.Prefix) error {
	return s.command("WithdrawOrigin", func() error {
		if _, err := s.router(router); err != nil {
			return err
		}
		return s.post(router, bgp.NewWithdrawOriginEvent(prefix))
	})
}

// Inject places a route into router immediately, as a local route when from is the router itself
// or as received from the peer from.
func (s *Simulator) Inject(router, from netip.Addr, prefix netip.Prefix, attrs bgp.Attributes) error {
	return s.command("Inject", func() error {
		r, err := s.router(router)
		if err != nil {
			return err
		}
		if prefix != prefix.Masked() {
			return fmt.Errorf("%w: %s", bgp.ErrInvalidPrefix, prefix)
		}
		if !from.IsValid() {
			from = router
		}
		return r.Inject(from, prefix, attrs)
	})
}

// SetLinkCost changes the IGP cost of a link and makes every router rerun its decisions.
func (s *Simulator) SetLinkCost(a, b netip.Addr, cost uint32) error {
	return s.command("SetLinkCost", func() error {
		if s.network == nil {
			return ErrNoNetwork
		}
		if err := s.network.SetLinkCost(a, b, cost); err != nil {
			return err
		}
		return s.rescanAll()
	})
}

func (s *Simulator) SetLinkState(a, b netip.Addr, up bool) error {
	return s.command("SetLinkState", func() error {
		if s.network == nil {
			return ErrNoNetwork
		}
		if err := s.network.SetLinkState(a, b, up); err != nil {
			return err
		}
		return s.rescanAll()
	})
}

// Rescan reruns the decision process of router, or of every router when router is invalid.
func (s *Simulator) Rescan(router netip.Addr) error {
	return s.command("Rescan", func() error {
		if !router.IsValid() {
			return s.rescanAll()
		}
		if _, err := s.router(router); err != nil {
			return err
		}
		return s.post(router, bgp.NewRescanEvent())
	})
}

func (s *Simulator) rescanAll() error {
	for _, addr := range s.order {
		if err := s.post(addr, bgp.NewRescanEvent()); err != nil {
			return err
		}
	}
	return nil
}

// SetStopCondition sets the condition used by Run when none is given.
func (s *Simulator) SetStopCondition(until sched.StopCondition) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.until = until
}

// Run dispatches events until until holds or the queue drains.
func (s *Simulator) Run(until sched.StopCondition) (sched.Stats, error) {
	var stats sched.Stats
	err := s.command("Run", func() error {
		if until == nil {
			until = s.until
		}
		var err error
		stats, err = sched.Run(s.scheduler, s.dispatch, until)
		s.logger.Info("Run dispatched %d events, %d pending", stats.Dispatched, stats.Remaining)
		return err
	})
	return stats, err
}

func (s *Simulator) dispatch(e *sched.Event) error {
	evt, ok := e.Payload.(bgp.Event)
	if !ok {
		return fmt.Errorf("%w: %T", bgp.ErrInvalidEventType, e.Payload)
	}
	addr, err := netip.ParseAddr(e.Target)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	r, ok := s.routers[addr]
	if !ok {
		s.metrics.dropped.Inc()
		s.logger.Warn("Drop %s: router %s is not found", bgp.EventString(evt), addr)
		if back, to, ok := bgp.Undeliverable(s.store, addr, evt); ok {
			if _, err := s.scheduler.Schedule(to.String(), back, bgp.DEFAULT_MESSAGE_DELAY); err != nil {
				s.logger.Warn("Failed to bounce %s: %s", bgp.EventString(evt), err)
			}
		}
		return nil
	}
	s.metrics.dispatched.WithLabelValues(bgp.EventType(evt)).Inc()
	if err := r.HandleEvent(evt); err != nil {
		s.logger.Err("Router %s failed to handle %s: %s", addr, bgp.EventString(evt), err)
	}
	return nil
}

func (s *Simulator) BestRoutes(router netip.Addr) ([]RouteInfo, error) {
	var res []RouteInfo
	err := s.command("BestRoutes", func() error {
		r, err := s.router(router)
		if err != nil {
			return err
		}
		res = routeInfos(router.String(), r.BestRoutes())
		return nil
	})
	return res, err
}

// RibDump returns every candidate of prefix, or of every prefix when prefix is invalid.
func (s *Simulator) RibDump(router netip.Addr, prefix netip.Prefix) ([]RouteInfo, error) {
	var res []RouteInfo
	err := s.command("RibDump", func() error {
		r, err := s.router(router)
		if err != nil {
			return err
		}
		res = routeInfos(router.String(), r.RibIn(prefix))
		return nil
	})
	return res, err
}

func (s *Simulator) AdjRibOut(router, peer netip.Addr) ([]RouteInfo, error) {
	var res []RouteInfo
	err := s.command("AdjRibOut", func() error {
		r, err := s.router(router)
		if err != nil {
			return err
		}
		paths, err := r.AdjRibOut(peer)
		if err != nil {
			return err
		}
		res = routeInfos(router.String(), paths)
		return nil
	})
	return res, err
}

func (s *Simulator) Peers(router netip.Addr) ([]PeerInfo, error) {
	var res []PeerInfo
	err := s.command("Peers", func() error {
		r, err := s.router(router)
		if err != nil {
			return err
		}
		for _, status := range r.Peers() {
			res = append(res, newPeerInfo(router.String(), status))
		}
		return nil
	})
	return res, err
}

// Routers returns the addresses of every router in order.
func (s *Simulator) Routers() []netip.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]netip.Addr{}, s.order...)
}

func (s *Simulator) Snapshot() (*Snapshot, error) {
	var snap *Snapshot
	err := s.command("Snapshot", func() error {
		snap = &Snapshot{
			Time:       s.scheduler.Now(),
			Pending:    s.scheduler.Len(),
			Attributes: s.store.Len(),
			Routers:    make([]RouterInfo, 0, len(s.order)),
		}
		for _, addr := range s.order {
			r := s.routers[addr]
			info := RouterInfo{
				Address: addr.String(),
				AS:      r.AS(),
				Routes:  routeInfos(addr.String(), r.BestRoutes()),
				Peers:   []PeerInfo{},
			}
			for _, status := range r.Peers() {
				info.Peers = append(info.Peers, newPeerInfo(addr.String(), status))
			}
			snap.Routers = append(snap.Routers, info)
		}
		return nil
	})
	return snap, err
}
