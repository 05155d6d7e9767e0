package bgp

import (
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/terassyi/bgpsim/pkg/log"
	"github.com/terassyi/bgpsim/pkg/sched"
)

// Router is one simulated BGP speaker. It only ever changes in response to events
// dispatched by the scheduler, one at a time.
type Router struct {
	address   netip.Addr
	as        uint32
	clusterId netip.Addr
	localPref uint32
	asLoop    LoopPolicy
	info      *peerInfo
	peers     map[netip.Addr]*peer
	peerOrder []netip.Addr
	rib       *Rib
	store     *AttrStore
	scheduler sched.Scheduler
	logger    log.Logger
	changes   int
}

// NewRouter builds a router. igp may be nil, in which case every next hop is reachable at cost zero.
func NewRouter(conf *RouterConfig, store *AttrStore, scheduler sched.Scheduler, igp IGP, logger log.Logger) (*Router, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	decision := conf.Decision
	if decision == nil {
		decision = DefaultDecisionConfig()
	}
	clusterId := conf.ClusterID
	if !clusterId.IsValid() {
		clusterId = conf.Address
	}
	localPref := conf.LocalPref
	if localPref == 0 {
		localPref = DEFAULT_LOCAL_PREF
	}
	l := logger.With()
	l.SetProtocol("bgp")
	l.Set("router", conf.Address.String())
	return &Router{
		address:   conf.Address,
		as:        conf.AS,
		clusterId: clusterId,
		localPref: localPref,
		asLoop:    conf.ASLoop,
		info: &peerInfo{
			addr:     conf.Address,
			routerId: conf.Address,
			as:       conf.AS,
			local:    true,
		},
		peers:     make(map[netip.Addr]*peer),
		rib:       NewRib(conf.Address, decision, igp),
		store:     store,
		scheduler: scheduler,
		logger:    l,
	}, nil
}

func (r *Router) Address() netip.Addr {
	return r.address
}

func (r *Router) AS() uint32 {
	return r.as
}

func (r *Router) Rib() *Rib {
	return r.rib
}

// BestPathChanges counts every Loc-RIB change since the router was created.
func (r *Router) BestPathChanges() int {
	return r.changes
}

func (r *Router) Logger() log.Logger {
	return r.logger
}

// AddPeer registers a session. It starts in Idle.
func (r *Router) AddPeer(conf *PeerConfig) error {
	if err := conf.Validate(&RouterConfig{Address: r.address, AS: r.as}); err != nil {
		return err
	}
	if _, ok := r.peers[conf.Address]; ok {
		return &ConfigError{Object: fmt.Sprintf("router %s peer %s", r.address, conf.Address), Err: ErrPeerAlreadyRegistered}
	}
	p := newPeer(r, conf)
	r.peers[conf.Address] = p
	r.peerOrder = append(r.peerOrder, conf.Address)
	sort.Slice(r.peerOrder, func(i, j int) bool { return r.peerOrder[i].Less(r.peerOrder[j]) })
	r.logger.Info("Register peer %s AS %d (ibgp=%v rr-client=%v)", conf.Address, conf.AS, p.ibgp, p.rrClient)
	return nil
}

func (r *Router) peer(addr netip.Addr) (*peer, error) {
	p, ok := r.peers[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s on router %s", ErrPeerNotFound, addr, r.address)
	}
	return p, nil
}

func (r *Router) HasPeer(addr netip.Addr) bool {
	_, ok := r.peers[addr]
	return ok
}

// HandleEvent processes one event addressed to this router.
func (r *Router) HandleEvent(evt Event) error {
	switch e := evt.(type) {
	case *originate:
		r.originate(e.prefix)
		return nil
	case *withdrawOrigin:
		r.withdrawOrigin(e.prefix)
		return nil
	case *rescan:
		r.rescan()
		return nil
	case peerEvent:
		p, ok := r.peers[e.peerAddr()]
		if !ok {
			r.logger.Warn("Drop %s: unknown peer", EventString(evt))
			if back, to, ok := Undeliverable(r.store, r.address, evt); ok {
				r.send(to, back, DEFAULT_MESSAGE_DELAY)
			}
			return nil
		}
		return p.handleEvent(evt)
	default:
		return fmt.Errorf("%w: %T", ErrInvalidEventType, evt)
	}
}

// send schedules evt at the router to after delay.
func (r *Router) send(to netip.Addr, evt Event, delay time.Duration) {
	id, err := r.scheduler.Schedule(to.String(), evt, delay)
	if err != nil || id == 0 {
		if err != nil {
			r.logger.Warn("Failed to send %s to %s: %s", EventString(evt), to, err)
		}
		if e, ok := evt.(*recvUpdateMsg); ok {
			r.store.Release(e.msg.Attrs)
		}
	}
}

func (r *Router) policyEnv() *policyEnv {
	return &policyEnv{self: r.address}
}

func (r *Router) releasePath(path *Path) {
	if path == nil {
		return
	}
	r.store.Release(path.attrs)
}

type loopKind uint8

const (
	LOOP_NONE       loopKind = iota
	LOOP_AS         loopKind = iota
	LOOP_REFLECTION loopKind = iota
)

func (r *Router) checkLoop(attrs *Attrs) (loopKind, string) {
	if attrs.ASPath().Contains(r.as) {
		return LOOP_AS, fmt.Sprintf("AS path [%s] contains local AS %d", attrs.ASPath(), r.as)
	}
	if attrs.OriginatorID() == r.address {
		return LOOP_REFLECTION, "originator id is the local router"
	}
	for _, id := range attrs.ClusterList() {
		if id == r.clusterId {
			return LOOP_REFLECTION, fmt.Sprintf("cluster list contains %s", r.clusterId)
		}
	}
	return LOOP_NONE, ""
}

// decide recomputes the best path of prefix and propagates a change to every established peer.
func (r *Router) decide(prefix netip.Prefix) Change {
	change := r.rib.RecomputeBest(prefix)
	if change.Kind == CHANGE_NONE {
		return change
	}
	r.changes++
	r.logger.Info("Best path for %s %s (%s)", prefix, change.Kind, change.Reason)
	for _, addr := range r.peerOrder {
		p := r.peers[addr]
		if !p.isEstablished() {
			continue
		}
		p.advertise(prefix, change.New)
	}
	return change
}

func (r *Router) originate(prefix netip.Prefix) {
	if r.rib.AdjRibIn(r.address).Lookup(prefix) != nil {
		return
	}
	attrs := r.store.Intern(Attributes{
		Origin:    ORIGIN_IGP,
		NextHop:   r.address,
		LocalPref: r.localPref,
	})
	r.logger.Info("Originate %s", prefix)
	r.rib.AddOrReplace(r.address, newPath(prefix, attrs, r.info, r.scheduler.Now()))
	r.decide(prefix)
}

func (r *Router) withdrawOrigin(prefix netip.Prefix) {
	prior := r.rib.Withdraw(r.address, prefix)
	if prior == nil {
		return
	}
	r.logger.Info("Withdraw %s", prefix)
	r.decide(prefix)
	r.releasePath(prior)
}

// rescan runs the decision process for every known prefix, e.g. after the IGP changed.
func (r *Router) rescan() {
	for _, prefix := range r.rib.Prefixes() {
		r.decide(prefix)
	}
}

// Inject installs a route as if it was received from peer, bypassing the session state.
// Injecting from the router's own address installs a local route with the given attributes.
func (r *Router) Inject(from netip.Addr, prefix netip.Prefix, attrs Attributes) error {
	if from == r.address {
		if !attrs.NextHop.IsValid() {
			attrs.NextHop = r.address
		}
		if attrs.LocalPref == 0 {
			attrs.LocalPref = r.localPref
		}
		path := newPath(prefix, r.store.Intern(attrs), r.info, r.scheduler.Now())
		prior := r.rib.AddOrReplace(r.address, path)
		r.decide(prefix)
		r.releasePath(prior)
		return nil
	}
	p, err := r.peer(from)
	if err != nil {
		return err
	}
	if !attrs.NextHop.IsValid() {
		attrs.NextHop = from
	}
	interned := r.store.Intern(attrs)
	defer r.store.Release(interned)
	p.importRoute(prefix, interned)
	return nil
}

// BestRoutes returns the Loc-RIB in prefix order.
func (r *Router) BestRoutes() []*Path {
	res := make([]*Path, 0, r.rib.LocRib().Len())
	r.rib.LocRib().Walk(func(path *Path) bool {
		res = append(res, path)
		return true
	})
	return res
}

// RibIn returns every candidate for prefix, or for every prefix when prefix is invalid.
func (r *Router) RibIn(prefix netip.Prefix) []*Path {
	if prefix.IsValid() {
		return r.rib.Candidates(prefix)
	}
	res := []*Path{}
	for _, p := range r.rib.Prefixes() {
		res = append(res, r.rib.Candidates(p)...)
	}
	return res
}

func (r *Router) AdjRibOut(addr netip.Addr) ([]*Path, error) {
	p, err := r.peer(addr)
	if err != nil {
		return nil, err
	}
	res := make([]*Path, 0, p.adjRibOut.Len())
	p.adjRibOut.Walk(func(path *Path) bool {
		res = append(res, path)
		return true
	})
	return res, nil
}

type PeerStatus struct {
	Address    netip.Addr
	AS         uint32
	RouterID   netip.Addr
	State      string
	IBGP       bool
	RRClient   bool
	HoldTime   time.Duration
	Received   int
	Advertised int
	UpdatesIn  int
	UpdatesOut int
	Resets     int
}

func (r *Router) Peers() []PeerStatus {
	res := make([]PeerStatus, 0, len(r.peerOrder))
	for _, addr := range r.peerOrder {
		p := r.peers[addr]
		res = append(res, PeerStatus{
			Address:    p.addr,
			AS:         p.as,
			RouterID:   p.routerId,
			State:      p.state().String(),
			IBGP:       p.ibgp,
			RRClient:   p.rrClient,
			HoldTime:   p.negotiatedHold,
			Received:   p.adjRibIn.Len(),
			Advertised: p.adjRibOut.Len(),
			UpdatesIn:  p.stats.updatesIn,
			UpdatesOut: p.stats.updatesOut,
			Resets:     p.stats.resets,
		})
	}
	return res
}

func (r *Router) PeerState(addr netip.Addr) (string, error) {
	p, err := r.peer(addr)
	if err != nil {
		return "", err
	}
	return p.state().String(), nil
}
