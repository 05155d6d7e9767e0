package sim

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/terassyi/bgpsim/pkg/bgp"
	"github.com/terassyi/bgpsim/pkg/config"
	"github.com/terassyi/bgpsim/pkg/log"
	"github.com/terassyi/bgpsim/pkg/network"
	"github.com/terassyi/bgpsim/pkg/sched"
)

// plan is a fully validated configuration, ready to be applied.
type plan struct {
	opts    Options
	until   sched.StopCondition
	routers []*routerPlan
	links   []config.Link
	owned   []ownedPrefix
	routes  []*routePlan
}

type routerPlan struct {
	conf     *bgp.RouterConfig
	peers    []*bgp.PeerConfig
	start    []netip.Addr
	networks []netip.Prefix
}

type ownedPrefix struct {
	router netip.Addr
	prefix netip.Prefix
}

type routePlan struct {
	router netip.Addr
	from   netip.Addr
	prefix netip.Prefix
	attrs  bgp.Attributes
}

func parseAddr(object, s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, &bgp.ConfigError{Object: object, Err: err}
	}
	return addr, nil
}

func parsePrefix(object, s string) (netip.Prefix, error) {
	prefix, err := bgp.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, &bgp.ConfigError{Object: object, Err: err}
	}
	return prefix, nil
}

func compileDecision(conf *config.Decision) (*bgp.DecisionConfig, error) {
	if conf == nil {
		return nil, nil
	}
	res := bgp.DefaultDecisionConfig()
	res.AlwaysCompareMED = conf.AlwaysCompareMED
	if len(conf.Steps) > 0 {
		res.Steps = make([]bgp.DecisionStep, 0, len(conf.Steps))
		for _, name := range conf.Steps {
			step, err := bgp.ParseDecisionStep(name)
			if err != nil {
				return nil, &bgp.ConfigError{Object: "simulation decision", Err: err}
			}
			res.Steps = append(res.Steps, step)
		}
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}

// compile validates the whole configuration without touching any state.
func compile(conf *config.Config) (*plan, error) {
	p := &plan{}
	simConf := conf.Simulation
	if simConf == nil {
		simConf = &config.Simulation{}
	}
	kind, err := sched.ParseKind(simConf.Scheduler)
	if err != nil {
		return nil, &bgp.ConfigError{Object: "simulation", Err: err}
	}
	overflow := sched.OVERFLOW_APPEND
	if simConf.Overflow != "" {
		overflow, err = sched.ParseOverflow(simConf.Overflow)
		if err != nil {
			return nil, &bgp.ConfigError{Object: "simulation", Err: err}
		}
	}
	decision, err := compileDecision(simConf.Decision)
	if err != nil {
		return nil, err
	}
	p.opts = Options{Scheduler: kind, Overflow: overflow, Decision: decision}
	conds := []sched.StopCondition{}
	if simConf.Until > 0 {
		conds = append(conds, sched.AtTime(simConf.Until.Duration()))
	}
	if simConf.MaxEvents > 0 {
		conds = append(conds, sched.MaxEvents(simConf.MaxEvents))
	}
	if len(conds) > 0 {
		p.until = sched.Any(conds...)
	}

	filters := make(map[string]*bgp.Filter, len(conf.Filters))
	for _, fc := range conf.Filters {
		if fc.Name == "" {
			return nil, &bgp.ConfigError{Object: "filter", Err: fmt.Errorf("name is required")}
		}
		if _, ok := filters[fc.Name]; ok {
			return nil, &bgp.ConfigError{Object: "filter " + fc.Name, Err: fmt.Errorf("duplicated name")}
		}
		rules := make([]bgp.RuleConfig, 0, len(fc.Rules))
		for _, rc := range fc.Rules {
			rules = append(rules, bgp.RuleConfig{Match: rc.Match, Action: rc.Action})
		}
		f, err := bgp.NewFilter(fc.Name, rules, fc.Default)
		if err != nil {
			return nil, err
		}
		filters[fc.Name] = f
	}
	lookupFilter := func(object, name string) (*bgp.Filter, error) {
		if name == "" {
			return nil, nil
		}
		f, ok := filters[name]
		if !ok {
			return nil, &bgp.ConfigError{Object: object, Err: fmt.Errorf("unknown filter %q", name)}
		}
		return f, nil
	}

	known := make(map[netip.Addr]*routerPlan)
	for i, rc := range conf.Routers {
		addr, err := parseAddr(fmt.Sprintf("router %d", i), rc.Address)
		if err != nil {
			return nil, err
		}
		object := fmt.Sprintf("router %s", addr)
		if _, ok := known[addr]; ok {
			return nil, &bgp.ConfigError{Object: object, Err: ErrRouterAlreadyRegistered}
		}
		routerConf := &bgp.RouterConfig{Address: addr, AS: rc.AS, LocalPref: rc.LocalPref, Decision: decision}
		if rc.ClusterID != "" {
			if routerConf.ClusterID, err = parseAddr(object+" cluster-id", rc.ClusterID); err != nil {
				return nil, err
			}
		}
		if routerConf.ASLoop, err = bgp.ParseLoopPolicy(rc.ASLoop); err != nil {
			return nil, &bgp.ConfigError{Object: object, Err: err}
		}
		if err := routerConf.Validate(); err != nil {
			return nil, err
		}
		rp := &routerPlan{conf: routerConf}
		for _, n := range rc.Networks {
			prefix, err := parsePrefix(object+" network", n)
			if err != nil {
				return nil, err
			}
			rp.networks = append(rp.networks, prefix)
		}
		seen := make(map[netip.Addr]bool)
		for j, pc := range rc.Peers {
			peerAddr, err := parseAddr(fmt.Sprintf("%s peer %d", object, j), pc.Address)
			if err != nil {
				return nil, err
			}
			peerObject := fmt.Sprintf("%s peer %s", object, peerAddr)
			if seen[peerAddr] {
				return nil, &bgp.ConfigError{Object: peerObject, Err: bgp.ErrPeerAlreadyRegistered}
			}
			seen[peerAddr] = true
			peerConf := &bgp.PeerConfig{
				Address:      peerAddr,
				AS:           pc.AS,
				RRClient:     pc.RRClient,
				NextHopSelf:  pc.NextHopSelf,
				HoldTime:     pc.HoldTime.Duration(),
				ConnectRetry: pc.ConnectRetry.Duration(),
				Delay:        pc.Delay.Duration(),
			}
			if peerConf.Import, err = lookupFilter(peerObject+" import", pc.Import); err != nil {
				return nil, err
			}
			if peerConf.Export, err = lookupFilter(peerObject+" export", pc.Export); err != nil {
				return nil, err
			}
			if err := peerConf.Validate(routerConf); err != nil {
				return nil, err
			}
			rp.peers = append(rp.peers, peerConf)
			if pc.AutoStart() {
				rp.start = append(rp.start, peerAddr)
			}
		}
		known[addr] = rp
		p.routers = append(p.routers, rp)
	}

	if conf.Network != nil {
		for _, l := range conf.Network.Links {
			object := fmt.Sprintf("network link %s-%s", l.A, l.B)
			a, err := parseAddr(object, l.A)
			if err != nil {
				return nil, err
			}
			b, err := parseAddr(object, l.B)
			if err != nil {
				return nil, err
			}
			if known[a] == nil || known[b] == nil {
				return nil, &bgp.ConfigError{Object: object, Err: ErrRouterNotFound}
			}
			if a == b {
				return nil, &bgp.ConfigError{Object: object, Err: network.ErrInvalidLink}
			}
			p.links = append(p.links, l)
		}
		for _, o := range conf.Network.Prefixes {
			object := fmt.Sprintf("network prefix %s", o.Prefix)
			owner, err := parseAddr(object, o.Router)
			if err != nil {
				return nil, err
			}
			if known[owner] == nil {
				return nil, &bgp.ConfigError{Object: object, Err: ErrRouterNotFound}
			}
			prefix, err := parsePrefix(object, o.Prefix)
			if err != nil {
				return nil, err
			}
			p.owned = append(p.owned, ownedPrefix{router: owner, prefix: prefix})
		}
	}

	for i, rc := range conf.Routes {
		rp, err := compileRoute(fmt.Sprintf("route %d", i), rc, known)
		if err != nil {
			return nil, err
		}
		p.routes = append(p.routes, rp)
	}
	return p, nil
}

func compileRoute(object string, rc config.Route, known map[netip.Addr]*routerPlan) (*routePlan, error) {
	router, err := parseAddr(object+" router", rc.Router)
	if err != nil {
		return nil, err
	}
	r := known[router]
	if r == nil {
		return nil, &bgp.ConfigError{Object: object, Err: fmt.Errorf("%w: %s", ErrRouterNotFound, router)}
	}
	res := &routePlan{router: router, from: router}
	if rc.Peer != "" {
		if res.from, err = parseAddr(object+" peer", rc.Peer); err != nil {
			return nil, err
		}
		found := false
		for _, pc := range r.peers {
			if pc.Address == res.from {
				found = true
				break
			}
		}
		if !found {
			return nil, &bgp.ConfigError{Object: object, Err: fmt.Errorf("%w: %s", bgp.ErrPeerNotFound, res.from)}
		}
	}
	if res.prefix, err = parsePrefix(object, rc.Prefix); err != nil {
		return nil, err
	}
	if res.attrs, err = compileAttributes(object, rc); err != nil {
		return nil, err
	}
	return res, nil
}

func compileAttributes(object string, rc config.Route) (bgp.Attributes, error) {
	var err error
	attrs := bgp.Attributes{LocalPref: rc.LocalPref, MED: rc.MED}
	if attrs.ASPath, err = bgp.ParseASPath(rc.ASPath); err != nil {
		return attrs, &bgp.ConfigError{Object: object, Err: err}
	}
	if rc.Origin != "" {
		if attrs.Origin, err = bgp.ParseOrigin(rc.Origin); err != nil {
			return attrs, &bgp.ConfigError{Object: object, Err: err}
		}
	}
	if rc.NextHop != "" {
		if attrs.NextHop, err = parseAddr(object+" next-hop", rc.NextHop); err != nil {
			return attrs, err
		}
	}
	for _, c := range rc.Communities {
		if strings.HasPrefix(c, "rt:") || strings.HasPrefix(c, "soo:") {
			ext, err := bgp.ParseExtendedCommunity(c)
			if err != nil {
				return attrs, &bgp.ConfigError{Object: object, Err: err}
			}
			attrs.ExtCommunities = append(attrs.ExtCommunities, ext)
			continue
		}
		community, err := bgp.ParseCommunity(c)
		if err != nil {
			return attrs, &bgp.ConfigError{Object: object, Err: err}
		}
		attrs.Communities = append(attrs.Communities, community)
	}
	return attrs, nil
}

// InjectRoute is Inject for a route written like an entry of the routes configuration.
func (s *Simulator) InjectRoute(rc config.Route) error {
	router, err := parseAddr("route router", rc.Router)
	if err != nil {
		return err
	}
	from := router
	if rc.Peer != "" {
		if from, err = parseAddr("route peer", rc.Peer); err != nil {
			return err
		}
	}
	prefix, err := parsePrefix("route", rc.Prefix)
	if err != nil {
		return err
	}
	attrs, err := compileAttributes("route", rc)
	if err != nil {
		return err
	}
	return s.Inject(router, from, prefix, attrs)
}

// FromConfig builds a simulator. The configuration is validated entirely before anything is
// created, so an invalid configuration returns a *bgp.ConfigError and no simulator.
func FromConfig(conf *config.Config, logger log.Logger) (*Simulator, error) {
	p, err := compile(conf)
	if err != nil {
		return nil, err
	}
	if conf.Network != nil {
		p.opts.Network, err = network.NewStatic(network.DEFAULT_SPF_CACHE_SIZE)
		if err != nil {
			return nil, err
		}
	}
	p.opts.Logger = logger
	s, err := New(p.opts)
	if err != nil {
		return nil, err
	}
	s.until = p.until
	if err := s.apply(p); err != nil {
		return nil, fmt.Errorf("FromConfig: %w", err)
	}
	return s, nil
}

// apply creates the routers, the links and the initial events.
// The initial originations are planned before the session starts.
func (s *Simulator) apply(p *plan) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, rp := range p.routers {
		if err := s.addRouter(rp.conf); err != nil {
			return err
		}
		r := s.routers[rp.conf.Address]
		for _, pc := range rp.peers {
			if err := r.AddPeer(pc); err != nil {
				return err
			}
		}
	}
	if s.network != nil {
		for _, l := range p.links {
			if err := s.network.AddLink(netip.MustParseAddr(l.A), netip.MustParseAddr(l.B), l.Cost); err != nil {
				return err
			}
		}
		for _, o := range p.owned {
			if err := s.network.AddPrefix(o.router, o.prefix); err != nil {
				return err
			}
		}
	}
	for _, rp := range p.routes {
		if err := s.routers[rp.router].Inject(rp.from, rp.prefix, rp.attrs); err != nil {
			return err
		}
	}
	for _, rp := range p.routers {
		for _, prefix := range rp.networks {
			if err := s.post(rp.conf.Address, bgp.NewOriginateEvent(prefix)); err != nil {
				return err
			}
		}
	}
	for _, rp := range p.routers {
		for _, peer := range rp.start {
			if err := s.post(rp.conf.Address, bgp.NewStartEvent(peer)); err != nil {
				return err
			}
		}
	}
	if st, ok := s.scheduler.(*sched.Static); ok {
		st.Seal()
	}
	return nil
}
