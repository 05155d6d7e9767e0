package bgp

import (
	"fmt"
	"net/netip"
)

type DecisionStep uint8

// Each step keeps the candidates that no other candidate beats.
// 1. highest LOCAL_PREF
// 2. locally originated (optional)
// 3. shortest AS_PATH, an AS_SET counts as one
// 4. lowest ORIGIN (IGP < EGP < INCOMPLETE)
// 5. lowest MULTI_EXIT_DISC among paths from the same neighbor AS
// 6. EBGP over IBGP
// 7. lowest IGP cost to the next hop
// 8. shortest CLUSTER_LIST (optional)
// 9. oldest path
// 10. lowest BGP identifier (ORIGINATOR_ID for reflected paths)
// 11. lowest peer address
const (
	STEP_LOCAL_PREF          DecisionStep = iota + 1
	STEP_LOCAL_ORIGINATED    DecisionStep = iota + 1
	STEP_AS_PATH_LENGTH      DecisionStep = iota + 1
	STEP_ORIGIN              DecisionStep = iota + 1
	STEP_MED                 DecisionStep = iota + 1
	STEP_EBGP_OVER_IBGP      DecisionStep = iota + 1
	STEP_IGP_DISTANCE        DecisionStep = iota + 1
	STEP_CLUSTER_LIST_LENGTH DecisionStep = iota + 1
	STEP_OLDEST              DecisionStep = iota + 1
	STEP_ROUTER_ID           DecisionStep = iota + 1
	STEP_PEER_ADDRESS        DecisionStep = iota + 1

	STEP_NOT_COMPARED DecisionStep = 254
	STEP_ONLY_PATH    DecisionStep = 255
)

func (s DecisionStep) String() string {
	switch s {
	case STEP_LOCAL_PREF:
		return "local-pref"
	case STEP_LOCAL_ORIGINATED:
		return "local-originated"
	case STEP_AS_PATH_LENGTH:
		return "as-path-length"
	case STEP_ORIGIN:
		return "origin"
	case STEP_MED:
		return "med"
	case STEP_EBGP_OVER_IBGP:
		return "ebgp-over-ibgp"
	case STEP_IGP_DISTANCE:
		return "igp-distance"
	case STEP_CLUSTER_LIST_LENGTH:
		return "cluster-list-length"
	case STEP_OLDEST:
		return "oldest"
	case STEP_ROUTER_ID:
		return "router-id"
	case STEP_PEER_ADDRESS:
		return "peer-address"
	case STEP_NOT_COMPARED:
		return "not-compared"
	case STEP_ONLY_PATH:
		return "only-path"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func ParseDecisionStep(s string) (DecisionStep, error) {
	for step := STEP_LOCAL_PREF; step <= STEP_PEER_ADDRESS; step++ {
		if step.String() == s {
			return step, nil
		}
	}
	return 0, fmt.Errorf("unknown decision step %q", s)
}

type DecisionConfig struct {
	Steps            []DecisionStep
	AlwaysCompareMED bool
}

func DefaultDecisionConfig() *DecisionConfig {
	return &DecisionConfig{
		Steps: []DecisionStep{
			STEP_LOCAL_PREF,
			STEP_AS_PATH_LENGTH,
			STEP_ORIGIN,
			STEP_MED,
			STEP_EBGP_OVER_IBGP,
			STEP_IGP_DISTANCE,
			STEP_OLDEST,
			STEP_ROUTER_ID,
			STEP_PEER_ADDRESS,
		},
	}
}

// Validate rejects chains that cannot always produce a single winner.
// The peer address step is a total order over candidates of one prefix, so it must be present.
func (c *DecisionConfig) Validate() error {
	if len(c.Steps) == 0 {
		return configError("decision", "empty decision chain")
	}
	seen := make(map[DecisionStep]bool, len(c.Steps))
	for _, s := range c.Steps {
		if _, ok := compareFuncs[s]; !ok {
			return configError("decision", "unknown step %s", s)
		}
		if seen[s] {
			return configError("decision", "duplicated step %s", s)
		}
		seen[s] = true
	}
	if !seen[STEP_PEER_ADDRESS] {
		return configError("decision", "chain does not end in a total tie break: %s is missing", STEP_PEER_ADDRESS)
	}
	return nil
}

// IGP gives the cost to reach a next hop from the deciding router.
type IGP interface {
	Distance(from, to netip.Addr) (uint32, bool)
}

type decisionContext struct {
	config *DecisionConfig
	igp    IGP
	self   netip.Addr
}

func (c *decisionContext) distance(p *Path) (uint32, bool) {
	if p.info.local || c.igp == nil {
		return 0, true
	}
	return c.igp.Distance(c.self, p.attrs.NextHop())
}

// compareFunc returns the preferred path or nil when the step does not separate them.
type compareFunc func(ctx *decisionContext, p1, p2 *Path) *Path

var compareFuncs = map[DecisionStep]compareFunc{
	STEP_LOCAL_PREF:          compareLocalPref,
	STEP_LOCAL_ORIGINATED:    compareLocalOriginated,
	STEP_AS_PATH_LENGTH:      compareASPath,
	STEP_ORIGIN:              compareOrigin,
	STEP_MED:                 compareMed,
	STEP_EBGP_OVER_IBGP:      compareEBGP,
	STEP_IGP_DISTANCE:        compareIGPDistance,
	STEP_CLUSTER_LIST_LENGTH: compareClusterList,
	STEP_OLDEST:              compareOlderRoute,
	STEP_ROUTER_ID:           comparePeerRouterId,
	STEP_PEER_ADDRESS:        comparePeerAddress,
}

// Decide runs the decision process of the router self over candidates.
func Decide(config *DecisionConfig, igp IGP, self netip.Addr, candidates []*Path) (*Path, DecisionStep) {
	return decide(&decisionContext{config: config, igp: igp, self: self}, candidates)
}

// decide selects the best path among feasible candidates.
// Every step removes the candidates beaten by at least one other candidate, so the result
// does not depend on the order of candidates.
// It panics with ErrDecisionExhausted if the configured chain leaves a tie, which Validate prevents.
func decide(ctx *decisionContext, candidates []*Path) (*Path, DecisionStep) {
	switch len(candidates) {
	case 0:
		return nil, STEP_NOT_COMPARED
	case 1:
		return candidates[0], STEP_ONLY_PATH
	}
	set := make([]*Path, len(candidates))
	copy(set, candidates)
	for _, step := range ctx.config.Steps {
		set = eliminate(ctx, compareFuncs[step], set)
		if len(set) == 1 {
			return set[0], step
		}
	}
	panic(fmt.Errorf("%w: %d paths for %s remain", ErrDecisionExhausted, len(set), set[0].prefix))
}

func eliminate(ctx *decisionContext, f compareFunc, set []*Path) []*Path {
	survivors := make([]*Path, 0, len(set))
	for _, x := range set {
		beaten := false
		for _, y := range set {
			if x != y && f(ctx, y, x) == y {
				beaten = true
				break
			}
		}
		if !beaten {
			survivors = append(survivors, x)
		}
	}
	return survivors
}

func compareLocalPref(_ *decisionContext, p1, p2 *Path) *Path {
	if p1.attrs.LocalPref() > p2.attrs.LocalPref() {
		return p1
	}
	if p1.attrs.LocalPref() < p2.attrs.LocalPref() {
		return p2
	}
	return nil
}

func compareLocalOriginated(_ *decisionContext, p1, p2 *Path) *Path {
	if p1.info.local == p2.info.local {
		return nil
	}
	if p1.info.local {
		return p1
	}
	return p2
}

func compareASPath(_ *decisionContext, p1, p2 *Path) *Path {
	l1 := p1.attrs.ASPath().Len()
	l2 := p2.attrs.ASPath().Len()
	if l1 > l2 {
		return p2
	}
	if l1 < l2 {
		return p1
	}
	return nil
}

func compareOrigin(_ *decisionContext, p1, p2 *Path) *Path {
	if p1.attrs.Origin() < p2.attrs.Origin() {
		return p1
	}
	if p1.attrs.Origin() > p2.attrs.Origin() {
		return p2
	}
	return nil
}

func compareMed(ctx *decisionContext, p1, p2 *Path) *Path {
	if !ctx.config.AlwaysCompareMED && p1.neighborAS() != p2.neighborAS() {
		return nil
	}
	if p1.attrs.MED() < p2.attrs.MED() {
		return p1
	}
	if p1.attrs.MED() > p2.attrs.MED() {
		return p2
	}
	return nil
}

// Locally originated paths rank with EBGP paths.
func compareEBGP(_ *decisionContext, p1, p2 *Path) *Path {
	if p1.info.isIBGP() == p2.info.isIBGP() {
		return nil
	}
	if p1.info.isIBGP() {
		return p2
	}
	return p1
}

func compareIGPDistance(ctx *decisionContext, p1, p2 *Path) *Path {
	d1, ok1 := ctx.distance(p1)
	d2, ok2 := ctx.distance(p2)
	if ok1 != ok2 {
		if ok1 {
			return p1
		}
		return p2
	}
	if d1 < d2 {
		return p1
	}
	if d1 > d2 {
		return p2
	}
	return nil
}

func compareClusterList(_ *decisionContext, p1, p2 *Path) *Path {
	l1 := len(p1.attrs.ClusterList())
	l2 := len(p2.attrs.ClusterList())
	if l1 < l2 {
		return p1
	}
	if l1 > l2 {
		return p2
	}
	return nil
}

func compareOlderRoute(_ *decisionContext, p1, p2 *Path) *Path {
	if p1.received < p2.received {
		return p1
	}
	if p1.received > p2.received {
		return p2
	}
	return nil
}

func comparePeerRouterId(_ *decisionContext, p1, p2 *Path) *Path {
	c := p1.routerId().Compare(p2.routerId())
	if c < 0 {
		return p1
	}
	if c > 0 {
		return p2
	}
	return nil
}

func comparePeerAddress(_ *decisionContext, p1, p2 *Path) *Path {
	c := p1.info.addr.Compare(p2.info.addr)
	if c < 0 {
		return p1
	}
	if c > 0 {
		return p2
	}
	return nil
}
