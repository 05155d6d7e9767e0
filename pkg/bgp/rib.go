package bgp

import (
	"net/netip"
	"sort"
	"sync"

	"github.com/k-sone/critbitgo"
	"go4.org/netipx"
)

// AdjRibIn holds the paths received from one peer that passed the import filter.
// At most one path exists per prefix.
type AdjRibIn struct {
	mutex *sync.RWMutex
	table map[netip.Prefix]*Path
}

func newAdjRibIn() *AdjRibIn {
	return &AdjRibIn{
		mutex: &sync.RWMutex{},
		table: make(map[netip.Prefix]*Path),
	}
}

// Insert stores path and returns the path it replaced, if any.
func (a *AdjRibIn) Insert(path *Path) *Path {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	prior := a.table[path.prefix]
	a.table[path.prefix] = path
	return prior
}

func (a *AdjRibIn) Lookup(prefix netip.Prefix) *Path {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.table[prefix]
}

func (a *AdjRibIn) Drop(prefix netip.Prefix) *Path {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	prior, ok := a.table[prefix]
	if !ok {
		return nil
	}
	delete(a.table, prefix)
	return prior
}

func (a *AdjRibIn) Len() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return len(a.table)
}

// Prefixes returns the stored prefixes in ascending order.
func (a *AdjRibIn) Prefixes() []netip.Prefix {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	res := make([]netip.Prefix, 0, len(a.table))
	for p := range a.table {
		res = append(res, p)
	}
	SortPrefixes(res)
	return res
}

// Clear removes every path and returns them ordered by prefix.
func (a *AdjRibIn) Clear() []*Path {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	res := make([]*Path, 0, len(a.table))
	for _, path := range a.table {
		res = append(res, path)
	}
	sort.Slice(res, func(i, j int) bool { return ComparePrefix(res[i].prefix, res[j].prefix) < 0 })
	a.table = make(map[netip.Prefix]*Path)
	return res
}

// AdjRibOut holds what was last advertised to one peer.
type AdjRibOut struct {
	mutex *sync.RWMutex
	table map[netip.Prefix]*Path
}

func newAdjRibOut() *AdjRibOut {
	return &AdjRibOut{
		mutex: &sync.RWMutex{},
		table: make(map[netip.Prefix]*Path),
	}
}

func (a *AdjRibOut) Insert(path *Path) *Path {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	prior := a.table[path.prefix]
	a.table[path.prefix] = path
	return prior
}

func (a *AdjRibOut) Lookup(prefix netip.Prefix) *Path {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.table[prefix]
}

func (a *AdjRibOut) Drop(prefix netip.Prefix) *Path {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	prior, ok := a.table[prefix]
	if !ok {
		return nil
	}
	delete(a.table, prefix)
	return prior
}

func (a *AdjRibOut) Len() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return len(a.table)
}

// Walk visits the advertised paths in prefix order until f returns false.
func (a *AdjRibOut) Walk(f func(*Path) bool) {
	for _, path := range a.sorted() {
		if !f(path) {
			return
		}
	}
}

func (a *AdjRibOut) sorted() []*Path {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	res := make([]*Path, 0, len(a.table))
	for _, path := range a.table {
		res = append(res, path)
	}
	sort.Slice(res, func(i, j int) bool { return ComparePrefix(res[i].prefix, res[j].prefix) < 0 })
	return res
}

func (a *AdjRibOut) Clear() []*Path {
	res := a.sorted()
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.table = make(map[netip.Prefix]*Path)
	return res
}

// LocRib holds the best path of every reachable prefix.
// The paths are owned by the Adj-RIB-In they were selected from.
type LocRib struct {
	mutex *sync.RWMutex
	table map[netip.Prefix]*Path
	index *critbitgo.Net
}

func NewLocRib() *LocRib {
	return &LocRib{
		mutex: &sync.RWMutex{},
		table: make(map[netip.Prefix]*Path),
		index: critbitgo.NewNet(),
	}
}

func (l *LocRib) insert(path *Path) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.table[path.prefix] = path
	// the index is only consulted for longest match, its error means an invalid prefix
	_ = l.index.Add(netipx.PrefixIPNet(path.prefix), path)
}

func (l *LocRib) drop(prefix netip.Prefix) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if _, ok := l.table[prefix]; !ok {
		return
	}
	delete(l.table, prefix)
	_, _, _ = l.index.Delete(netipx.PrefixIPNet(prefix))
}

func (l *LocRib) Lookup(prefix netip.Prefix) *Path {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.table[prefix]
}

// Match returns the best path of the longest prefix containing addr.
func (l *LocRib) Match(addr netip.Addr) *Path {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	_, value, err := l.index.MatchIP(addr.AsSlice())
	if err != nil || value == nil {
		return nil
	}
	return value.(*Path)
}

func (l *LocRib) IsReachable(addr netip.Addr) bool {
	return l.Match(addr) != nil
}

func (l *LocRib) Len() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return len(l.table)
}

// Walk visits best paths in prefix order until f returns false.
func (l *LocRib) Walk(f func(*Path) bool) {
	l.mutex.RLock()
	paths := make([]*Path, 0, len(l.table))
	for _, path := range l.table {
		paths = append(paths, path)
	}
	l.mutex.RUnlock()
	sort.Slice(paths, func(i, j int) bool { return ComparePrefix(paths[i].prefix, paths[j].prefix) < 0 })
	for _, path := range paths {
		if !f(path) {
			return
		}
	}
}

type ChangeKind uint8

const (
	CHANGE_NONE      ChangeKind = iota
	CHANGE_INSTALLED ChangeKind = iota
	CHANGE_REPLACED  ChangeKind = iota
	CHANGE_REMOVED   ChangeKind = iota
)

func (k ChangeKind) String() string {
	switch k {
	case CHANGE_NONE:
		return "none"
	case CHANGE_INSTALLED:
		return "installed"
	case CHANGE_REPLACED:
		return "replaced"
	case CHANGE_REMOVED:
		return "removed"
	default:
		return "unknown"
	}
}

// Change describes how the best path of a prefix moved after a decision.
type Change struct {
	Kind   ChangeKind
	Prefix netip.Prefix
	Old    *Path
	New    *Path
	Reason DecisionStep
}

// Rib groups the per peer Adj-RIBs-In of a router with its Loc-RIB.
type Rib struct {
	in     map[netip.Addr]*AdjRibIn
	locRib *LocRib
	ctx    *decisionContext
}

func NewRib(self netip.Addr, config *DecisionConfig, igp IGP) *Rib {
	return &Rib{
		in:     make(map[netip.Addr]*AdjRibIn),
		locRib: NewLocRib(),
		ctx:    &decisionContext{config: config, igp: igp, self: self},
	}
}

func (r *Rib) LocRib() *LocRib {
	return r.locRib
}

// AdjRibIn returns the table of peer, creating it on first use.
func (r *Rib) AdjRibIn(peer netip.Addr) *AdjRibIn {
	in, ok := r.in[peer]
	if !ok {
		in = newAdjRibIn()
		r.in[peer] = in
	}
	return in
}

func (r *Rib) peers() []netip.Addr {
	res := make([]netip.Addr, 0, len(r.in))
	for addr := range r.in {
		res = append(res, addr)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Less(res[j]) })
	return res
}

// AddOrReplace stores path as the route of peer for its prefix.
// The replaced path is returned; the caller releases it once the decision ran.
func (r *Rib) AddOrReplace(peer netip.Addr, path *Path) *Path {
	return r.AdjRibIn(peer).Insert(path)
}

func (r *Rib) Withdraw(peer netip.Addr, prefix netip.Prefix) *Path {
	in, ok := r.in[peer]
	if !ok {
		return nil
	}
	return in.Drop(prefix)
}

// DropPeer removes every path learned from peer.
func (r *Rib) DropPeer(peer netip.Addr) []*Path {
	in, ok := r.in[peer]
	if !ok {
		return nil
	}
	return in.Clear()
}

// Candidates returns the paths for prefix ordered by peer address.
func (r *Rib) Candidates(prefix netip.Prefix) []*Path {
	res := make([]*Path, 0, 4)
	for _, addr := range r.peers() {
		if path := r.in[addr].Lookup(prefix); path != nil {
			res = append(res, path)
		}
	}
	return res
}

// Prefixes returns every prefix known to the RIB, in the Loc-RIB or any Adj-RIB-In.
func (r *Rib) Prefixes() []netip.Prefix {
	set := make(map[netip.Prefix]struct{})
	for _, in := range r.in {
		for _, p := range in.Prefixes() {
			set[p] = struct{}{}
		}
	}
	r.locRib.Walk(func(path *Path) bool {
		set[path.prefix] = struct{}{}
		return true
	})
	res := make([]netip.Prefix, 0, len(set))
	for p := range set {
		res = append(res, p)
	}
	SortPrefixes(res)
	return res
}

// RecomputeBest runs the decision process for prefix and updates the Loc-RIB.
// Running it twice without intervening changes reports CHANGE_NONE the second time.
func (r *Rib) RecomputeBest(prefix netip.Prefix) Change {
	candidates := r.Candidates(prefix)
	feasible := make([]*Path, 0, len(candidates))
	for _, path := range candidates {
		path.reason = STEP_NOT_COMPARED
		if _, ok := r.ctx.distance(path); ok {
			path.status = PathStatusFeasible
			feasible = append(feasible, path)
		} else {
			path.status = PathStatusNotFeasible
		}
	}
	best, reason := decide(r.ctx, feasible)
	old := r.locRib.Lookup(prefix)
	change := Change{Kind: CHANGE_NONE, Prefix: prefix, Old: old, New: best, Reason: reason}
	if best != nil {
		best.status = PathStatusInstalled
		best.reason = reason
	}
	switch {
	case best == nil && old == nil:
	case best == nil:
		if old.status == PathStatusInstalled {
			old.status = PathStatusFeasible
		}
		r.locRib.drop(prefix)
		change.Kind = CHANGE_REMOVED
	case old == nil:
		r.locRib.insert(best)
		change.Kind = CHANGE_INSTALLED
	case old != best:
		if old.status == PathStatusInstalled {
			old.status = PathStatusFeasible
		}
		r.locRib.insert(best)
		change.Kind = CHANGE_REPLACED
	}
	return change
}
