package network

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"sort"
	"sync"

	"github.com/hashicorp/golang-lru/arc/v2"
	"github.com/k-sone/critbitgo"
	"go4.org/netipx"
)

const DEFAULT_SPF_CACHE_SIZE int = 128

var (
	ErrNodeNotFound = errors.New("Node not found")
	ErrLinkNotFound = errors.New("Link not found")
	ErrInvalidLink  = errors.New("Invalid link")
)

// Model answers reachability questions about next hops on behalf of a router.
type Model interface {
	Distance(from, to netip.Addr) (uint32, bool)
}

type Link struct {
	A    netip.Addr
	B    netip.Addr
	Cost uint32
	Down bool
}

func (l *Link) String() string {
	state := "up"
	if l.Down {
		state = "down"
	}
	return fmt.Sprintf("%s <-> %s cost %d %s", l.A, l.B, l.Cost, state)
}

type linkKey struct {
	a, b netip.Addr
}

func newLinkKey(a, b netip.Addr) linkKey {
	if b.Less(a) {
		a, b = b, a
	}
	return linkKey{a: a, b: b}
}

// Static is a hand-built topology of routers connected by weighted links.
// Addresses that are not routers are resolved to the router owning the longest matching prefix.
type Static struct {
	mutex  *sync.RWMutex
	nodes  map[netip.Addr]struct{}
	links  map[linkKey]*Link
	owners *critbitgo.Net
	spf    *arc.ARCCache[netip.Addr, map[netip.Addr]uint32]
}

func NewStatic(cacheSize int) (*Static, error) {
	if cacheSize <= 0 {
		cacheSize = DEFAULT_SPF_CACHE_SIZE
	}
	cache, err := arc.NewARC[netip.Addr, map[netip.Addr]uint32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("NewStatic: %w", err)
	}
	return &Static{
		mutex:  &sync.RWMutex{},
		nodes:  make(map[netip.Addr]struct{}),
		links:  make(map[linkKey]*Link),
		owners: critbitgo.NewNet(),
		spf:    cache,
	}, nil
}

func (s *Static) AddNode(addr netip.Addr) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.nodes[addr] = struct{}{}
	s.spf.Purge()
}

func (s *Static) HasNode(addr netip.Addr) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.nodes[addr]
	return ok
}

// AddLink connects two routers. Adding an existing link updates its cost and brings it up.
func (s *Static) AddLink(a, b netip.Addr, cost uint32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if a == b {
		return fmt.Errorf("%w: %s to itself", ErrInvalidLink, a)
	}
	for _, n := range []netip.Addr{a, b} {
		if _, ok := s.nodes[n]; !ok {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, n)
		}
	}
	key := newLinkKey(a, b)
	s.links[key] = &Link{A: key.a, B: key.b, Cost: cost}
	s.spf.Purge()
	return nil
}

func (s *Static) link(a, b netip.Addr) (*Link, error) {
	l, ok := s.links[newLinkKey(a, b)]
	if !ok {
		return nil, fmt.Errorf("%w: %s <-> %s", ErrLinkNotFound, a, b)
	}
	return l, nil
}

func (s *Static) SetLinkCost(a, b netip.Addr, cost uint32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	l, err := s.link(a, b)
	if err != nil {
		return err
	}
	l.Cost = cost
	s.spf.Purge()
	return nil
}

// SetLinkState brings a link down or up without forgetting its cost.
func (s *Static) SetLinkState(a, b netip.Addr, up bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	l, err := s.link(a, b)
	if err != nil {
		return err
	}
	l.Down = !up
	s.spf.Purge()
	return nil
}

func (s *Static) RemoveLink(a, b netip.Addr) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	key := newLinkKey(a, b)
	if _, ok := s.links[key]; !ok {
		return fmt.Errorf("%w: %s <-> %s", ErrLinkNotFound, a, b)
	}
	delete(s.links, key)
	s.spf.Purge()
	return nil
}

// AddPrefix declares that addresses inside prefix are attached to owner.
func (s *Static) AddPrefix(owner netip.Addr, prefix netip.Prefix) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.nodes[owner]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, owner)
	}
	if err := s.owners.Add(netipx.PrefixIPNet(prefix.Masked()), owner); err != nil {
		return fmt.Errorf("AddPrefix(%s): %w", prefix, err)
	}
	return nil
}

// Links returns every link ordered by its endpoints.
func (s *Static) Links() []Link {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	res := make([]Link, 0, len(s.links))
	for _, l := range s.links {
		res = append(res, *l)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].A != res[j].A {
			return res[i].A.Less(res[j].A)
		}
		return res[i].B.Less(res[j].B)
	})
	return res
}

// resolve maps an address to the router it belongs to.
func (s *Static) resolve(addr netip.Addr) (netip.Addr, bool) {
	if _, ok := s.nodes[addr]; ok {
		return addr, true
	}
	_, value, err := s.owners.MatchIP(addr.AsSlice())
	if err != nil || value == nil {
		return netip.Addr{}, false
	}
	return value.(netip.Addr), true
}

// Distance returns the IGP cost of the shortest path from the router from to the router
// owning to. It reports false when to cannot be resolved or reached.
func (s *Static) Distance(from, to netip.Addr) (uint32, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	owner, ok := s.resolve(to)
	if !ok {
		return 0, false
	}
	if owner == from {
		return 0, true
	}
	dist, ok := s.spf.Get(from)
	if !ok {
		dist = s.shortestPaths(from)
		s.spf.Add(from, dist)
	}
	d, ok := dist[owner]
	return d, ok
}

// shortestPaths runs Dijkstra from source over the links that are up.
func (s *Static) shortestPaths(source netip.Addr) map[netip.Addr]uint32 {
	adj := make(map[netip.Addr][]*Link)
	for _, l := range s.links {
		if l.Down {
			continue
		}
		adj[l.A] = append(adj[l.A], l)
		adj[l.B] = append(adj[l.B], l)
	}
	dist := map[netip.Addr]uint32{source: 0}
	visited := make(map[netip.Addr]bool)
	q := &spfQueue{{node: source, dist: 0}}
	for q.Len() > 0 {
		cur := heap.Pop(q).(spfItem)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true
		for _, l := range adj[cur.node] {
			next := l.A
			if next == cur.node {
				next = l.B
			}
			d := addCost(cur.dist, l.Cost)
			if old, ok := dist[next]; ok && old <= d {
				continue
			}
			dist[next] = d
			heap.Push(q, spfItem{node: next, dist: d})
		}
	}
	return dist
}

// addCost saturates at math.MaxUint32.
func addCost(a, b uint32) uint32 {
	if a > math.MaxUint32-b {
		return math.MaxUint32
	}
	return a + b
}

type spfItem struct {
	node netip.Addr
	dist uint32
}

type spfQueue []spfItem

func (q spfQueue) Len() int { return len(q) }

func (q spfQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].node.Less(q[j].node)
}

func (q spfQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *spfQueue) Push(x any) { *q = append(*q, x.(spfItem)) }

func (q *spfQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
