package bgp

import (
	"fmt"
	"net/netip"
	"sync"
)

// Attrs is an interned, immutable attribute set.
// Two routes with equal attributes share the same *Attrs, so pointer equality is attribute equality.
// Slices returned by the accessors must not be modified.
type Attrs struct {
	value Attributes
	hash  uint64
	refs  int
}

func (a *Attrs) Origin() Origin {
	return a.value.Origin
}

func (a *Attrs) ASPath() ASPath {
	return a.value.ASPath
}

func (a *Attrs) NextHop() netip.Addr {
	return a.value.NextHop
}

func (a *Attrs) LocalPref() uint32 {
	return a.value.LocalPref
}

func (a *Attrs) MED() uint32 {
	return a.value.MED
}

func (a *Attrs) Communities() []Community {
	return a.value.Communities
}

func (a *Attrs) ExtCommunities() []ExtendedCommunity {
	return a.value.ExtCommunities
}

func (a *Attrs) OriginatorID() netip.Addr {
	return a.value.OriginatorID
}

func (a *Attrs) ClusterList() []netip.Addr {
	return a.value.ClusterList
}

func (a *Attrs) HasCommunity(c Community) bool {
	return a.value.HasCommunity(c)
}

// Value returns a deep copy that may be modified and interned again.
func (a *Attrs) Value() Attributes {
	return a.value.Clone()
}

func (a *Attrs) String() string {
	if a == nil {
		return "<nil>"
	}
	return a.value.String()
}

// AttrStore deduplicates attribute sets and counts the references held on each of them.
type AttrStore struct {
	mutex   sync.Mutex
	buckets map[uint64][]*Attrs
	count   int
}

func NewAttrStore() *AttrStore {
	return &AttrStore{
		buckets: make(map[uint64][]*Attrs),
	}
}

// Intern returns the canonical instance equal to attrs and takes one reference on it.
func (s *AttrStore) Intern(attrs Attributes) *Attrs {
	value := attrs.Clone()
	value.canonicalize()
	h := value.hash()

	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, a := range s.buckets[h] {
		if a.value.equal(&value) {
			a.refs++
			return a
		}
	}
	a := &Attrs{value: value, hash: h, refs: 1}
	s.buckets[h] = append(s.buckets[h], a)
	s.count++
	return a
}

// Retain takes an additional reference on a.
func (s *AttrStore) Retain(a *Attrs) *Attrs {
	if a == nil {
		return nil
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if a.refs <= 0 {
		panic(fmt.Errorf("%w: retain %s", ErrDoubleRelease, a))
	}
	a.refs++
	return a
}

// Release drops one reference. The last release removes the instance from the store.
func (s *AttrStore) Release(a *Attrs) {
	if a == nil {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if a.refs <= 0 {
		panic(fmt.Errorf("%w: %s", ErrDoubleRelease, a))
	}
	a.refs--
	if a.refs > 0 {
		return
	}
	bucket := s.buckets[a.hash]
	for i, b := range bucket {
		if b == a {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(s.buckets, a.hash)
	} else {
		s.buckets[a.hash] = bucket
	}
	s.count--
}

// Len returns the number of live distinct attribute sets.
func (s *AttrStore) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.count
}

func (s *AttrStore) Refs(a *Attrs) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return a.refs
}
