package bgp

import (
	"fmt"
	"net/netip"
	"time"
)

// peerInfo describes where a path was learned from.
// Locally originated paths carry the router itself as source.
type peerInfo struct {
	addr     netip.Addr
	routerId netip.Addr
	as       uint32
	ibgp     bool
	rrClient bool
	local    bool
}

func (i *peerInfo) isIBGP() bool {
	return i.ibgp && !i.local
}

func (i *peerInfo) isEBGP() bool {
	return !i.ibgp && !i.local
}

type PathStatus uint8

const (
	PathStatusNotFeasible PathStatus = iota
	PathStatusFeasible    PathStatus = iota
	PathStatusInstalled   PathStatus = iota
)

func (s PathStatus) String() string {
	switch s {
	case PathStatusNotFeasible:
		return "not feasible"
	case PathStatusFeasible:
		return "feasible"
	case PathStatusInstalled:
		return "installed"
	default:
		return "unknown"
	}
}

// Path is one route for a prefix as held in an Adj-RIB-In or Adj-RIB-Out.
// Its attributes are shared through the AttrStore; the path owns one reference on them.
type Path struct {
	prefix   netip.Prefix
	attrs    *Attrs
	info     *peerInfo
	received time.Duration
	status   PathStatus
	reason   DecisionStep
}

func newPath(prefix netip.Prefix, attrs *Attrs, info *peerInfo, received time.Duration) *Path {
	return &Path{
		prefix:   prefix,
		attrs:    attrs,
		info:     info,
		received: received,
		status:   PathStatusNotFeasible,
		reason:   STEP_NOT_COMPARED,
	}
}

func (p *Path) Prefix() netip.Prefix {
	return p.prefix
}

func (p *Path) Attrs() *Attrs {
	return p.attrs
}

func (p *Path) NextHop() netip.Addr {
	return p.attrs.NextHop()
}

// Peer returns the address of the peer the path was learned from.
func (p *Path) Peer() netip.Addr {
	return p.info.addr
}

func (p *Path) PeerAS() uint32 {
	return p.info.as
}

func (p *Path) IsLocal() bool {
	return p.info.local
}

func (p *Path) IsIBGP() bool {
	return p.info.isIBGP()
}

func (p *Path) Received() time.Duration {
	return p.received
}

func (p *Path) Status() PathStatus {
	return p.status
}

func (p *Path) IsBest() bool {
	return p.status == PathStatusInstalled
}

func (p *Path) IsFeasible() bool {
	return p.status != PathStatusNotFeasible
}

// Reason is the decision step that selected this path when it is the best one.
func (p *Path) Reason() DecisionStep {
	return p.reason
}

// routerId is the BGP identifier used for tie breaking.
// A reflected path is identified by its ORIGINATOR_ID.
func (p *Path) routerId() netip.Addr {
	if id := p.attrs.OriginatorID(); id.IsValid() {
		return id
	}
	return p.info.routerId
}

// neighborAS is the AS the path was received from, used to scope MED comparison.
func (p *Path) neighborAS() uint32 {
	if as, ok := p.attrs.ASPath().First(); ok {
		return as
	}
	return 0
}

func (p *Path) String() string {
	return fmt.Sprintf("%s from %s {%s} status=%s", p.prefix, p.info.addr, p.attrs, p.status)
}
