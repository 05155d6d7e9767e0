package bgp

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/segmentio/fasthash/fnv1a"
)

type Origin uint8

const (
	ORIGIN_IGP        Origin = iota
	ORIGIN_EGP        Origin = iota
	ORIGIN_INCOMPLETE Origin = iota
)

func (o Origin) String() string {
	switch o {
	case ORIGIN_IGP:
		return "IGP"
	case ORIGIN_EGP:
		return "EGP"
	case ORIGIN_INCOMPLETE:
		return "INCOMPLETE"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(o))
	}
}

func ParseOrigin(s string) (Origin, error) {
	switch strings.ToLower(s) {
	case "igp", "i":
		return ORIGIN_IGP, nil
	case "egp", "e":
		return ORIGIN_EGP, nil
	case "incomplete", "?":
		return ORIGIN_INCOMPLETE, nil
	default:
		return ORIGIN_INCOMPLETE, fmt.Errorf("invalid origin %q", s)
	}
}

const (
	SEG_TYPE_AS_SET      uint8 = 1
	SEG_TYPE_AS_SEQUENCE uint8 = 2
)

type ASPathSegment struct {
	Type uint8
	ASNs []uint32
}

func (s ASPathSegment) String() string {
	strs := make([]string, 0, len(s.ASNs))
	for _, as := range s.ASNs {
		strs = append(strs, strconv.FormatUint(uint64(as), 10))
	}
	if s.Type == SEG_TYPE_AS_SET {
		return "{" + strings.Join(strs, " ") + "}"
	}
	return strings.Join(strs, " ")
}

type ASPath struct {
	Segments []ASPathSegment
}

// CreateASPath returns a path made of a single AS_SEQUENCE.
func CreateASPath(asns ...uint32) ASPath {
	if len(asns) == 0 {
		return ASPath{}
	}
	seq := make([]uint32, len(asns))
	copy(seq, asns)
	return ASPath{Segments: []ASPathSegment{{Type: SEG_TYPE_AS_SEQUENCE, ASNs: seq}}}
}

// ParseASPath reads the textual form "1 2 {3 4} 5". Braces enclose an AS_SET.
func ParseASPath(s string) (ASPath, error) {
	path := ASPath{}
	s = strings.TrimSpace(s)
	for len(s) > 0 {
		if s[0] == '{' {
			end := strings.IndexByte(s, '}')
			if end < 0 {
				return ASPath{}, fmt.Errorf("%w: unterminated AS_SET in %q", ErrInvalidASPath, s)
			}
			asns, err := parseASNs(s[1:end])
			if err != nil {
				return ASPath{}, err
			}
			if len(asns) == 0 {
				return ASPath{}, fmt.Errorf("%w: empty AS_SET", ErrInvalidASPath)
			}
			path.Segments = append(path.Segments, ASPathSegment{Type: SEG_TYPE_AS_SET, ASNs: asns})
			s = strings.TrimSpace(s[end+1:])
			continue
		}
		end := strings.IndexByte(s, '{')
		if end < 0 {
			end = len(s)
		}
		asns, err := parseASNs(s[:end])
		if err != nil {
			return ASPath{}, err
		}
		path.Segments = append(path.Segments, ASPathSegment{Type: SEG_TYPE_AS_SEQUENCE, ASNs: asns})
		s = strings.TrimSpace(s[end:])
	}
	return path, nil
}

func parseASNs(s string) ([]uint32, error) {
	fields := strings.Fields(s)
	asns := make([]uint32, 0, len(fields))
	for _, f := range fields {
		as, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidASPath, err)
		}
		asns = append(asns, uint32(as))
	}
	return asns, nil
}

func (p ASPath) String() string {
	strs := make([]string, 0, len(p.Segments))
	for _, seg := range p.Segments {
		strs = append(strs, seg.String())
	}
	return strings.Join(strs, " ")
}

// Len returns the length used by the decision process. An AS_SET counts as one.
func (p ASPath) Len() int {
	l := 0
	for _, seg := range p.Segments {
		switch seg.Type {
		case SEG_TYPE_AS_SET:
			l++
		case SEG_TYPE_AS_SEQUENCE:
			l += len(seg.ASNs)
		}
	}
	return l
}

func (p ASPath) Contains(as uint32) bool {
	for _, seg := range p.Segments {
		for _, a := range seg.ASNs {
			if a == as {
				return true
			}
		}
	}
	return false
}

// First returns the leftmost AS of a leading AS_SEQUENCE, i.e. the neighbor AS.
func (p ASPath) First() (uint32, bool) {
	if len(p.Segments) == 0 || p.Segments[0].Type != SEG_TYPE_AS_SEQUENCE || len(p.Segments[0].ASNs) == 0 {
		return 0, false
	}
	return p.Segments[0].ASNs[0], true
}

// Prepend returns a new path with as added count times in front.
func (p ASPath) Prepend(as uint32, count int) ASPath {
	if count <= 0 {
		return p.Clone()
	}
	head := make([]uint32, count)
	for i := range head {
		head[i] = as
	}
	res := ASPath{Segments: make([]ASPathSegment, 0, len(p.Segments)+1)}
	if len(p.Segments) > 0 && p.Segments[0].Type == SEG_TYPE_AS_SEQUENCE {
		res.Segments = append(res.Segments, ASPathSegment{
			Type: SEG_TYPE_AS_SEQUENCE,
			ASNs: append(head, p.Segments[0].ASNs...),
		})
		for _, seg := range p.Segments[1:] {
			res.Segments = append(res.Segments, seg.clone())
		}
		return res
	}
	res.Segments = append(res.Segments, ASPathSegment{Type: SEG_TYPE_AS_SEQUENCE, ASNs: head})
	for _, seg := range p.Segments {
		res.Segments = append(res.Segments, seg.clone())
	}
	return res
}

func (s ASPathSegment) clone() ASPathSegment {
	asns := make([]uint32, len(s.ASNs))
	copy(asns, s.ASNs)
	return ASPathSegment{Type: s.Type, ASNs: asns}
}

func (p ASPath) Clone() ASPath {
	if len(p.Segments) == 0 {
		return ASPath{}
	}
	res := ASPath{Segments: make([]ASPathSegment, 0, len(p.Segments))}
	for _, seg := range p.Segments {
		res.Segments = append(res.Segments, seg.clone())
	}
	return res
}

func (p ASPath) Equal(o ASPath) bool {
	if len(p.Segments) != len(o.Segments) {
		return false
	}
	for i := range p.Segments {
		if p.Segments[i].Type != o.Segments[i].Type || len(p.Segments[i].ASNs) != len(o.Segments[i].ASNs) {
			return false
		}
		for j := range p.Segments[i].ASNs {
			if p.Segments[i].ASNs[j] != o.Segments[i].ASNs[j] {
				return false
			}
		}
	}
	return true
}

// Community is a standard 32 bit community value, ASN:VALUE.
type Community uint32

const (
	COMMUNITY_NO_EXPORT           Community = 0xFFFFFF01
	COMMUNITY_NO_ADVERTISE        Community = 0xFFFFFF02
	COMMUNITY_NO_EXPORT_SUBCONFED Community = 0xFFFFFF03
)

func NewCommunity(asn, value uint16) Community {
	return Community(uint32(asn)<<16 | uint32(value))
}

func (c Community) String() string {
	switch c {
	case COMMUNITY_NO_EXPORT:
		return "no-export"
	case COMMUNITY_NO_ADVERTISE:
		return "no-advertise"
	case COMMUNITY_NO_EXPORT_SUBCONFED:
		return "no-export-subconfed"
	}
	return fmt.Sprintf("%d:%d", uint32(c)>>16, uint32(c)&0xffff)
}

func ParseCommunity(s string) (Community, error) {
	switch strings.ToLower(s) {
	case "no-export":
		return COMMUNITY_NO_EXPORT, nil
	case "no-advertise":
		return COMMUNITY_NO_ADVERTISE, nil
	case "no-export-subconfed":
		return COMMUNITY_NO_EXPORT_SUBCONFED, nil
	}
	if asn, value, ok := strings.Cut(s, ":"); ok {
		a, err := strconv.ParseUint(asn, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidCommunity, s)
		}
		v, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidCommunity, s)
		}
		return NewCommunity(uint16(a), uint16(v)), nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCommunity, s)
	}
	return Community(v), nil
}

// ExtendedCommunity is a 64 bit extended community.
// Only the two-octet AS specific route target and route origin subtypes have a textual form.
type ExtendedCommunity uint64

const (
	EXT_COMMUNITY_ROUTE_TARGET uint16 = 0x0002
	EXT_COMMUNITY_ROUTE_ORIGIN uint16 = 0x0003
)

func NewExtendedCommunity(typ uint16, asn uint16, value uint32) ExtendedCommunity {
	return ExtendedCommunity(uint64(typ)<<48 | uint64(asn)<<32 | uint64(value))
}

func (c ExtendedCommunity) String() string {
	typ := uint16(c >> 48)
	asn := uint16(c >> 32)
	value := uint32(c)
	switch typ {
	case EXT_COMMUNITY_ROUTE_TARGET:
		return fmt.Sprintf("rt:%d:%d", asn, value)
	case EXT_COMMUNITY_ROUTE_ORIGIN:
		return fmt.Sprintf("soo:%d:%d", asn, value)
	default:
		return fmt.Sprintf("0x%016x", uint64(c))
	}
}

func ParseExtendedCommunity(s string) (ExtendedCommunity, error) {
	if strings.HasPrefix(s, "0x") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidCommunity, s)
		}
		return ExtendedCommunity(v), nil
	}
	fields := strings.Split(s, ":")
	if len(fields) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCommunity, s)
	}
	var typ uint16
	switch fields[0] {
	case "rt":
		typ = EXT_COMMUNITY_ROUTE_TARGET
	case "soo":
		typ = EXT_COMMUNITY_ROUTE_ORIGIN
	default:
		return 0, fmt.Errorf("%w: unknown type %q", ErrInvalidCommunity, fields[0])
	}
	asn, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCommunity, s)
	}
	value, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCommunity, s)
	}
	return NewExtendedCommunity(typ, uint16(asn), uint32(value)), nil
}

const DEFAULT_LOCAL_PREF uint32 = 100

// Attributes is the mutable form of a route's path attributes.
// It is interned into an immutable *Attrs by the AttrStore.
type Attributes struct {
	Origin         Origin
	ASPath         ASPath
	NextHop        netip.Addr
	LocalPref      uint32
	MED            uint32
	Communities    []Community
	ExtCommunities []ExtendedCommunity
	OriginatorID   netip.Addr
	ClusterList    []netip.Addr
}

func (a Attributes) Clone() Attributes {
	res := a
	res.ASPath = a.ASPath.Clone()
	if a.Communities != nil {
		res.Communities = make([]Community, len(a.Communities))
		copy(res.Communities, a.Communities)
	}
	if a.ExtCommunities != nil {
		res.ExtCommunities = make([]ExtendedCommunity, len(a.ExtCommunities))
		copy(res.ExtCommunities, a.ExtCommunities)
	}
	if a.ClusterList != nil {
		res.ClusterList = make([]netip.Addr, len(a.ClusterList))
		copy(res.ClusterList, a.ClusterList)
	}
	return res
}

func (a *Attributes) HasCommunity(c Community) bool {
	for _, cc := range a.Communities {
		if cc == c {
			return true
		}
	}
	return false
}

func (a *Attributes) HasExtCommunity(c ExtendedCommunity) bool {
	for _, cc := range a.ExtCommunities {
		if cc == c {
			return true
		}
	}
	return false
}

func (a *Attributes) AddCommunity(c Community) {
	if !a.HasCommunity(c) {
		a.Communities = append(a.Communities, c)
	}
}

func (a *Attributes) RemoveCommunity(c Community) {
	res := a.Communities[:0]
	for _, cc := range a.Communities {
		if cc != c {
			res = append(res, cc)
		}
	}
	if len(res) == 0 {
		res = nil
	}
	a.Communities = res
}

func (a *Attributes) AddExtCommunity(c ExtendedCommunity) {
	if !a.HasExtCommunity(c) {
		a.ExtCommunities = append(a.ExtCommunities, c)
	}
}

// canonicalize orders the unordered parts so that equal attribute sets have equal representations.
func (a *Attributes) canonicalize() {
	if len(a.Communities) == 0 {
		a.Communities = nil
	} else {
		sort.Slice(a.Communities, func(i, j int) bool { return a.Communities[i] < a.Communities[j] })
		a.Communities = dedup(a.Communities)
	}
	if len(a.ExtCommunities) == 0 {
		a.ExtCommunities = nil
	} else {
		sort.Slice(a.ExtCommunities, func(i, j int) bool { return a.ExtCommunities[i] < a.ExtCommunities[j] })
		a.ExtCommunities = dedup(a.ExtCommunities)
	}
	if len(a.ClusterList) == 0 {
		a.ClusterList = nil
	}
	for i, seg := range a.ASPath.Segments {
		if seg.Type == SEG_TYPE_AS_SET {
			sort.Slice(seg.ASNs, func(x, y int) bool { return seg.ASNs[x] < seg.ASNs[y] })
			a.ASPath.Segments[i].ASNs = dedup(seg.ASNs)
		}
	}
	if len(a.ASPath.Segments) == 0 {
		a.ASPath.Segments = nil
	}
}

func dedup[T comparable](s []T) []T {
	if len(s) < 2 {
		return s
	}
	res := s[:1]
	for _, v := range s[1:] {
		if v != res[len(res)-1] {
			res = append(res, v)
		}
	}
	return res
}

func (a *Attributes) equal(b *Attributes) bool {
	if a.Origin != b.Origin || a.NextHop != b.NextHop || a.LocalPref != b.LocalPref || a.MED != b.MED || a.OriginatorID != b.OriginatorID {
		return false
	}
	if !a.ASPath.Equal(b.ASPath) {
		return false
	}
	if len(a.Communities) != len(b.Communities) || len(a.ExtCommunities) != len(b.ExtCommunities) || len(a.ClusterList) != len(b.ClusterList) {
		return false
	}
	for i := range a.Communities {
		if a.Communities[i] != b.Communities[i] {
			return false
		}
	}
	for i := range a.ExtCommunities {
		if a.ExtCommunities[i] != b.ExtCommunities[i] {
			return false
		}
	}
	for i := range a.ClusterList {
		if a.ClusterList[i] != b.ClusterList[i] {
			return false
		}
	}
	return true
}

// hash must be called on canonical attributes.
// The AS path is hashed in order. Community sets are sorted beforehand so their order does not matter.
func (a *Attributes) hash() uint64 {
	h := fnv1a.Init64
	h = fnv1a.AddUint64(h, uint64(a.Origin))
	for _, seg := range a.ASPath.Segments {
		h = fnv1a.AddUint64(h, uint64(seg.Type))
		for _, as := range seg.ASNs {
			h = fnv1a.AddUint64(h, uint64(as))
		}
	}
	h = fnv1a.AddBytes64(h, a.NextHop.AsSlice())
	h = fnv1a.AddUint64(h, uint64(a.LocalPref))
	h = fnv1a.AddUint64(h, uint64(a.MED))
	for _, c := range a.Communities {
		h = fnv1a.AddUint64(h, uint64(c))
	}
	h = fnv1a.AddUint64(h, 0xff)
	for _, c := range a.ExtCommunities {
		h = fnv1a.AddUint64(h, uint64(c))
	}
	h = fnv1a.AddBytes64(h, a.OriginatorID.AsSlice())
	for _, id := range a.ClusterList {
		h = fnv1a.AddBytes64(h, id.AsSlice())
	}
	return h
}

func (a *Attributes) String() string {
	s := fmt.Sprintf("origin=%s as_path=[%s] next_hop=%s local_pref=%d med=%d", a.Origin, a.ASPath, a.NextHop, a.LocalPref, a.MED)
	if len(a.Communities) > 0 {
		s += fmt.Sprintf(" communities=%v", a.Communities)
	}
	if len(a.ExtCommunities) > 0 {
		s += fmt.Sprintf(" ext_communities=%v", a.ExtCommunities)
	}
	if a.OriginatorID.IsValid() {
		s += fmt.Sprintf(" originator_id=%s", a.OriginatorID)
	}
	if len(a.ClusterList) > 0 {
		s += fmt.Sprintf(" cluster_list=%v", a.ClusterList)
	}
	return s
}
