package sim

import (
	"time"

	"github.com/terassyi/bgpsim/pkg/bgp"
)

// RouteInfo is a read-only record of one path held by a router.
type RouteInfo struct {
	Router         string        `json:"router" yaml:"router"`
	Prefix         string        `json:"prefix" yaml:"prefix"`
	Peer           string        `json:"peer" yaml:"peer"`
	PeerAS         uint32        `json:"peer-as" yaml:"peer-as"`
	NextHop        string        `json:"next-hop" yaml:"next-hop"`
	ASPath         string        `json:"as-path" yaml:"as-path"`
	Origin         string        `json:"origin" yaml:"origin"`
	LocalPref      uint32        `json:"local-pref" yaml:"local-pref"`
	MED            uint32        `json:"med" yaml:"med"`
	Communities    []string      `json:"communities,omitempty" yaml:"communities,omitempty"`
	ExtCommunities []string      `json:"ext-communities,omitempty" yaml:"ext-communities,omitempty"`
	OriginatorID   string        `json:"originator-id,omitempty" yaml:"originator-id,omitempty"`
	ClusterList    []string      `json:"cluster-list,omitempty" yaml:"cluster-list,omitempty"`
	Local          bool          `json:"local" yaml:"local"`
	Best           bool          `json:"best" yaml:"best"`
	Feasible       bool          `json:"feasible" yaml:"feasible"`
	Reason         string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Received       time.Duration `json:"received" yaml:"received"`
}

func newRouteInfo(router string, path *bgp.Path) RouteInfo {
	attrs := path.Attrs()
	info := RouteInfo{
		Router:    router,
		Prefix:    path.Prefix().String(),
		Peer:      path.Peer().String(),
		PeerAS:    path.PeerAS(),
		NextHop:   attrs.NextHop().String(),
		ASPath:    attrs.ASPath().String(),
		Origin:    attrs.Origin().String(),
		LocalPref: attrs.LocalPref(),
		MED:       attrs.MED(),
		Local:     path.IsLocal(),
		Best:      path.IsBest(),
		Feasible:  path.IsFeasible(),
		Received:  path.Received(),
	}
	if path.IsBest() {
		info.Reason = path.Reason().String()
	}
	for _, c := range attrs.Communities() {
		info.Communities = append(info.Communities, c.String())
	}
	for _, c := range attrs.ExtCommunities() {
		info.ExtCommunities = append(info.ExtCommunities, c.String())
	}
	if id := attrs.OriginatorID(); id.IsValid() {
		info.OriginatorID = id.String()
	}
	for _, id := range attrs.ClusterList() {
		info.ClusterList = append(info.ClusterList, id.String())
	}
	return info
}

func routeInfos(router string, paths []*bgp.Path) []RouteInfo {
	res := make([]RouteInfo, 0, len(paths))
	for _, path := range paths {
		res = append(res, newRouteInfo(router, path))
	}
	return res
}

type PeerInfo struct {
	Router     string        `json:"router" yaml:"router"`
	Address    string        `json:"address" yaml:"address"`
	AS         uint32        `json:"as" yaml:"as"`
	RouterID   string        `json:"router-id" yaml:"router-id"`
	State      string        `json:"state" yaml:"state"`
	IBGP       bool          `json:"ibgp" yaml:"ibgp"`
	RRClient   bool          `json:"rr-client" yaml:"rr-client"`
	HoldTime   time.Duration `json:"hold-time" yaml:"hold-time"`
	Received   int           `json:"received" yaml:"received"`
	Advertised int           `json:"advertised" yaml:"advertised"`
	UpdatesIn  int           `json:"updates-in" yaml:"updates-in"`
	UpdatesOut int           `json:"updates-out" yaml:"updates-out"`
	Resets     int           `json:"resets" yaml:"resets"`
}

func newPeerInfo(router string, status bgp.PeerStatus) PeerInfo {
	return PeerInfo{
		Router:     router,
		Address:    status.Address.String(),
		AS:         status.AS,
		RouterID:   status.RouterID.String(),
		State:      status.State,
		IBGP:       status.IBGP,
		RRClient:   status.RRClient,
		HoldTime:   status.HoldTime,
		Received:   status.Received,
		Advertised: status.Advertised,
		UpdatesIn:  status.UpdatesIn,
		UpdatesOut: status.UpdatesOut,
		Resets:     status.Resets,
	}
}

type RouterInfo struct {
	Address string      `json:"address" yaml:"address"`
	AS      uint32      `json:"as" yaml:"as"`
	Routes  []RouteInfo `json:"routes" yaml:"routes"`
	Peers   []PeerInfo  `json:"peers" yaml:"peers"`
}

// Snapshot is the state of every router at a simulated time.
type Snapshot struct {
	Time       time.Duration `json:"time" yaml:"time"`
	Pending    int           `json:"pending" yaml:"pending"`
	Attributes int           `json:"attributes" yaml:"attributes"`
	Routers    []RouterInfo  `json:"routers" yaml:"routers"`
}
