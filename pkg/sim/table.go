package sim

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
)

func flag(b bool, s string) string {
	if b {
		return s
	}
	return ""
}

// WriteRoutes renders routes as a table. Best routes are marked with '*' and infeasible ones with 'x'.
func WriteRoutes(w io.Writer, routes []RouteInfo) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"", "Router", "Prefix", "Peer", "Next Hop", "AS Path", "Origin", "LocPrf", "MED", "Communities", "Reason"})
	table.SetAutoWrapText(false)
	for _, r := range routes {
		mark := flag(r.Best, "*") + flag(!r.Feasible, "x")
		peer := r.Peer
		if r.Local {
			peer = "local"
		}
		table.Append([]string{
			mark,
			r.Router,
			r.Prefix,
			peer,
			r.NextHop,
			r.ASPath,
			r.Origin,
			fmt.Sprintf("%d", r.LocalPref),
			fmt.Sprintf("%d", r.MED),
			strings.Join(append(append([]string{}, r.Communities...), r.ExtCommunities...), " "),
			r.Reason,
		})
	}
	table.Render()
}

func WritePeers(w io.Writer, peers []PeerInfo) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Router", "Peer", "AS", "Router ID", "State", "Type", "Received", "Advertised", "Updates In/Out", "Resets"})
	for _, p := range peers {
		kind := "eBGP"
		if p.IBGP {
			kind = "iBGP" + flag(p.RRClient, " (rr-client)")
		}
		table.Append([]string{
			p.Router,
			p.Address,
			fmt.Sprintf("%d", p.AS),
			p.RouterID,
			p.State,
			kind,
			fmt.Sprintf("%d", p.Received),
			fmt.Sprintf("%d", p.Advertised),
			fmt.Sprintf("%d/%d", p.UpdatesIn, p.UpdatesOut),
			fmt.Sprintf("%d", p.Resets),
		})
	}
	table.Render()
}
