package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/terassyi/bgpsim/pkg/api"
)

var rootCmd = &cobra.Command{
	Use:   "bgpsim <command>",
	Short: "BGP routing simulator CLI client",
}

func init() {
	rootCmd.PersistentFlags().StringP("endpoint", "e", fmt.Sprintf("%s:%d", api.DEFAULT_HOST, api.DEFAULT_PORT), "bgpsimd API endpoint")

	// show
	showRoutesSubCmd.Flags().StringP("router", "r", "", "router address")
	showRibSubCmd.Flags().StringP("router", "r", "", "router address")
	showRibSubCmd.Flags().StringP("prefix", "n", "", "prefix (all prefixes when empty)")
	showPeersSubCmd.Flags().StringP("router", "r", "", "router address")
	showAdjOutSubCmd.Flags().StringP("router", "r", "", "router address")
	showAdjOutSubCmd.Flags().StringP("peer", "d", "", "peer address")
	showCmd.AddCommand(
		showRoutesSubCmd,
		showRibSubCmd,
		showPeersSubCmd,
		showAdjOutSubCmd,
		showSnapshotSubCmd,
	)

	// run
	runCmd.Flags().StringP("until", "u", "", "advance the simulated time by this duration")
	runCmd.Flags().IntP("max-events", "m", 0, "stop after this number of events")

	// session
	for _, c := range []*cobra.Command{sessionStartSubCmd, sessionStopSubCmd, sessionExpireSubCmd} {
		c.Flags().StringP("router", "r", "", "router address")
		c.Flags().StringP("peer", "d", "", "peer address")
	}
	sessionCmd.AddCommand(
		sessionStartSubCmd,
		sessionStopSubCmd,
		sessionExpireSubCmd,
	)

	// network
	for _, c := range []*cobra.Command{originateCmd, withdrawCmd} {
		c.Flags().StringP("router", "r", "", "router address")
		c.Flags().StringP("prefix", "n", "", "prefix")
	}
	injectCmd.Flags().StringP("router", "r", "", "router address")
	injectCmd.Flags().StringP("peer", "d", "", "peer the route is received from (the router itself when empty)")
	injectCmd.Flags().StringP("prefix", "n", "", "prefix")
	injectCmd.Flags().StringP("as-path", "a", "", "AS path")
	injectCmd.Flags().String("next-hop", "", "next hop")
	injectCmd.Flags().Uint32("local-pref", 0, "local preference")
	injectCmd.Flags().Uint32("med", 0, "multi exit discriminator")
	injectCmd.Flags().String("origin", "", "origin (igp, egp or incomplete)")
	injectCmd.Flags().StringSlice("community", []string{}, "communities")
	linkCostSubCmd.Flags().Uint32("cost", 0, "link cost")
	linkDownSubCmd.Flags().Bool("up", false, "bring the link back up")
	linkCmd.AddCommand(
		linkCostSubCmd,
		linkDownSubCmd,
	)
	rescanCmd.Flags().StringP("router", "r", "", "router address (every router when empty)")

	// logs
	logsCmd.Flags().BoolP("follow", "f", false, "follow logs")
	logsCmd.Flags().BoolP("plain-text", "p", false, "plain text format")

	rootCmd.AddCommand(
		healthCmd,
		showCmd,
		runCmd,
		sessionCmd,
		originateCmd,
		withdrawCmd,
		injectCmd,
		linkCmd,
		rescanCmd,
		logsCmd,
	)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("bgpsim Error\n\n%s", err)
		os.Exit(1)
	}
}
