package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/terassyi/bgpsim/pkg/api"
	"github.com/terassyi/bgpsim/pkg/sim"
	"gopkg.in/yaml.v3"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "show simulator state",
}

var showRoutesSubCmd = &cobra.Command{
	Use:   "routes",
	Short: "show the best routes of a router",
	Run: func(cmd *cobra.Command, args []string) {
		router := requireString(cmd, "router")
		do(cmd, func(ctx context.Context, client *api.Client) error {
			routes, err := client.BestRoutes(ctx, router)
			if err != nil {
				return err
			}
			sim.WriteRoutes(os.Stdout, routes)
			return nil
		})
	},
}

var showRibSubCmd = &cobra.Command{
	Use:   "rib",
	Short: "show every candidate route of a router",
	Run: func(cmd *cobra.Command, args []string) {
		router := requireString(cmd, "router")
		prefix := mustString(cmd, "prefix")
		do(cmd, func(ctx context.Context, client *api.Client) error {
			routes, err := client.RibDump(ctx, router, prefix)
			if err != nil {
				return err
			}
			sim.WriteRoutes(os.Stdout, routes)
			return nil
		})
	},
}

var showPeersSubCmd = &cobra.Command{
	Use:   "peers",
	Short: "show the sessions of a router",
	Run: func(cmd *cobra.Command, args []string) {
		router := requireString(cmd, "router")
		do(cmd, func(ctx context.Context, client *api.Client) error {
			peers, err := client.Peers(ctx, router)
			if err != nil {
				return err
			}
			sim.WritePeers(os.Stdout, peers)
			return nil
		})
	},
}

var showAdjOutSubCmd = &cobra.Command{
	Use:   "adj-out",
	Short: "show the routes advertised to a peer",
	Run: func(cmd *cobra.Command, args []string) {
		router := requireString(cmd, "router")
		peer := requireString(cmd, "peer")
		do(cmd, func(ctx context.Context, client *api.Client) error {
			routes, err := client.AdjRibOut(ctx, router, peer)
			if err != nil {
				return err
			}
			sim.WriteRoutes(os.Stdout, routes)
			return nil
		})
	},
}

var showSnapshotSubCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "dump the state of every router as yaml",
	Run: func(cmd *cobra.Command, args []string) {
		do(cmd, func(ctx context.Context, client *api.Client) error {
			snapshot, err := client.Snapshot(ctx)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(snapshot)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		})
	},
}
