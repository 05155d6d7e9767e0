package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/terassyi/bgpsim/pkg/api"
	"github.com/terassyi/bgpsim/pkg/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "dispatch pending events",
	Run: func(cmd *cobra.Command, args []string) {
		until := mustString(cmd, "until")
		maxEvents, err := cmd.Flags().GetInt("max-events")
		if err != nil {
			log.Fatal(err)
		}
		do(cmd, func(ctx context.Context, client *api.Client) error {
			res, err := client.Run(ctx, until, maxEvents)
			if err != nil {
				return err
			}
			fmt.Printf("dispatched %d events, simulated time %s, %d pending\n", res.Dispatched, res.Now, res.Remaining)
			return nil
		})
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "session operating commands",
}

func sessionCommand(use, short string, f func(*api.Client, context.Context, string, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Run: func(cmd *cobra.Command, args []string) {
			router := requireString(cmd, "router")
			peer := requireString(cmd, "peer")
			do(cmd, func(ctx context.Context, client *api.Client) error {
				return f(client, ctx, router, peer)
			})
		},
	}
}

var (
	sessionStartSubCmd  = sessionCommand("start", "start a session", (*api.Client).StartSession)
	sessionStopSubCmd   = sessionCommand("stop", "stop a session", (*api.Client).StopSession)
	sessionExpireSubCmd = sessionCommand("expire", "expire the hold timer of a session", (*api.Client).ExpireHoldTimer)
)

var originateCmd = &cobra.Command{
	Use:   "originate",
	Short: "originate a prefix from a router",
	Run: func(cmd *cobra.Command, args []string) {
		router := requireString(cmd, "router")
		prefix := requireString(cmd, "prefix")
		do(cmd, func(ctx context.Context, client *api.Client) error {
			return client.Originate(ctx, router, prefix)
		})
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "withdraw a prefix originated by a router",
	Run: func(cmd *cobra.Command, args []string) {
		router := requireString(cmd, "router")
		prefix := requireString(cmd, "prefix")
		do(cmd, func(ctx context.Context, client *api.Client) error {
			return client.WithdrawOrigin(ctx, router, prefix)
		})
	},
}

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "place a route into a router",
	Run: func(cmd *cobra.Command, args []string) {
		route := config.Route{
			Router:  requireString(cmd, "router"),
			Peer:    mustString(cmd, "peer"),
			Prefix:  requireString(cmd, "prefix"),
			ASPath:  mustString(cmd, "as-path"),
			NextHop: mustString(cmd, "next-hop"),
			Origin:  mustString(cmd, "origin"),
		}
		var err error
		if route.LocalPref, err = cmd.Flags().GetUint32("local-pref"); err != nil {
			log.Fatal(err)
		}
		if route.MED, err = cmd.Flags().GetUint32("med"); err != nil {
			log.Fatal(err)
		}
		if route.Communities, err = cmd.Flags().GetStringSlice("community"); err != nil {
			log.Fatal(err)
		}
		do(cmd, func(ctx context.Context, client *api.Client) error {
			return client.Inject(ctx, route)
		})
	},
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "IGP link operating commands",
}

var linkCostSubCmd = &cobra.Command{
	Use:   "cost <a> <b>",
	Short: "change the cost of a link",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cost, err := cmd.Flags().GetUint32("cost")
		if err != nil {
			log.Fatal(err)
		}
		do(cmd, func(ctx context.Context, client *api.Client) error {
			return client.SetLinkCost(ctx, args[0], args[1], cost)
		})
	},
}

var linkDownSubCmd = &cobra.Command{
	Use:   "down <a> <b>",
	Short: "bring a link down (or up with --up)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		up, err := cmd.Flags().GetBool("up")
		if err != nil {
			log.Fatal(err)
		}
		do(cmd, func(ctx context.Context, client *api.Client) error {
			return client.SetLinkState(ctx, args[0], args[1], up)
		})
	},
}

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "re-run the decision process",
	Run: func(cmd *cobra.Command, args []string) {
		router := mustString(cmd, "router")
		do(cmd, func(ctx context.Context, client *api.Client) error {
			return client.Rescan(ctx, router)
		})
	},
}
