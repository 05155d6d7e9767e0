package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/terassyi/bgpsim/pkg/api"
)

const timeout = 10 * time.Second

func newClient(cmd *cobra.Command) *api.Client {
	endpoint, err := cmd.Flags().GetString("endpoint")
	if err != nil {
		log.Fatal(err)
	}
	client, err := api.NewClient(endpoint)
	if err != nil {
		log.Fatal(err)
	}
	return client
}

// do calls f with a connected client and exits on failure.
func do(cmd *cobra.Command, f func(ctx context.Context, client *api.Client) error) {
	client := newClient(cmd)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := f(ctx, client); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func mustString(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func requireString(cmd *cobra.Command, name string) string {
	v := mustString(cmd, name)
	if v == "" {
		fmt.Printf("please specify --%s.\n", name)
		os.Exit(1)
	}
	return v
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "health check",
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		defer client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := client.Health(ctx); err != nil {
			fmt.Println("bgpsimd is unhealthy")
			os.Exit(1)
		}
		fmt.Println("bgpsimd is healthy")
	},
}
