package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/terassyi/bgpsim/pkg/api"
)

var rootCmd = &cobra.Command{
	Use:   "bgpsimd [command]",
	Short: "BGP routing simulator daemon",
}

func init() {
	// run
	runCmd.Flags().StringP("config", "c", "", "topology configuration file path")
	runCmd.Flags().StringP("until", "u", "", "stop at this simulated time (overrides the configuration)")
	runCmd.Flags().IntP("max-events", "m", 0, "stop after this number of events (overrides the configuration)")
	runCmd.Flags().StringP("dump", "d", "table", "output format of the result (table, yaml or json)")

	// serve
	serveCmd.Flags().StringP("config", "c", "", "topology configuration file path")
	serveCmd.Flags().StringP("host", "H", "", "API server host")
	serveCmd.Flags().IntP("port", "p", 0, fmt.Sprintf("API server port (default %d)", api.DEFAULT_PORT))
	serveCmd.Flags().BoolP("run", "r", false, "run the simulation to its stop condition before serving")
	serveCmd.Flags().StringP("metrics", "M", "", "address to export prometheus metrics on (disabled when empty)")

	rootCmd.AddCommand(
		runCmd,
		serveCmd,
	)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("bgpsimd Error\n\n%s", err)
		os.Exit(1)
	}
}
