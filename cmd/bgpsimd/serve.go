package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/terassyi/bgpsim/pkg/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve a topology over the gRPC API",
	Run: func(cmd *cobra.Command, args []string) {
		conf, s, logger := load(cmd)
		host, err := cmd.Flags().GetString("host")
		if err != nil {
			log.Fatal(err)
		}
		port, err := cmd.Flags().GetInt("port")
		if err != nil {
			log.Fatal(err)
		}
		run, err := cmd.Flags().GetBool("run")
		if err != nil {
			log.Fatal(err)
		}
		metricsAddr, err := cmd.Flags().GetString("metrics")
		if err != nil {
			log.Fatal(err)
		}
		if conf.API != nil {
			if host == "" {
				host = conf.API.Host
			}
			if port == 0 {
				port = conf.API.Port
			}
			if metricsAddr == "" {
				metricsAddr = conf.API.Metrics
			}
		}
		if host == "" {
			host = api.DEFAULT_HOST
		}
		if port == 0 {
			port = api.DEFAULT_PORT
		}
		if run {
			if _, err := s.Run(nil); err != nil {
				log.Fatal(err)
			}
		}
		ctx, cancel := context.WithCancel(context.Background())
		ctrlC := make(chan os.Signal, 1)
		signal.Notify(ctrlC, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-ctrlC
			cancel()
		}()
		if metricsAddr != "" {
			go func() {
				if err := serveMetrics(ctx, metricsAddr, s, logger); err != nil {
					logger.Err("Metrics server failed: %s", err)
				}
			}()
		}
		server := api.NewServer(s, conf.Log, logger)
		if err := server.ListenAndServe(ctx, host, port); err != nil {
			log.Fatal(err)
		}
	},
}
