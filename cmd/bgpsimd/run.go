package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/terassyi/bgpsim/pkg/config"
	simLog "github.com/terassyi/bgpsim/pkg/log"
	"github.com/terassyi/bgpsim/pkg/sched"
	"github.com/terassyi/bgpsim/pkg/sim"
	"gopkg.in/yaml.v3"
)

func load(cmd *cobra.Command) (*config.Config, *sim.Simulator, simLog.Logger) {
	file, err := cmd.Flags().GetString("config")
	if err != nil {
		log.Fatal(err)
	}
	if file == "" {
		fmt.Println("please specify config file.")
		os.Exit(1)
	}
	conf, err := config.Load(file)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := simLog.New(simLog.Level(conf.Log.Level), conf.Log.Out)
	if err != nil {
		log.Fatal(err)
	}
	s, err := sim.FromConfig(conf, logger)
	if err != nil {
		log.Fatal(err)
	}
	return conf, s, logger
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run a topology to its stop condition and print the result",
	Run: func(cmd *cobra.Command, args []string) {
		_, s, _ := load(cmd)
		until, err := cmd.Flags().GetString("until")
		if err != nil {
			log.Fatal(err)
		}
		maxEvents, err := cmd.Flags().GetInt("max-events")
		if err != nil {
			log.Fatal(err)
		}
		dump, err := cmd.Flags().GetString("dump")
		if err != nil {
			log.Fatal(err)
		}
		conds := []sched.StopCondition{}
		if until != "" {
			d, err := time.ParseDuration(until)
			if err != nil {
				log.Fatal(err)
			}
			conds = append(conds, sched.AtTime(d))
		}
		if maxEvents > 0 {
			conds = append(conds, sched.MaxEvents(maxEvents))
		}
		if len(conds) > 0 {
			s.SetStopCondition(sched.Any(conds...))
		}
		stats, err := s.Run(nil)
		if err != nil {
			log.Fatal(err)
		}
		snapshot, err := s.Snapshot()
		if err != nil {
			log.Fatal(err)
		}
		switch dump {
		case "yaml":
			data, err := yaml.Marshal(snapshot)
			if err != nil {
				log.Fatal(err)
			}
			fmt.Print(string(data))
		case "json":
			data, err := json.MarshalIndent(snapshot, "", "  ")
			if err != nil {
				log.Fatal(err)
			}
			fmt.Println(string(data))
		case "table":
			fmt.Printf("Simulated %s: %d events dispatched, %d pending, %d interned attributes\n\n",
				stats.Now, stats.Dispatched, stats.Remaining, snapshot.Attributes)
			routes := []sim.RouteInfo{}
			for _, r := range snapshot.Routers {
				routes = append(routes, r.Routes...)
			}
			sim.WriteRoutes(os.Stdout, routes)
		default:
			fmt.Printf("unknown dump format %s\n", dump)
			os.Exit(1)
		}
	},
}
