package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
	simLog "github.com/terassyi/bgpsim/pkg/log"
)

type logJson struct {
	Time     string  `json:"time"`
	SimTime  float64 `json:"sim_time"`
	Level    string  `json:"level"`
	Protocol string  `json:"protocol"`
	Router   string  `json:"router"`
	Message  string  `json:"message"`
}

func formatPlainText(lj *logJson) string {
	return fmt.Sprintf("%s|%vms|%s|%s|%s|%s", lj.Time, lj.SimTime, lj.Level, lj.Protocol, lj.Router, lj.Message)
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "show simulator logs",
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		res, err := client.LogPath(context.Background())
		client.Close()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		level := simLog.Level(res.Level)
		switch res.Path {
		case "stdout":
			fmt.Printf("Logs are output to standard output with level %s.\n", level)
			os.Exit(0)
		case "stderr":
			fmt.Printf("Logs are output to standard error(stderr) with level %s.\n", level)
			os.Exit(0)
		case "":
			fmt.Println("Logs are not output")
			os.Exit(0)
		}
		follow, err := cmd.Flags().GetBool("follow")
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		plain, err := cmd.Flags().GetBool("plain-text")
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Printf("bgpsimd Logs Output %s with level %s\n\n", res.Path, level)
		t, err := tail.TailFile(res.Path, tail.Config{
			ReOpen: follow,
			Poll:   true,
			Follow: follow,
		})
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			for line := range t.Lines {
				if !plain {
					fmt.Println(line.Text)
					continue
				}
				lj := &logJson{}
				if err := json.Unmarshal([]byte(line.Text), lj); err != nil {
					fmt.Printf("parse json formated log:%v\n", err)
					continue
				}
				fmt.Println(formatPlainText(lj))
			}
		}()
		ctrlC := make(chan os.Signal, 1)
		signal.Notify(ctrlC, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-ctrlC:
			t.Stop()
		case <-done:
		}
	},
}
