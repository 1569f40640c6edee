package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ngaboserge/capitallab-simulator-sub003/config"
	"github.com/ngaboserge/capitallab-simulator-sub003/jobs/ticker"
	"github.com/ngaboserge/capitallab-simulator-sub003/logging"
)

func init() {
	rootCmd.AddCommand(replayCmd)
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild state from the latest snapshot and journal, then print market data",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log, _, err := logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		n, err := openNode(cfg, log, nil)
		if err != nil {
			return err
		}
		defer n.Close()
		return printMarkets(cmd, n)
	},
}

func printMarkets(cmd *cobra.Command, n *node) error {
	all := n.ex.AllMarketData()
	events := make([]ticker.Event, 0, len(all))
	for _, s := range n.ex.Symbols() {
		events = append(events, ticker.NewEvent(all[s]))
	}
	out, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

