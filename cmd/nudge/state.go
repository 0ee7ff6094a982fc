package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/lbartoszcze/autolife/internal/config"
	"github.com/lbartoszcze/autolife/internal/ratelimit"
)

var stateJSON bool

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect persisted pacing state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print last dispatch and daily count per agent",
	Args:  cobra.NoArgs,
	RunE:  runStateShow,
}

func init() {
	stateShowCmd.Flags().BoolVar(&stateJSON, "json", false, "Print raw state JSON")
}

func loadState(cmd *cobra.Command) (ratelimit.State, error) {
	if cfg.Store == config.StoreSQLite {
		s, err := ratelimit.OpenSQLite(cfg.StateRoot, logger)
		if err != nil {
			return ratelimit.State{}, err
		}
		defer s.Close()
		return s.Load(cmd.Context()), nil
	}
	return ratelimit.NewFileStore(cfg.StateRoot, logger).Load(cmd.Context()), nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	st, err := loadState(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if stateJSON {
		return printJSON(out, st)
	}

	agents := make([]string, 0, len(st.LastDispatchByAgent))
	for id := range st.LastDispatchByAgent {
		agents = append(agents, id)
	}
	sort.Strings(agents)

	fmt.Fprintf(out, "%-16s| %-24s| %-11s| %s\n", "Agent", "Last dispatch", "Day", "Count")
	fmt.Fprintf(out, "%-16s+%-25s+%-12s+%s\n",
		"----------------", "-------------------------", "------------", "------")
	for _, id := range agents {
		last := time.UnixMilli(st.LastDispatchByAgent[id]).UTC().Format(time.RFC3339)
		daily := st.DailyDispatchByAgent[id]
		fmt.Fprintf(out, "%-16s| %-24s| %-11s| %d\n", id, last, daily.DayKey, daily.Count)
	}
	fmt.Fprintf(out, "\n%d agents\n", len(agents))
	return nil
}
