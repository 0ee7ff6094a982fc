package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lbartoszcze/autolife/internal/replay"
	"github.com/lbartoszcze/autolife/internal/trace"
)

var (
	exportAgent       string
	exportOut         string
	exportDescription string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded decisions offline",
}

var replayRunCmd = &cobra.Command{
	Use:   "run <fixture.json>",
	Short: "Replay a fixture and compare outcomes against its expectations",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

var replayExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Turn an agent's trace history into a replay fixture",
	Args:  cobra.NoArgs,
	RunE:  runReplayExport,
}

func init() {
	replayExportCmd.Flags().StringVar(&exportAgent, "agent", "main", "Agent whose history to export")
	replayExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default: stdout)")
	replayExportCmd.Flags().StringVar(&exportDescription, "description", "", "Fixture description")
}

// #region run

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := replay.LoadFixture(args[0])
	if err != nil {
		return err
	}
	results, _, final, err := replay.Replay(cmd.Context(), f, replay.Options{Logger: logger})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	diverge := printComparison(out, results, f.ExpectedResults)
	s := replay.Summarize(results, final)
	fmt.Fprintf(out, "Outcomes: %d accepted, %d cooldown, %d daily-limit, %d no-candidate, %d safety\n",
		s.Accepted, s.Cooldown, s.DailyLimit, s.NoCandidate, s.Safety)

	if diffs := replay.Check(results, f.ExpectedResults); len(diffs) > 0 {
		for _, d := range diffs {
			fmt.Fprintln(cmd.ErrOrStderr(), d)
		}
		return fmt.Errorf("replay diverged: %d turns differ, %d mismatches", diverge, len(diffs))
	}
	return nil
}

// printComparison writes a per-turn table and returns the number of turns
// whose outcome differs from the expectation.
func printComparison(w io.Writer, results []replay.ReplayResult, expected []replay.FixtureExpectedResult) int {
	fmt.Fprintf(w, "%-14s| %-14s| %-14s| %-20s| %s\n", "Turn", "Expected", "Replayed", "Plan", "Match")
	fmt.Fprintf(w, "%-14s+%-15s+%-15s+%-21s+%s\n",
		"--------------", "---------------", "---------------", "---------------------", "------")

	total := len(results)
	if len(expected) < total {
		total = len(expected)
	}

	matches := 0
	for i := 0; i < total; i++ {
		exp, got := expected[i], results[i]
		match := "DIFF"
		if exp.Outcome == got.Outcome && (exp.PlanID == "" || exp.PlanID == got.PlanID) {
			match = "OK"
			matches++
		}
		fmt.Fprintf(w, "%-14s| %-14s| %-14s| %-20s| %s\n", got.TurnID, exp.Outcome, got.Outcome, got.PlanID, match)
	}

	diverge := total - matches
	fmt.Fprintf(w, "\nSummary: %d total, %d match, %d diverge\n", total, matches, diverge)
	return diverge
}

// #endregion run

// #region export

func runReplayExport(cmd *cobra.Command, args []string) error {
	all, err := trace.ReadFile(traceLogPath())
	if err != nil {
		return err
	}
	var recs []trace.Record
	for _, rec := range all {
		if rec.AgentID == exportAgent {
			recs = append(recs, rec)
		}
	}

	desc := exportDescription
	if desc == "" {
		desc = fmt.Sprintf("exported history for agent %s", exportAgent)
	}
	f, err := replay.FromRecords(desc, recs)
	if err != nil {
		return err
	}

	if exportOut == "" {
		return printJSON(cmd.OutOrStdout(), f)
	}
	file, err := os.Create(exportOut)
	if err != nil {
		return fmt.Errorf("create %s: %w", exportOut, err)
	}
	if err := printJSON(file, f); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d turns to %s\n", len(f.Turns), exportOut)
	return nil
}

// #endregion export
