package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lbartoszcze/autolife/internal/trace"
)

var (
	traceAgent string
	traceLimit int
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect the decision trace log",
}

var traceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent trace records, newest last",
	Args:  cobra.NoArgs,
	RunE:  runTraceList,
}

var traceShowCmd = &cobra.Command{
	Use:   "show <trace-id>",
	Short: "Print every record with the given trace id",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceShow,
}

var traceVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute every trace id from its stored payload",
	Args:  cobra.NoArgs,
	RunE:  runTraceVerify,
}

func init() {
	traceListCmd.Flags().StringVar(&traceAgent, "agent", "", "Only records for this agent")
	traceListCmd.Flags().IntVarP(&traceLimit, "limit", "n", 20, "Max records (0 = all)")
}

func traceLogPath() string {
	return trace.NewFileRecorder(cfg.StateRoot).Path()
}

func runTraceList(cmd *cobra.Command, args []string) error {
	recs, err := trace.ReadFile(traceLogPath())
	if err != nil {
		return err
	}

	var filtered []trace.Record
	for _, rec := range recs {
		if traceAgent == "" || rec.AgentID == traceAgent {
			filtered = append(filtered, rec)
		}
	}
	if traceLimit > 0 && len(filtered) > traceLimit {
		filtered = filtered[len(filtered)-traceLimit:]
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-24s| %-16s| %-12s| %s\n", "Recorded", "Trace", "Agent", "Outcome")
	fmt.Fprintf(out, "%-24s+%-17s+%-13s+%s\n",
		"------------------------", "-----------------", "-------------", "------------")
	for _, rec := range filtered {
		fmt.Fprintf(out, "%-24s| %-16s| %-12s| %s\n",
			rec.RecordedAt.Format("2006-01-02T15:04:05Z07:00"), rec.TraceID, rec.AgentID, rec.Outcome)
	}
	fmt.Fprintf(out, "\n%d of %d records\n", len(filtered), len(recs))
	return nil
}

func runTraceShow(cmd *cobra.Command, args []string) error {
	recs, err := trace.Find(traceLogPath(), args[0])
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("trace %s not found", args[0])
	}
	return printJSON(cmd.OutOrStdout(), recs)
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	recs, err := trace.ReadFile(traceLogPath())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var errs []error
	for i, rec := range recs {
		if err := trace.Verify(rec); err != nil {
			fmt.Fprintf(out, "record %d (%s): %v\n", i+1, rec.RecordID, err)
			errs = append(errs, err)
		}
	}
	fmt.Fprintf(out, "Summary: %d total, %d ok, %d mismatched\n", len(recs), len(recs)-len(errs), len(errs))
	if len(errs) > 0 {
		return fmt.Errorf("%d trace records failed verification: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
