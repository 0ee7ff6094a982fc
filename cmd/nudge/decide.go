package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lbartoszcze/autolife/internal/analysis"
	"github.com/lbartoszcze/autolife/internal/api"
	"github.com/lbartoszcze/autolife/internal/orchestrator"
)

var (
	decideAgent        string
	decideMessages     []string
	decideMessagesFile string
	decideNow          string
	decideCooldown     int
	decideMaxPerDay    int
	decideTopics       []string
	decideRemote       string
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Run one nudge decision and print it as JSON",
	Example: `  nudge decide --agent main --message "I keep getting distracted"
  nudge decide --messages-file transcript.json --cooldown 0
  nudge decide --remote localhost:8781 --message "so tired today"`,
	RunE: runDecide,
}

func init() {
	decideCmd.Flags().StringVar(&decideAgent, "agent", orchestrator.DefaultAgentID, "Agent id")
	decideCmd.Flags().StringArrayVarP(&decideMessages, "message", "m", nil, "User message (repeatable)")
	decideCmd.Flags().StringVar(&decideMessagesFile, "messages-file", "", "JSON array of transcript messages")
	decideCmd.Flags().StringVar(&decideNow, "now", "", "Decision time, RFC3339 (default: now)")
	decideCmd.Flags().IntVar(&decideCooldown, "cooldown", -1, "Cooldown minutes (default: config)")
	decideCmd.Flags().IntVar(&decideMaxPerDay, "max-per-day", -1, "Max nudges per day (default: config)")
	decideCmd.Flags().StringSliceVar(&decideTopics, "topic", nil, "Topic hint (repeatable)")
	decideCmd.Flags().StringVar(&decideRemote, "remote", "", "gRPC address of a running server")
}

// buildDecideRequest turns flags into the wire request shared with the servers.
func buildDecideRequest() (api.DecideRequest, error) {
	req := api.DecideRequest{AgentID: decideAgent, TopicHints: decideTopics}

	if decideMessagesFile != "" {
		data, err := os.ReadFile(decideMessagesFile)
		if err != nil {
			return req, fmt.Errorf("read messages: %w", err)
		}
		if err := json.Unmarshal(data, &req.Messages); err != nil {
			return req, fmt.Errorf("parse messages: %w", err)
		}
	}
	for _, m := range decideMessages {
		req.Messages = append(req.Messages, analysis.TranscriptMessage{Role: analysis.RoleUser, Text: m})
	}

	if decideNow != "" {
		t, err := time.Parse(time.RFC3339, decideNow)
		if err != nil {
			return req, fmt.Errorf("parse --now: %w", err)
		}
		ms := t.UnixMilli()
		req.Now = &ms
	}
	if decideCooldown >= 0 {
		v := decideCooldown
		req.CooldownMinutes = &v
	}
	if decideMaxPerDay >= 0 {
		v := decideMaxPerDay
		req.MaxNudgesPerDay = &v
	}
	return req, nil
}

func runDecide(cmd *cobra.Command, args []string) error {
	req, err := buildDecideRequest()
	if err != nil {
		return err
	}

	var dec orchestrator.Decision
	if decideRemote != "" {
		client, err := api.Dial(decideRemote)
		if err != nil {
			return err
		}
		defer client.Close()
		if dec, err = client.Decide(cmd.Context(), req); err != nil {
			return err
		}
	} else {
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		in, err := req.Resolve(cfg.Limits())
		if err != nil {
			return err
		}
		if dec, err = a.orch.Decide(cmd.Context(), in); err != nil {
			return err
		}
	}
	return printJSON(cmd.OutOrStdout(), dec)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
