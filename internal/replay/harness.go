package replay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lbartoszcze/autolife/internal/gate"
	"github.com/lbartoszcze/autolife/internal/orchestrator"
	"github.com/lbartoszcze/autolife/internal/ratelimit"
	"github.com/lbartoszcze/autolife/internal/safety"
	"github.com/lbartoszcze/autolife/internal/trace"
)

// #region types

// ReplayResult captures the outcome of replaying one turn.
type ReplayResult struct {
	TurnID      string
	Outcome     string // gate.VetoType value or gate.OutcomeAccepted
	ShouldNudge bool
	Reason      string
	PlanID      string
	TraceID     string
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalTurns  int
	Accepted    int
	Cooldown    int
	DailyLimit  int
	NoCandidate int
	Safety      int
	FinalState  ratelimit.State
}

// Options tune a replay run.
type Options struct {
	Filter *safety.Filter // nil = default deny list
	Logger *zap.Logger
}

// #endregion types

// #region replay

// Replay runs every turn of f through a fresh orchestrator built on the
// turn's recorded stage outputs. Pacing state and the trace log are in memory
// and carry over between turns. Returns the results and the records written.
func Replay(ctx context.Context, f *Fixture, opts Options) ([]ReplayResult, []trace.Record, ratelimit.State, error) {
	store := ratelimit.NewMemoryStore()
	if f.StartState != nil {
		if err := store.Save(ctx, *f.StartState); err != nil {
			return nil, nil, ratelimit.State{}, err
		}
	}
	rec := &trace.Memory{}
	fallback := f.Config.Fallback == nil || *f.Config.Fallback

	results := make([]ReplayResult, 0, len(f.Turns))
	for i := range f.Turns {
		turn := &f.Turns[i]
		o := orchestrator.New(&turn.Stages, store, rec,
			orchestrator.WithLimits(f.Config.Limits()),
			orchestrator.WithSafetyFilter(opts.Filter),
			orchestrator.WithFallback(fallback),
			orchestrator.WithLogger(opts.Logger),
		)

		dec, err := o.Decide(ctx, orchestrator.Request{
			AgentID:    f.AgentID,
			Messages:   turn.Messages,
			Now:        turn.At,
			Limits:     turn.Limits,
			TopicHints: turn.TopicHints,
		})
		if err != nil {
			return results, rec.Records(), store.Load(ctx), fmt.Errorf("turn %s: %w", turn.TurnID, err)
		}

		recs := rec.Records()
		r := ReplayResult{
			TurnID:      turn.TurnID,
			Outcome:     recs[len(recs)-1].Outcome,
			ShouldNudge: dec.ShouldNudge,
			Reason:      dec.Reason,
			TraceID:     dec.TraceID,
		}
		if dec.Selected != nil {
			r.PlanID = dec.Selected.ID
		}
		results = append(results, r)
	}
	return results, rec.Records(), store.Load(ctx), nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult, finalState ratelimit.State) ReplaySummary {
	s := ReplaySummary{
		TotalTurns: len(results),
		FinalState: finalState,
	}
	for _, r := range results {
		switch r.Outcome {
		case gate.OutcomeAccepted:
			s.Accepted++
		case string(gate.VetoCooldown):
			s.Cooldown++
		case string(gate.VetoDailyLimit):
			s.DailyLimit++
		case string(gate.VetoNoCandidate):
			s.NoCandidate++
		case string(gate.VetoSafety):
			s.Safety++
		}
	}
	return s
}

// Check compares results against expectations and returns one message per
// mismatch.
func Check(results []ReplayResult, expected []FixtureExpectedResult) []string {
	var diffs []string
	if len(results) != len(expected) {
		diffs = append(diffs, fmt.Sprintf("expected %d results, got %d", len(expected), len(results)))
	}
	for i := 0; i < len(results) && i < len(expected); i++ {
		want, got := expected[i], results[i]
		if got.TurnID != want.TurnID {
			diffs = append(diffs, fmt.Sprintf("turn %d: expected turn_id=%s, got %s", i, want.TurnID, got.TurnID))
		}
		if got.Outcome != want.Outcome {
			diffs = append(diffs, fmt.Sprintf("turn %d (%s): expected outcome=%s, got %s (reason: %s)",
				i, want.TurnID, want.Outcome, got.Outcome, got.Reason))
		}
		if want.PlanID != "" && got.PlanID != want.PlanID {
			diffs = append(diffs, fmt.Sprintf("turn %d (%s): expected plan=%s, got %s", i, want.TurnID, want.PlanID, got.PlanID))
		}
		if want.TraceID != "" && got.TraceID != want.TraceID {
			diffs = append(diffs, fmt.Sprintf("turn %d (%s): expected trace_id=%s, got %s", i, want.TurnID, want.TraceID, got.TraceID))
		}
	}
	return diffs
}

// #endregion replay
