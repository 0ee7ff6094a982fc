package replay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lbartoszcze/autolife/internal/analysis"
	"github.com/lbartoszcze/autolife/internal/gate"
	"github.com/lbartoszcze/autolife/internal/orchestrator"
	"github.com/lbartoszcze/autolife/internal/trace"
)

// #region export

// FromRecords rebuilds a fixture from an agent's trace records, oldest
// first. Every record must belong to the same agent and the slice must start
// at the agent's first decision, since the fixture starts from empty pacing
// state. Expected results pin the recorded outcome and trace ID.
func FromRecords(description string, recs []trace.Record) (*Fixture, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("no trace records to export")
	}
	f := &Fixture{Description: description, AgentID: recs[0].AgentID}

	var first *gate.Limits
	for i, rec := range recs {
		if rec.AgentID != f.AgentID {
			return nil, fmt.Errorf("record %d: agent %s differs from %s", i, rec.AgentID, f.AgentID)
		}
		var p orchestrator.Payload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("record %d: decode payload: %w", i, err)
		}

		limits := gate.Limits{CooldownMinutes: p.CooldownMinutes, MaxPerDay: p.MaxNudgesPerDay}
		if first == nil {
			first = &limits
			f.Config = FixtureConfig{CooldownMinutes: limits.CooldownMinutes, MaxPerDay: limits.MaxPerDay}
		}

		turn := FixtureTurn{
			TurnID:     fmt.Sprintf("%03d-%s", i+1, rec.TraceID),
			At:         time.UnixMilli(p.Now).UTC(),
			Messages:   p.Messages,
			TopicHints: p.TopicHints,
			Limits:     &limits,
		}
		if p.Stages != nil {
			turn.Stages = analysis.Static{
				PreferenceOut:   p.Stages.Preferences,
				StateOut:        p.Stages.State,
				EvidenceOut:     p.Stages.Evidence,
				ForecastOut:     p.Stages.Forecast,
				InterventionOut: p.Stages.Intervention,
			}
			if p.Stages.Intervention.Selected == nil && !p.Stages.Fallback {
				off := false
				f.Config.Fallback = &off
			}
		}
		f.Turns = append(f.Turns, turn)

		exp := FixtureExpectedResult{TurnID: turn.TurnID, Outcome: rec.Outcome, TraceID: rec.TraceID}
		if p.Gate.ShouldNudge && p.Stages != nil && p.Stages.Selected != nil {
			exp.PlanID = p.Stages.Selected.ID
		}
		f.ExpectedResults = append(f.ExpectedResults, exp)
	}
	return f, nil
}

// #endregion export
