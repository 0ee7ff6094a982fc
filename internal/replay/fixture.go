package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lbartoszcze/autolife/internal/analysis"
	"github.com/lbartoszcze/autolife/internal/gate"
	"github.com/lbartoszcze/autolife/internal/ratelimit"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	AgentID         string                  `json:"agent_id"`
	StartState      *ratelimit.State        `json:"start_state,omitempty"`
	Config          FixtureConfig           `json:"config"`
	Turns           []FixtureTurn           `json:"turns"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureConfig holds the limits applied to every turn unless a turn overrides them.
type FixtureConfig struct {
	CooldownMinutes int   `json:"cooldown_minutes"`
	MaxPerDay       int   `json:"max_per_day"`
	Fallback        *bool `json:"fallback,omitempty"` // nil = enabled
}

// FixtureTurn is one recorded decision call with the stage outputs it saw.
type FixtureTurn struct {
	TurnID     string                       `json:"turn_id"`
	At         time.Time                    `json:"at"`
	Messages   []analysis.TranscriptMessage `json:"messages"`
	TopicHints []string                     `json:"topic_hints,omitempty"`
	Limits     *gate.Limits                 `json:"limits,omitempty"`
	Stages     analysis.Static              `json:"stages"`
}

// FixtureExpectedResult captures the expected outcome per turn. TraceID is
// checked only when set.
type FixtureExpectedResult struct {
	TurnID  string `json:"turn_id"`
	Outcome string `json:"outcome"`
	PlanID  string `json:"plan_id,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.Turns) == 0 {
		return nil, fmt.Errorf("fixture %s has no turns", path)
	}
	return &f, nil
}

// Limits returns the fixture-wide pacing limits.
func (fc FixtureConfig) Limits() gate.Limits {
	return gate.Limits{CooldownMinutes: fc.CooldownMinutes, MaxPerDay: fc.MaxPerDay}
}

// #endregion fixture-loader
