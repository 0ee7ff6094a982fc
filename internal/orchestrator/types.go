package orchestrator

// #region imports
import (
	"time"

	"github.com/lbartoszcze/autolife/internal/analysis"
	"github.com/lbartoszcze/autolife/internal/gate"
)

// #endregion

// #region request

// Request is one call to Decide.
type Request struct {
	AgentID    string
	Messages   []analysis.TranscriptMessage
	Now        time.Time    // zero = orchestrator clock
	Limits     *gate.Limits // nil = orchestrator defaults
	TopicHints []string
}

// #endregion

// #region decision

// Decision is the result of one call to Decide. Selected and Alternatives are
// only set when ShouldNudge is true.
type Decision struct {
	ShouldNudge  bool                        `json:"shouldNudge"`
	Reason       string                      `json:"reason"`
	Selected     *analysis.InterventionPlan  `json:"selected,omitempty"`
	Alternatives []analysis.InterventionPlan `json:"alternatives,omitempty"`
	TraceID      string                      `json:"traceId"`
}

// #endregion

// #region payload

// Payload is the canonical decision record hashed into the trace ID. Field
// names are part of the trace contract.
type Payload struct {
	AgentID         string                       `json:"agentId"`
	Now             int64                        `json:"now"` // epoch ms
	CooldownMinutes int                          `json:"cooldownMinutes"`
	MaxNudgesPerDay int                          `json:"maxNudgesPerDay"`
	Messages        []analysis.TranscriptMessage `json:"messages"`
	TopicHints      []string                     `json:"topicHints"`
	Stages          *StageOutputs                `json:"stages,omitempty"` // absent when a pacing gate short-circuits
	Gate            GateOutcome                  `json:"gate"`
}

// StageOutputs holds every intermediate result of a completed pipeline.
type StageOutputs struct {
	Topics       []string                    `json:"topics"`
	Preferences  analysis.PreferenceProfile  `json:"preferences"`
	State        analysis.StateAssessment    `json:"state"`
	Evidence     []analysis.EvidenceFinding  `json:"evidence"`
	Forecast     analysis.Forecast           `json:"forecast"`
	Intervention analysis.InterventionResult `json:"intervention"`
	Fallback     bool                        `json:"fallback"`
	Arbitration  Arbitration                 `json:"arbitration"`
	Selected     *analysis.InterventionPlan  `json:"selected"`
	Alternatives []analysis.InterventionPlan `json:"alternatives"`
}

// Arbitration records whether the top pick was swapped for the dominant need.
type Arbitration struct {
	DominantNeed string `json:"dominantNeed"`
	Overridden   bool   `json:"overridden"`
	FromPlanID   string `json:"fromPlanId,omitempty"`
}

// GateOutcome is the gate verdict as recorded in the trace.
type GateOutcome struct {
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason"`
	ShouldNudge bool   `json:"shouldNudge"`
	Rule        string `json:"rule,omitempty"`
}

// #endregion
