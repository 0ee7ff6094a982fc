package gate

// #region veto-type
// VetoType enumerates hard veto categories. The string values are the
// canonical reason tokens callers match on.
type VetoType string

const (
	VetoCooldown    VetoType = "cooldown"
	VetoDailyLimit  VetoType = "daily-limit"
	VetoNoCandidate VetoType = "no-candidate"
	VetoSafety      VetoType = "safety"
)

// OutcomeAccepted is the reason token of a decision that passed every gate.
const OutcomeAccepted = "accepted"

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type   VetoType
	Reason string
	Rule   string // matching safety rule, only for VetoSafety; never surfaced in Reason
}

// #endregion veto-signal

// #region limits
// Limits holds the pacing thresholds for one decision.
type Limits struct {
	CooldownMinutes int `json:"cooldownMinutes"`
	MaxPerDay       int `json:"maxNudgesPerDay"`
}

// DefaultLimits returns 120 minutes between nudges and at most 3 per day.
func DefaultLimits() Limits {
	return Limits{
		CooldownMinutes: 120,
		MaxPerDay:       3,
	}
}

// #endregion limits

// #region gate-decision
// GateDecision is the outcome of running the gate chain.
type GateDecision struct {
	Outcome string // VetoType value or OutcomeAccepted
	Reason  string
	Vetoed  bool
	Veto    *VetoSignal // nil when accepted
}

// Accept builds the decision for a plan that passed every gate.
func Accept(planID string) GateDecision {
	return GateDecision{
		Outcome: OutcomeAccepted,
		Reason:  OutcomeAccepted + ": plan " + planID,
	}
}

// Reject builds the decision for a hard veto.
func Reject(v VetoSignal) GateDecision {
	return GateDecision{
		Outcome: string(v.Type),
		Reason:  v.Reason,
		Vetoed:  true,
		Veto:    &v,
	}
}

// #endregion gate-decision
