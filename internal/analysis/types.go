package analysis

// #region transcript

// Role identifies who authored a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptMessage is one turn of the conversation the decision is based on.
type TranscriptMessage struct {
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	Timestamp *int64 `json:"timestamp,omitempty"` // epoch ms
}

// #endregion transcript

// #region preference

// ToneBias weights how a nudge should be phrased. Both fields in [0,1].
type ToneBias struct {
	Supportive float64 `json:"supportive"`
	Direct     float64 `json:"direct"`
}

// PreferenceProfile is the output of the Preference stage.
type PreferenceProfile struct {
	ObjectiveWeights     map[string]float64 `json:"objectiveWeights"`
	InterventionAffinity map[string]float64 `json:"interventionAffinity"`
	ToneBias             ToneBias           `json:"toneBias"`
	Confidence           float64            `json:"confidence"`
}

// #endregion preference

// #region state

// Affect holds the affective read of the user, each field in [0,1].
type Affect struct {
	Frustration float64 `json:"frustration"`
	Distress    float64 `json:"distress"`
	Momentum    float64 `json:"momentum"`
}

// Freshness describes how current the state assessment is.
type Freshness struct {
	CapturedAt   int64   `json:"capturedAt"` // epoch ms
	AgeMinutes   float64 `json:"ageMinutes"`
	Completeness float64 `json:"completeness"`
}

// StateAssessment is the output of the State stage.
type StateAssessment struct {
	Needs     map[string]float64 `json:"needs"` // topic -> severity in [0,1]
	Affect    Affect             `json:"affect"`
	Signals   []string           `json:"signals"`
	Freshness Freshness          `json:"freshness"`
}

// #endregion state

// #region evidence

// Reference is a citation backing a finding or plan.
type Reference struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	SourceType  string `json:"sourceType"`
	PublishedAt string `json:"publishedAt,omitempty"`
}

// EvidenceFinding is one claim returned by the Evidence stage.
type EvidenceFinding struct {
	TopicID        string      `json:"topicId"`
	Claim          string      `json:"claim"`
	Confidence     float64     `json:"confidence"`
	ExpectedEffect string      `json:"expectedEffect,omitempty"`
	References     []Reference `json:"references"`
}

// #endregion evidence

// #region forecast

// Forecast contrasts the trajectory with and without an intervention.
type Forecast struct {
	HorizonDays      int      `json:"horizonDays"` // 1..90
	Baseline         string   `json:"baseline"`
	WithIntervention string   `json:"withIntervention"`
	Assumptions      []string `json:"assumptions"`
	Confidence       float64  `json:"confidence"`
}

// #endregion forecast

// #region intervention

// Effort is the user cost of carrying out a plan.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// InterventionPlan is a candidate nudge.
type InterventionPlan struct {
	ID              string      `json:"id"`
	ObjectiveIDs    []string    `json:"objectiveIds"`
	Action          string      `json:"action"`
	Rationale       string      `json:"rationale"`
	ExpectedImpact  string      `json:"expectedImpact"`
	Effort          Effort      `json:"effort"`
	FollowUpMinutes int         `json:"followUpMinutes"`
	Evidence        []Reference `json:"evidence"`
}

// Targets reports whether the plan lists topic among its objectives.
func (p InterventionPlan) Targets(topic string) bool {
	for _, id := range p.ObjectiveIDs {
		if id == topic {
			return true
		}
	}
	return false
}

// InterventionResult is the output of the Intervention stage.
// Selected is nil when the stage has no candidate.
type InterventionResult struct {
	Selected     *InterventionPlan  `json:"selected,omitempty"`
	Alternatives []InterventionPlan `json:"alternatives,omitempty"`
}

// #endregion intervention
