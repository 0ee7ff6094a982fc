package orchestrator

// #region imports
import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/lbartoszcze/autolife/internal/analysis"
)

// #endregion

const (
	// DefaultAgentID is used when the caller supplies no usable agent identity.
	DefaultAgentID = "main"
	// DefaultTopic is used when no stage or hint names a topic.
	DefaultTopic = "general"

	maxAgentIDLen = 64
)

// #region agent-id

// NormalizeAgentID folds an agent identity to a safe storage key: diacritics
// stripped, lowercased, anything outside [a-z0-9._-] collapsed to '-'.
func NormalizeAgentID(raw string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		strings.ToLower(strings.TrimSpace(raw)),
	)
	if err != nil {
		folded = strings.ToLower(strings.TrimSpace(raw))
	}

	var b strings.Builder
	dash := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	id := strings.Trim(b.String(), "-.")
	if len(id) > maxAgentIDLen {
		id = strings.TrimRight(id[:maxAgentIDLen], "-.")
	}
	if id == "" {
		return DefaultAgentID
	}
	return id
}

// #endregion

// #region topics

// DeriveTopics unions the top three needs by severity, the top two objectives
// by weight and any caller hints, in that order without duplicates. It falls
// back to a single generic topic.
func DeriveTopics(state analysis.StateAssessment, prefs analysis.PreferenceProfile, hints []string, fallback string) []string {
	seen := map[string]bool{}
	var topics []string
	add := func(t string) {
		t = analysis.NormalizeTopic(t)
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		topics = append(topics, t)
	}
	for _, t := range analysis.TopKeys(state.Needs, 3) {
		add(t)
	}
	for _, t := range analysis.TopKeys(prefs.ObjectiveWeights, 2) {
		add(t)
	}
	for _, t := range hints {
		add(t)
	}
	if len(topics) == 0 {
		add(fallback)
	}
	if len(topics) == 0 {
		add(DefaultTopic)
	}
	return topics
}

// DominantNeed returns the single highest-severity need, or "" when there are none.
func DominantNeed(state analysis.StateAssessment) string {
	top := analysis.TopKeys(state.Needs, 1)
	if len(top) == 0 {
		return ""
	}
	return top[0]
}

// #endregion

// #region fallback

// FallbackPlan is the low-effort plan substituted when the Intervention stage
// returns no selection.
func FallbackPlan(topic string) analysis.InterventionPlan {
	topic = analysis.NormalizeTopic(topic)
	if topic == "" {
		topic = DefaultTopic
	}
	return analysis.InterventionPlan{
		ID:              "fallback-" + topic,
		ObjectiveIDs:    []string{topic},
		Action:          "Take two minutes to write down the single next step for " + strings.ReplaceAll(topic, "-", " ") + ", then do only that step.",
		Rationale:       "A small, concrete step is easy to start and keeps momentum without adding pressure.",
		ExpectedImpact:  "Lowers the cost of restarting.",
		Effort:          analysis.EffortLow,
		FollowUpMinutes: 60,
		Evidence:        []analysis.Reference{},
	}
}

// #endregion

// #region arbitration

// Arbitrate swaps selected for the first alternative that targets the
// dominant need when selected does not. The alternatives list is unchanged.
func Arbitrate(dominant string, selected analysis.InterventionPlan, alternatives []analysis.InterventionPlan) (analysis.InterventionPlan, Arbitration) {
	arb := Arbitration{DominantNeed: dominant}
	if dominant == "" || selected.Targets(dominant) {
		return selected, arb
	}
	for _, alt := range alternatives {
		if alt.Targets(dominant) {
			arb.Overridden = true
			arb.FromPlanID = selected.ID
			return alt, arb
		}
	}
	return selected, arb
}

// #endregion
