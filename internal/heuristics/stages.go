package heuristics

// #region imports
import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lbartoszcze/autolife/internal/analysis"
)

// #endregion

// #region stages

// Stages is a text-cue implementation of the five analysis stages. It is
// deterministic for a given transcript, catalog and time.
type Stages struct {
	catalog Catalog
	topics  []string // sorted topic keys of topicCues
}

var _ analysis.Ports = (*Stages)(nil)

// New returns stages backed by catalog.
func New(catalog Catalog) *Stages {
	topics := make([]string, 0, len(topicCues))
	for t := range topicCues {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return &Stages{catalog: catalog, topics: topics}
}

// Default returns stages backed by DefaultCatalog.
func Default() *Stages {
	return New(DefaultCatalog())
}

// #endregion

// #region preference

// Preference derives objective weights from how often each topic comes up,
// tone bias from explicit tone requests, and plan affinity from like/dislike
// statements that mention a plan keyword.
func (s *Stages) Preference(_ context.Context, messages []analysis.TranscriptMessage, _ time.Time) (analysis.PreferenceProfile, error) {
	prof := analysis.PreferenceProfile{
		ObjectiveWeights:     map[string]float64{},
		InterventionAffinity: map[string]float64{},
		ToneBias:             analysis.ToneBias{Supportive: 0.5, Direct: 0.5},
	}

	hits := map[string]int{}
	total := 0
	var direct, supportive int
	for _, m := range userOnly(messages) {
		tokens := tokenize(m.Text)
		for _, t := range s.topics {
			if n := countPrefixHits(tokens, topicCues[t]); n > 0 {
				hits[t] += n
				total += n
			}
		}
		lower := strings.ToLower(m.Text)
		direct += len(matchPhrases(lower, directCues))
		supportive += len(matchPhrases(lower, supportiveCues))
		s.scoreAffinity(lower, prof.InterventionAffinity)
	}

	for t, n := range hits {
		prof.ObjectiveWeights[t] = round3(float64(n) / float64(total))
	}
	if direct+supportive > 0 {
		d := float64(direct) / float64(direct+supportive)
		prof.ToneBias = analysis.ToneBias{Supportive: round3(0.2 + 0.6*(1-d)), Direct: round3(0.2 + 0.6*d)}
	}
	prof.Confidence = saturate(total+direct+supportive, 4)
	return prof, nil
}

func (s *Stages) scoreAffinity(lower string, out map[string]float64) {
	liked := len(matchPhrases(lower, likeCues)) > 0
	disliked := len(matchPhrases(lower, dislikeCues)) > 0
	if !liked && !disliked {
		return
	}
	for _, p := range s.catalog.Plans {
		for _, kw := range p.Keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			v := out[p.ID]
			if liked {
				v += 0.5
			}
			if disliked {
				v -= 0.5
			}
			out[p.ID] = math.Max(-1, math.Min(1, v))
			break
		}
	}
}

// #endregion

// #region state

// State scores needs and affect from cue counts in user messages. Freshness
// is measured from the newest timestamped message.
func (s *Stages) State(_ context.Context, messages []analysis.TranscriptMessage, now time.Time) (analysis.StateAssessment, error) {
	out := analysis.StateAssessment{
		Needs:   map[string]float64{},
		Signals: []string{},
	}
	users := userOnly(messages)

	var frustration, distress, momentum int
	hits := map[string]int{}
	for _, m := range users {
		tokens := tokenize(m.Text)
		for _, t := range s.topics {
			hits[t] += countPrefixHits(tokens, topicCues[t])
		}
		frustration += countPrefixHits(tokens, frustrationCues)
		distress += countPrefixHits(tokens, distressCues)
		momentum += countPrefixHits(tokens, momentumCues)
	}

	for _, t := range s.topics {
		if hits[t] == 0 {
			continue
		}
		out.Needs[t] = saturate(hits[t], 1)
		out.Signals = append(out.Signals, fmt.Sprintf("%s:%d", t, hits[t]))
	}
	out.Affect = analysis.Affect{
		Frustration: saturate(frustration, 2),
		Distress:    saturate(distress, 2),
		Momentum:    saturate(momentum, 2),
	}

	captured := now.UnixMilli()
	var newest *int64
	for _, m := range messages {
		if m.Timestamp != nil && (newest == nil || *m.Timestamp > *newest) {
			newest = m.Timestamp
		}
	}
	if newest != nil {
		captured = *newest
	}
	age := float64(now.UnixMilli()-captured) / float64(time.Minute/time.Millisecond)
	out.Freshness = analysis.Freshness{
		CapturedAt:   captured,
		AgeMinutes:   math.Max(0, round3(age)),
		Completeness: math.Min(1, float64(len(users))/5),
	}
	return out, nil
}

// #endregion

// #region evidence

// Evidence returns catalog findings for the requested topics, in topic order.
func (s *Stages) Evidence(_ context.Context, in analysis.EvidenceInput, _ time.Time) ([]analysis.EvidenceFinding, error) {
	out := []analysis.EvidenceFinding{}
	for _, topic := range in.Topics {
		for _, f := range s.catalog.Findings {
			if analysis.NormalizeTopic(f.Topic) == topic {
				out = append(out, f.finding())
			}
		}
	}
	return out, nil
}

// #endregion

// #region forecast

// Forecast fills a one-week narrative template for the dominant need.
func (s *Stages) Forecast(_ context.Context, in analysis.ForecastInput, _ time.Time) (analysis.Forecast, error) {
	need := "general wellbeing"
	if top := analysis.TopKeys(in.State.Needs, 1); len(top) > 0 {
		need = top[0]
	}

	conf := 0.3
	if len(in.Evidence) > 0 {
		var sum float64
		for _, f := range in.Evidence {
			sum += f.Confidence
		}
		conf = round3(sum / float64(len(in.Evidence)) * (0.5 + 0.5*in.Preferences.Confidence))
	}

	return analysis.Forecast{
		HorizonDays:      7,
		Baseline:         fmt.Sprintf("Without a change, %s is likely to stay about where it is this week.", need),
		WithIntervention: fmt.Sprintf("With one small daily action, %s should improve noticeably within a week.", need),
		Assumptions: []string{
			"The user acts on at most one suggestion per day.",
			"The transcript reflects the user's current situation.",
		},
		Confidence: conf,
	}, nil
}

// #endregion

// #region intervention

type scoredPlan struct {
	plan  analysis.InterventionPlan
	score float64
}

// Intervention ranks catalog plans by need severity, objective weight and
// affinity. High-effort plans are penalized under distress. Plans that touch
// no current need or objective are not proposed.
func (s *Stages) Intervention(_ context.Context, in analysis.InterventionInput, _ time.Time) (analysis.InterventionResult, error) {
	refs := map[string][]analysis.Reference{}
	for _, f := range in.Evidence {
		refs[f.TopicID] = append(refs[f.TopicID], f.References...)
	}

	var ranked []scoredPlan
	for _, entry := range s.catalog.Plans {
		var evidence []analysis.Reference
		relevance := 0.0
		for _, obj := range entry.Objectives {
			obj = analysis.NormalizeTopic(obj)
			relevance += in.State.Needs[obj] + 0.5*in.Preferences.ObjectiveWeights[obj]
			evidence = append(evidence, refs[obj]...)
		}
		if relevance <= 0 {
			continue
		}
		score := relevance + 0.3*in.Preferences.InterventionAffinity[entry.ID]
		switch analysis.Effort(entry.Effort) {
		case analysis.EffortHigh:
			score -= 0.4 * in.State.Affect.Distress
		case analysis.EffortMedium:
			score -= 0.15 * in.State.Affect.Distress
		}
		ranked = append(ranked, scoredPlan{plan: entry.plan(evidence), score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].plan.ID < ranked[j].plan.ID
	})

	var res analysis.InterventionResult
	if len(ranked) == 0 {
		return res, nil
	}
	top := ranked[0].plan
	res.Selected = &top
	for _, r := range ranked[1:min(len(ranked), 3)] {
		res.Alternatives = append(res.Alternatives, r.plan)
	}
	return res, nil
}

// #endregion

// #region helpers

func userOnly(messages []analysis.TranscriptMessage) []analysis.TranscriptMessage {
	var out []analysis.TranscriptMessage
	for _, m := range messages {
		if m.Role == analysis.RoleUser {
			out = append(out, m)
		}
	}
	return out
}

// #endregion
