package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrInvalidValue is returned when a stage emits NaN or an infinite number.
// Such values cannot be canonicalized into a trace payload.
var ErrInvalidValue = errors.New("non-finite value in stage output")

// #region topic

// NormalizeTopic lowercases a topic id and collapses whitespace to dashes.
func NormalizeTopic(topic string) string {
	fields := strings.Fields(strings.ToLower(topic))
	return strings.Join(fields, "-")
}

// #endregion topic

// #region profile

// NormalizePreference clamps weights and scores into range and replaces nil maps.
func NormalizePreference(p PreferenceProfile) (PreferenceProfile, error) {
	weights, err := normalizeWeights(p.ObjectiveWeights, "objectiveWeights", 0, math.MaxFloat64)
	if err != nil {
		return PreferenceProfile{}, err
	}
	affinity, err := normalizeWeights(p.InterventionAffinity, "interventionAffinity", -1, 1)
	if err != nil {
		return PreferenceProfile{}, err
	}
	out := PreferenceProfile{ObjectiveWeights: weights, InterventionAffinity: affinity}
	if out.ToneBias.Supportive, err = unit(p.ToneBias.Supportive, "toneBias.supportive"); err != nil {
		return PreferenceProfile{}, err
	}
	if out.ToneBias.Direct, err = unit(p.ToneBias.Direct, "toneBias.direct"); err != nil {
		return PreferenceProfile{}, err
	}
	if out.Confidence, err = unit(p.Confidence, "confidence"); err != nil {
		return PreferenceProfile{}, err
	}
	return out, nil
}

// NormalizeState clamps severities and affect into [0,1] and replaces nil collections.
func NormalizeState(s StateAssessment) (StateAssessment, error) {
	needs, err := normalizeWeights(s.Needs, "needs", 0, 1)
	if err != nil {
		return StateAssessment{}, err
	}
	out := StateAssessment{
		Needs:     needs,
		Signals:   append([]string{}, s.Signals...),
		Freshness: s.Freshness,
	}
	if out.Affect.Frustration, err = unit(s.Affect.Frustration, "affect.frustration"); err != nil {
		return StateAssessment{}, err
	}
	if out.Affect.Distress, err = unit(s.Affect.Distress, "affect.distress"); err != nil {
		return StateAssessment{}, err
	}
	if out.Affect.Momentum, err = unit(s.Affect.Momentum, "affect.momentum"); err != nil {
		return StateAssessment{}, err
	}
	if out.Freshness.Completeness, err = unit(s.Freshness.Completeness, "freshness.completeness"); err != nil {
		return StateAssessment{}, err
	}
	if err := finite(s.Freshness.AgeMinutes, "freshness.ageMinutes"); err != nil {
		return StateAssessment{}, err
	}
	return out, nil
}

// #endregion profile

// #region findings

// NormalizeEvidence clamps confidences and replaces nil reference lists.
func NormalizeEvidence(findings []EvidenceFinding) ([]EvidenceFinding, error) {
	out := make([]EvidenceFinding, 0, len(findings))
	for i, f := range findings {
		c, err := unit(f.Confidence, fmt.Sprintf("evidence[%d].confidence", i))
		if err != nil {
			return nil, err
		}
		f.Confidence = c
		f.TopicID = NormalizeTopic(f.TopicID)
		f.References = append([]Reference{}, f.References...)
		out = append(out, f)
	}
	return out, nil
}

// NormalizeForecast bounds the horizon to 1..90 days.
func NormalizeForecast(f Forecast) (Forecast, error) {
	c, err := unit(f.Confidence, "forecast.confidence")
	if err != nil {
		return Forecast{}, err
	}
	f.Confidence = c
	if f.HorizonDays < 1 {
		f.HorizonDays = 1
	}
	if f.HorizonDays > 90 {
		f.HorizonDays = 90
	}
	f.Assumptions = append([]string{}, f.Assumptions...)
	return f, nil
}

// NormalizePlan normalizes objective ids and fills nil slices. It does not
// decide whether the plan is usable; see Usable.
func NormalizePlan(p InterventionPlan) InterventionPlan {
	ids := make([]string, 0, len(p.ObjectiveIDs))
	for _, id := range p.ObjectiveIDs {
		if n := NormalizeTopic(id); n != "" {
			ids = append(ids, n)
		}
	}
	p.ObjectiveIDs = ids
	p.Action = strings.TrimSpace(p.Action)
	p.Evidence = append([]Reference{}, p.Evidence...)
	if p.Effort == "" {
		p.Effort = EffortMedium
	}
	return p
}

// Usable reports whether a plan can be surfaced at all.
func Usable(p InterventionPlan) bool {
	return p.Action != "" && len(p.ObjectiveIDs) > 0 && p.FollowUpMinutes > 0
}

// #endregion findings

// #region ranking

// TopKeys returns up to n keys of m ordered by descending value, ties broken
// by key so the order is deterministic.
func TopKeys(m map[string]float64, n int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// #endregion ranking

// #region helpers

func normalizeWeights(m map[string]float64, field string, lo, hi float64) (map[string]float64, error) {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if err := finite(v, field+"."+k); err != nil {
			return nil, err
		}
		key := NormalizeTopic(k)
		if key == "" {
			continue
		}
		v = math.Max(lo, math.Min(hi, v))
		// Keys that collapse to the same topic keep the larger value.
		if prev, ok := out[key]; ok && prev > v {
			continue
		}
		out[key] = v
	}
	return out, nil
}

func unit(v float64, field string) (float64, error) {
	if err := finite(v, field); err != nil {
		return 0, err
	}
	return math.Max(0, math.Min(1, v)), nil
}

func finite(v float64, field string) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s: %w", field, ErrInvalidValue)
	}
	return nil
}

// #endregion helpers
