package heuristics

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lbartoszcze/autolife/internal/analysis"
)

// #region catalog

// Catalog is the static knowledge the reference stages draw on: evidence
// claims per topic and the plans they can propose.
type Catalog struct {
	Findings []FindingEntry `yaml:"findings"`
	Plans    []PlanEntry    `yaml:"plans"`
}

// FindingEntry is one evidence claim with its sources.
type FindingEntry struct {
	Topic          string           `yaml:"topic"`
	Claim          string           `yaml:"claim"`
	Confidence     float64          `yaml:"confidence"`
	ExpectedEffect string           `yaml:"expected_effect"`
	References     []ReferenceEntry `yaml:"references"`
}

type ReferenceEntry struct {
	Title       string `yaml:"title"`
	URL         string `yaml:"url"`
	SourceType  string `yaml:"source_type"`
	PublishedAt string `yaml:"published_at"`
}

// PlanEntry is one candidate intervention. Keywords are matched against
// like/dislike statements to derive intervention affinity.
type PlanEntry struct {
	ID              string   `yaml:"id"`
	Objectives      []string `yaml:"objectives"`
	Action          string   `yaml:"action"`
	Rationale       string   `yaml:"rationale"`
	ExpectedImpact  string   `yaml:"expected_impact"`
	Effort          string   `yaml:"effort"`
	FollowUpMinutes int      `yaml:"follow_up_minutes"`
	Keywords        []string `yaml:"keywords"`
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(c.Plans) == 0 {
		return Catalog{}, fmt.Errorf("catalog %s has no plans", path)
	}
	return c, nil
}

// #endregion catalog

// #region conversion

func (r ReferenceEntry) reference() analysis.Reference {
	return analysis.Reference{Title: r.Title, URL: r.URL, SourceType: r.SourceType, PublishedAt: r.PublishedAt}
}

func (f FindingEntry) finding() analysis.EvidenceFinding {
	refs := make([]analysis.Reference, 0, len(f.References))
	for _, r := range f.References {
		refs = append(refs, r.reference())
	}
	return analysis.EvidenceFinding{
		TopicID:        analysis.NormalizeTopic(f.Topic),
		Claim:          f.Claim,
		Confidence:     f.Confidence,
		ExpectedEffect: f.ExpectedEffect,
		References:     refs,
	}
}

func (p PlanEntry) plan(evidence []analysis.Reference) analysis.InterventionPlan {
	return analysis.NormalizePlan(analysis.InterventionPlan{
		ID:              p.ID,
		ObjectiveIDs:    p.Objectives,
		Action:          p.Action,
		Rationale:       p.Rationale,
		ExpectedImpact:  p.ExpectedImpact,
		Effort:          analysis.Effort(p.Effort),
		FollowUpMinutes: p.FollowUpMinutes,
		Evidence:        evidence,
	})
}

// #endregion conversion

// #region default-catalog

// DefaultCatalog is the built-in catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		Findings: []FindingEntry{
			{
				Topic:          "focus",
				Claim:          "Breaking work into short timed intervals improves task initiation and reduces procrastination.",
				Confidence:     0.6,
				ExpectedEffect: "More started tasks per day",
				References: []ReferenceEntry{{
					Title:      "Implementation intentions and goal achievement: a meta-analysis",
					URL:        "https://doi.org/10.1016/S0065-2601(06)38002-1",
					SourceType: "meta-analysis",
				}},
			},
			{
				Topic:          "sleep",
				Claim:          "A consistent wind-down routine and reduced evening screen use shorten sleep onset.",
				Confidence:     0.55,
				ExpectedEffect: "Faster sleep onset",
				References: []ReferenceEntry{{
					Title:      "Sleep hygiene education: a systematic review",
					URL:        "https://doi.org/10.1016/j.smrv.2014.10.002",
					SourceType: "review",
				}},
			},
			{
				Topic:          "stress",
				Claim:          "Slow paced breathing for a few minutes lowers self-reported stress.",
				Confidence:     0.5,
				ExpectedEffect: "Short-term stress relief",
				References: []ReferenceEntry{{
					Title:      "Effect of breathwork on stress and mental health: a meta-analysis",
					URL:        "https://doi.org/10.1038/s41598-022-27247-y",
					SourceType: "meta-analysis",
				}},
			},
			{
				Topic:          "movement",
				Claim:          "Short walks interrupting sitting improve mood and energy.",
				Confidence:     0.55,
				ExpectedEffect: "Higher energy in the afternoon",
				References: []ReferenceEntry{{
					Title:      "Breaking up prolonged sitting: a systematic review",
					URL:        "https://doi.org/10.1186/s12966-019-0797-1",
					SourceType: "review",
				}},
			},
			{
				Topic:          "connection",
				Claim:          "Brief positive social contact is associated with better daily mood.",
				Confidence:     0.45,
				ExpectedEffect: "Less loneliness",
				References: []ReferenceEntry{{
					Title:      "Social relationships and mortality risk: a meta-analytic review",
					URL:        "https://doi.org/10.1371/journal.pmed.1000316",
					SourceType: "meta-analysis",
				}},
			},
			{
				Topic:          "mood",
				Claim:          "Scheduling one small rewarding activity raises mood in low-motivation periods.",
				Confidence:     0.5,
				ExpectedEffect: "Improved mood",
				References: []ReferenceEntry{{
					Title:      "Behavioral activation treatments of depression: a meta-analysis",
					URL:        "https://doi.org/10.1016/j.cpr.2006.11.001",
					SourceType: "meta-analysis",
				}},
			},
		},
		Plans: []PlanEntry{
			{
				ID:              "focus-sprint",
				Objectives:      []string{"focus"},
				Action:          "Pick one task, set a 25 minute timer, and work only on that task until it rings.",
				Rationale:       "A short, bounded sprint makes starting easier than facing the whole task list.",
				ExpectedImpact:  "One block of focused work completed today.",
				Effort:          "low",
				FollowUpMinutes: 30,
				Keywords:        []string{"timer", "pomodoro", "sprint"},
			},
			{
				ID:              "focus-next-step",
				Objectives:      []string{"focus", "stress"},
				Action:          "Write down the very next physical step for the task you are avoiding and do it now.",
				Rationale:       "Naming a concrete next step lowers the friction of getting unstuck.",
				ExpectedImpact:  "The stuck task is moving again.",
				Effort:          "low",
				FollowUpMinutes: 45,
				Keywords:        []string{"list", "write", "plan"},
			},
			{
				ID:              "sleep-wind-down",
				Objectives:      []string{"sleep"},
				Action:          "Tonight, put your phone out of reach 30 minutes before bed and dim the lights.",
				Rationale:       "Less evening screen light and a steady routine help the body settle for sleep.",
				ExpectedImpact:  "Falling asleep sooner tonight.",
				Effort:          "medium",
				FollowUpMinutes: 720,
				Keywords:        []string{"phone", "screen", "routine"},
			},
			{
				ID:              "stress-breathing",
				Objectives:      []string{"stress"},
				Action:          "Take three minutes for slow breathing: in for four counts, out for six.",
				Rationale:       "Slow exhales calm the stress response quickly.",
				ExpectedImpact:  "Feeling calmer within a few minutes.",
				Effort:          "low",
				FollowUpMinutes: 20,
				Keywords:        []string{"breathing", "breath", "calm"},
			},
			{
				ID:              "movement-walk",
				Objectives:      []string{"movement", "mood"},
				Action:          "Go for a 10 minute walk outside before your next task.",
				Rationale:       "A short walk breaks up sitting and lifts energy.",
				ExpectedImpact:  "More energy for the next hour.",
				Effort:          "low",
				FollowUpMinutes: 60,
				Keywords:        []string{"walk", "walking", "outside"},
			},
			{
				ID:              "connection-message",
				Objectives:      []string{"connection", "mood"},
				Action:          "Send a short message to one friend you have not talked to this week.",
				Rationale:       "Small moments of contact ease loneliness.",
				ExpectedImpact:  "One conversation started today.",
				Effort:          "low",
				FollowUpMinutes: 180,
				Keywords:        []string{"friend", "message", "call"},
			},
			{
				ID:              "mood-small-win",
				Objectives:      []string{"mood"},
				Action:          "Schedule one small thing you usually enjoy for later today and put it in your calendar.",
				Rationale:       "Planned rewarding activities counter low motivation.",
				ExpectedImpact:  "A better afternoon.",
				Effort:          "medium",
				FollowUpMinutes: 240,
				Keywords:        []string{"music", "hobby", "enjoy"},
			},
		},
	}
}

// #endregion default-catalog
