package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// #region ports

// Ports is the bundle of analysis stages the orchestrator composes.
// Implementations must not mutate their inputs; they may do their own I/O.
type Ports interface {
	Preference(ctx context.Context, messages []TranscriptMessage, now time.Time) (PreferenceProfile, error)
	State(ctx context.Context, messages []TranscriptMessage, now time.Time) (StateAssessment, error)
	Evidence(ctx context.Context, in EvidenceInput, now time.Time) ([]EvidenceFinding, error)
	Forecast(ctx context.Context, in ForecastInput, now time.Time) (Forecast, error)
	Intervention(ctx context.Context, in InterventionInput, now time.Time) (InterventionResult, error)
}

// EvidenceInput is what the Evidence stage sees.
type EvidenceInput struct {
	State       StateAssessment
	Preferences PreferenceProfile
	Topics      []string
}

// ForecastInput is what the Forecast stage sees.
type ForecastInput struct {
	State       StateAssessment
	Preferences PreferenceProfile
	Evidence    []EvidenceFinding
}

// InterventionInput is what the Intervention stage sees.
type InterventionInput struct {
	State       StateAssessment
	Preferences PreferenceProfile
	Evidence    []EvidenceFinding
	Forecast    Forecast
}

// #endregion ports

// #region funcs

// ErrStageMissing is returned by Funcs when a stage function was not supplied.
var ErrStageMissing = errors.New("analysis stage not configured")

// Funcs adapts five plain functions to Ports. It is the translation layer for
// callers whose stages are not already shaped as a Ports implementation.
type Funcs struct {
	PreferenceFunc   func(ctx context.Context, messages []TranscriptMessage, now time.Time) (PreferenceProfile, error)
	StateFunc        func(ctx context.Context, messages []TranscriptMessage, now time.Time) (StateAssessment, error)
	EvidenceFunc     func(ctx context.Context, in EvidenceInput, now time.Time) ([]EvidenceFinding, error)
	ForecastFunc     func(ctx context.Context, in ForecastInput, now time.Time) (Forecast, error)
	InterventionFunc func(ctx context.Context, in InterventionInput, now time.Time) (InterventionResult, error)
}

var _ Ports = Funcs{}

func (f Funcs) Preference(ctx context.Context, messages []TranscriptMessage, now time.Time) (PreferenceProfile, error) {
	if f.PreferenceFunc == nil {
		return PreferenceProfile{}, fmt.Errorf("preference: %w", ErrStageMissing)
	}
	return f.PreferenceFunc(ctx, messages, now)
}

func (f Funcs) State(ctx context.Context, messages []TranscriptMessage, now time.Time) (StateAssessment, error) {
	if f.StateFunc == nil {
		return StateAssessment{}, fmt.Errorf("state: %w", ErrStageMissing)
	}
	return f.StateFunc(ctx, messages, now)
}

func (f Funcs) Evidence(ctx context.Context, in EvidenceInput, now time.Time) ([]EvidenceFinding, error) {
	if f.EvidenceFunc == nil {
		return nil, fmt.Errorf("evidence: %w", ErrStageMissing)
	}
	return f.EvidenceFunc(ctx, in, now)
}

func (f Funcs) Forecast(ctx context.Context, in ForecastInput, now time.Time) (Forecast, error) {
	if f.ForecastFunc == nil {
		return Forecast{}, fmt.Errorf("forecast: %w", ErrStageMissing)
	}
	return f.ForecastFunc(ctx, in, now)
}

func (f Funcs) Intervention(ctx context.Context, in InterventionInput, now time.Time) (InterventionResult, error) {
	if f.InterventionFunc == nil {
		return InterventionResult{}, fmt.Errorf("intervention: %w", ErrStageMissing)
	}
	return f.InterventionFunc(ctx, in, now)
}

// #endregion funcs

// #region static

// Static returns fixed stage outputs. Used by replay fixtures and tests.
type Static struct {
	PreferenceOut   PreferenceProfile  `json:"preference"`
	StateOut        StateAssessment    `json:"state"`
	EvidenceOut     []EvidenceFinding  `json:"evidence"`
	ForecastOut     Forecast           `json:"forecast"`
	InterventionOut InterventionResult `json:"intervention"`
}

var _ Ports = (*Static)(nil)

func (s *Static) Preference(context.Context, []TranscriptMessage, time.Time) (PreferenceProfile, error) {
	return s.PreferenceOut, nil
}

func (s *Static) State(context.Context, []TranscriptMessage, time.Time) (StateAssessment, error) {
	return s.StateOut, nil
}

func (s *Static) Evidence(context.Context, EvidenceInput, time.Time) ([]EvidenceFinding, error) {
	return s.EvidenceOut, nil
}

func (s *Static) Forecast(context.Context, ForecastInput, time.Time) (Forecast, error) {
	return s.ForecastOut, nil
}

func (s *Static) Intervention(context.Context, InterventionInput, time.Time) (InterventionResult, error) {
	return s.InterventionOut, nil
}

// #endregion static
