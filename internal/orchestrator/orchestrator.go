package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lbartoszcze/autolife/internal/analysis"
	"github.com/lbartoszcze/autolife/internal/events"
	"github.com/lbartoszcze/autolife/internal/gate"
	"github.com/lbartoszcze/autolife/internal/ratelimit"
	"github.com/lbartoszcze/autolife/internal/safety"
	"github.com/lbartoszcze/autolife/internal/trace"
)

// #endregion

// #region orchestrator-struct

// Orchestrator composes the analysis stages, the pacing store, the gate chain
// and the trace recorder into one decision per call.
type Orchestrator struct {
	ports     analysis.Ports
	store     ratelimit.Store
	recorder  trace.Recorder
	gate      *gate.Gate
	publisher events.Publisher
	logger    *zap.Logger
	limits    gate.Limits
	clock     func() time.Time
	topic     string
	fallback  bool
	agents    ratelimit.KeyedMutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLimits sets the limits used when a Request carries none.
func WithLimits(l gate.Limits) Option {
	return func(o *Orchestrator) { o.limits = l }
}

func WithSafetyFilter(f *safety.Filter) Option {
	return func(o *Orchestrator) { o.gate = gate.NewGate(f) }
}

func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithClock replaces time.Now for requests without an explicit Now.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithDefaultTopic sets the topic used when nothing else names one.
func WithDefaultTopic(topic string) Option {
	return func(o *Orchestrator) { o.topic = topic }
}

// WithFallback toggles substitution of FallbackPlan when the Intervention
// stage selects nothing. Enabled by default.
func WithFallback(enabled bool) Option {
	return func(o *Orchestrator) { o.fallback = enabled }
}

// #endregion

// #region constructor

// New wires an orchestrator around the given stages, store and recorder.
func New(ports analysis.Ports, store ratelimit.Store, recorder trace.Recorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ports:     ports,
		store:     store,
		recorder:  recorder,
		gate:      gate.NewGate(nil),
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		limits:    gate.DefaultLimits(),
		clock:     time.Now,
		topic:     DefaultTopic,
		fallback:  true,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orch")
	return o
}

// Open wires an orchestrator persisting pacing state and traces as files
// under root.
func Open(root string, ports analysis.Ports, opts ...Option) *Orchestrator {
	o := New(ports, nil, trace.NewFileRecorder(filepath.Clean(root)), opts...)
	o.store = ratelimit.NewFileStore(root, o.logger)
	return o
}

// #endregion

// #region decide

// errPacingRace signals that another decision committed between the initial
// gate check and this one's commit.
var errPacingRace = errors.New("pacing gate failed at commit")

// Decide runs one full decision. Gate rejections are returned as a Decision
// with ShouldNudge false; only stage, trace and store failures return an error.
func (o *Orchestrator) Decide(ctx context.Context, req Request) (Decision, error) {
	agentID := NormalizeAgentID(req.AgentID)
	now := req.Now
	if now.IsZero() {
		now = o.clock()
	}
	now = now.UTC().Truncate(time.Millisecond)
	limits := o.limits
	if req.Limits != nil {
		limits = *req.Limits
	}

	unlock := o.agents.Lock(agentID)
	defer unlock()

	log := o.logger.With(zap.String("agent", agentID))

	payload := Payload{
		AgentID:         agentID,
		Now:             now.UnixMilli(),
		CooldownMinutes: limits.CooldownMinutes,
		MaxNudgesPerDay: limits.MaxPerDay,
		Messages:        nonNilMessages(req.Messages),
		TopicHints:      nonNilStrings(req.TopicHints),
	}

	// 1. Pacing gates on the persisted state
	st := o.store.Load(ctx)
	if veto := o.gate.Pacing(st, agentID, now, limits); veto != nil {
		log.Info("pacing gate", zap.String("outcome", string(veto.Type)))
		return o.finish(ctx, agentID, payload, gate.Reject(*veto), nil, nil)
	}

	// 2. Analysis stages
	stages, err := o.runStages(ctx, req, now)
	if err != nil {
		return Decision{}, err
	}
	payload.Stages = stages

	// 3. No-candidate and safety gates
	verdict := gate.Accept(planID(stages.Selected))
	if veto := o.gate.Plan(stages.Selected); veto != nil {
		verdict = gate.Reject(*veto)
		log.Info("plan gate", zap.String("outcome", string(veto.Type)), zap.String("rule", veto.Rule))
	}

	// 4. Commit the dispatch, re-checking pacing under the store lock
	if !verdict.Vetoed {
		var race *gate.VetoSignal
		err := o.store.Update(ctx, func(s *ratelimit.State) error {
			if veto := o.gate.Pacing(*s, agentID, now, limits); veto != nil {
				race = veto
				return errPacingRace
			}
			s.Record(agentID, now)
			return nil
		})
		switch {
		case errors.Is(err, errPacingRace):
			log.Warn("pacing gate tripped at commit", zap.String("outcome", string(race.Type)))
			verdict = gate.Reject(*race)
		case err != nil:
			return Decision{}, fmt.Errorf("commit dispatch: %w", err)
		}
	}

	dec, err := o.finish(ctx, agentID, payload, verdict, stages.Selected, stages.Alternatives)
	if err != nil {
		return dec, err
	}
	if dec.ShouldNudge {
		o.publish(ctx, dec, agentID, now)
	}
	return dec, nil
}

// #endregion

// #region stages

func (o *Orchestrator) runStages(ctx context.Context, req Request, now time.Time) (*StageOutputs, error) {
	messages := req.Messages

	var (
		prefs analysis.PreferenceProfile
		state analysis.StateAssessment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := o.ports.Preference(gctx, messages, now)
		if err != nil {
			return stageErr("preference", err)
		}
		if prefs, err = analysis.NormalizePreference(p); err != nil {
			return stageErr("preference", err)
		}
		return nil
	})
	g.Go(func() error {
		s, err := o.ports.State(gctx, messages, now)
		if err != nil {
			return stageErr("state", err)
		}
		if state, err = analysis.NormalizeState(s); err != nil {
			return stageErr("state", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	topics := DeriveTopics(state, prefs, req.TopicHints, o.topic)

	evidence, err := o.ports.Evidence(ctx, analysis.EvidenceInput{State: state, Preferences: prefs, Topics: topics}, now)
	if err != nil {
		return nil, stageErr("evidence", err)
	}
	if evidence, err = analysis.NormalizeEvidence(evidence); err != nil {
		return nil, stageErr("evidence", err)
	}

	forecast, err := o.ports.Forecast(ctx, analysis.ForecastInput{State: state, Preferences: prefs, Evidence: evidence}, now)
	if err != nil {
		return nil, stageErr("forecast", err)
	}
	if forecast, err = analysis.NormalizeForecast(forecast); err != nil {
		return nil, stageErr("forecast", err)
	}

	result, err := o.ports.Intervention(ctx, analysis.InterventionInput{
		State: state, Preferences: prefs, Evidence: evidence, Forecast: forecast,
	}, now)
	if err != nil {
		return nil, stageErr("intervention", err)
	}
	result = normalizeResult(result)

	out := &StageOutputs{
		Topics:       topics,
		Preferences:  prefs,
		State:        state,
		Evidence:     evidence,
		Forecast:     forecast,
		Intervention: result,
		Alternatives: result.Alternatives,
	}
	if out.Alternatives == nil {
		out.Alternatives = []analysis.InterventionPlan{}
	}

	var selected analysis.InterventionPlan
	switch {
	case result.Selected != nil:
		selected = *result.Selected
	case o.fallback:
		selected = FallbackPlan(topics[0])
		out.Fallback = true
	default:
		out.Arbitration = Arbitration{DominantNeed: DominantNeed(state)}
		return out, nil
	}

	selected, out.Arbitration = Arbitrate(DominantNeed(state), selected, out.Alternatives)
	out.Selected = &selected
	return out, nil
}

func stageErr(stage string, err error) error {
	return fmt.Errorf("%s stage: %w", stage, err)
}

func normalizeResult(r analysis.InterventionResult) analysis.InterventionResult {
	out := analysis.InterventionResult{}
	if r.Selected != nil {
		p := analysis.NormalizePlan(*r.Selected)
		out.Selected = &p
	}
	for _, alt := range r.Alternatives {
		out.Alternatives = append(out.Alternatives, analysis.NormalizePlan(alt))
	}
	return out
}

// #endregion

// #region finish

// finish records the trace and builds the caller-facing Decision.
func (o *Orchestrator) finish(
	ctx context.Context,
	agentID string,
	payload Payload,
	verdict gate.GateDecision,
	selected *analysis.InterventionPlan,
	alternatives []analysis.InterventionPlan,
) (Decision, error) {
	payload.Gate = GateOutcome{
		Outcome:     verdict.Outcome,
		Reason:      verdict.Reason,
		ShouldNudge: !verdict.Vetoed,
	}
	if verdict.Veto != nil {
		payload.Gate.Rule = verdict.Veto.Rule
	}

	rec, err := trace.NewRecord(agentID, verdict.Outcome, payload)
	if err != nil {
		return Decision{}, err
	}
	if err := o.recorder.Append(ctx, rec); err != nil {
		if !verdict.Vetoed {
			// Pacing state already holds this dispatch.
			o.logger.Error("dispatch committed without trace record",
				zap.String("agent", agentID),
				zap.Int64("now", payload.Now),
				zap.String("plan_id", planID(selected)),
				zap.String("trace_id", rec.TraceID),
				zap.Error(err),
			)
		}
		return Decision{}, fmt.Errorf("append trace: %w", err)
	}

	dec := Decision{
		ShouldNudge: !verdict.Vetoed,
		Reason:      verdict.Reason,
		TraceID:     rec.TraceID,
	}
	if dec.ShouldNudge {
		dec.Selected = selected
		dec.Alternatives = alternatives
	}
	o.logger.Info("decision",
		zap.String("agent", agentID),
		zap.String("outcome", verdict.Outcome),
		zap.String("trace_id", rec.TraceID),
	)
	return dec, nil
}

func (o *Orchestrator) publish(ctx context.Context, dec Decision, agentID string, now time.Time) {
	evt := events.DecisionEvent{
		TraceID:         dec.TraceID,
		AgentID:         agentID,
		PlanID:          dec.Selected.ID,
		ObjectiveIDs:    dec.Selected.ObjectiveIDs,
		Action:          dec.Selected.Action,
		Effort:          string(dec.Selected.Effort),
		FollowUpMinutes: dec.Selected.FollowUpMinutes,
		DecidedAt:       now,
	}
	if err := o.publisher.Publish(ctx, evt); err != nil {
		o.logger.Warn("publish decision", zap.String("trace_id", dec.TraceID), zap.Error(err))
	}
}

// #endregion

// #region helpers

func planID(p *analysis.InterventionPlan) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func nonNilMessages(m []analysis.TranscriptMessage) []analysis.TranscriptMessage {
	if m == nil {
		return []analysis.TranscriptMessage{}
	}
	return m
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// #endregion
