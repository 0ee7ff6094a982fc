package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lbartoszcze/autolife/internal/analysis"
	"github.com/lbartoszcze/autolife/internal/events"
	"github.com/lbartoszcze/autolife/internal/gate"
	"github.com/lbartoszcze/autolife/internal/ratelimit"
	"github.com/lbartoszcze/autolife/internal/trace"
)

// #region fixtures

var t0 = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func focusPlan() analysis.InterventionPlan {
	return analysis.InterventionPlan{
		ID:              "focus-sprint",
		ObjectiveIDs:    []string{"focus"},
		Action:          "Set a 25 minute timer and work on one task until it rings.",
		Rationale:       "Short bounded sprints reduce the cost of starting.",
		ExpectedImpact:  "One finished block of focused work.",
		Effort:          analysis.EffortLow,
		FollowUpMinutes: 30,
	}
}

func focusPorts() *analysis.Static {
	plan := focusPlan()
	return &analysis.Static{
		PreferenceOut: analysis.PreferenceProfile{
			ObjectiveWeights: map[string]float64{"focus": 0.8, "sleep": 0.2},
			ToneBias:         analysis.ToneBias{Supportive: 0.7, Direct: 0.3},
			Confidence:       0.6,
		},
		StateOut: analysis.StateAssessment{
			Needs:     map[string]float64{"focus": 0.9, "stress": 0.6},
			Affect:    analysis.Affect{Frustration: 0.5, Distress: 0.4, Momentum: 0.2},
			Signals:   []string{"overwhelmed", "stuck"},
			Freshness: analysis.Freshness{CapturedAt: t0.UnixMilli(), Completeness: 0.5},
		},
		EvidenceOut: []analysis.EvidenceFinding{{
			TopicID:    "focus",
			Claim:      "Time-boxing improves task initiation.",
			Confidence: 0.6,
		}},
		ForecastOut: analysis.Forecast{
			HorizonDays:      7,
			Baseline:         "Focus stays fragmented.",
			WithIntervention: "One or two focused blocks per day.",
			Confidence:       0.5,
		},
		InterventionOut: analysis.InterventionResult{Selected: &plan},
	}
}

func userMessages(text string) []analysis.TranscriptMessage {
	return []analysis.TranscriptMessage{{Role: analysis.RoleUser, Text: text}}
}

func limits(cooldown, perDay int) *gate.Limits {
	return &gate.Limits{CooldownMinutes: cooldown, MaxPerDay: perDay}
}

type recordingPublisher struct {
	mu   sync.Mutex
	evts []events.DecisionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.DecisionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evts = append(p.evts, evt)
	return nil
}

// staleStore hides committed state from Load, as if another process
// committed between this decision's gate check and its commit.
type staleStore struct {
	*ratelimit.MemoryStore
}

func (staleStore) Load(context.Context) ratelimit.State { return ratelimit.Empty() }

type failingStore struct {
	*ratelimit.MemoryStore
}

func (failingStore) Update(context.Context, func(*ratelimit.State) error) error {
	return errors.New("disk full")
}

type failingRecorder struct{}

func (failingRecorder) Append(context.Context, trace.Record) error {
	return errors.New("read-only filesystem")
}

// #endregion fixtures

// #region pipeline-tests

func TestDecide_EndToEnd(t *testing.T) {
	root := t.TempDir()
	o := Open(root, focusPorts())
	ctx := context.Background()

	dec, err := o.Decide(ctx, Request{
		AgentID:  "main",
		Messages: userMessages("I am overwhelmed and stuck with focus"),
		Now:      t0,
		Limits:   limits(0, 3),
	})
	require.NoError(t, err)
	assert.True(t, dec.ShouldNudge)
	require.NotNil(t, dec.Selected)
	assert.Contains(t, dec.Selected.ObjectiveIDs, "focus")
	assert.Len(t, dec.TraceID, trace.IDLength)
	assert.Contains(t, dec.Reason, "accepted")

	second, err := o.Decide(ctx, Request{
		AgentID:  "main",
		Messages: userMessages("I am overwhelmed and stuck with focus"),
		Now:      t0.Add(time.Second),
		Limits:   limits(120, 3),
	})
	require.NoError(t, err)
	assert.False(t, second.ShouldNudge)
	assert.Contains(t, second.Reason, "cooldown")
	assert.Nil(t, second.Selected)

	recs, err := trace.ReadFile(trace.NewFileRecorder(root).Path())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, dec.TraceID, recs[0].TraceID)
	assert.Equal(t, second.TraceID, recs[1].TraceID)
	for _, rec := range recs {
		assert.NoError(t, trace.Verify(rec))
	}

	st := ratelimit.NewFileStore(root, nil).Load(ctx)
	assert.Equal(t, t0.UnixMilli(), st.LastDispatchByAgent["main"])
	assert.Equal(t, 1, st.CountOn("main", "2026-01-01"))
}

func TestDecide_Deterministic(t *testing.T) {
	req := Request{
		AgentID:    " Main ",
		Messages:   userMessages("stuck"),
		Now:        t0,
		Limits:     limits(120, 3),
		TopicHints: []string{"Deep Work"},
	}
	a, err := New(focusPorts(), ratelimit.NewMemoryStore(), &trace.Memory{}).Decide(context.Background(), req)
	require.NoError(t, err)
	b, err := New(focusPorts(), ratelimit.NewMemoryStore(), &trace.Memory{}).Decide(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a.TraceID, b.TraceID)

	req.Now = t0.Add(time.Millisecond)
	c, err := New(focusPorts(), ratelimit.NewMemoryStore(), &trace.Memory{}).Decide(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, a.TraceID, c.TraceID)
}

func TestDecide_Cooldown(t *testing.T) {
	o := New(focusPorts(), ratelimit.NewMemoryStore(), &trace.Memory{})
	ctx := context.Background()
	call := func(at time.Time) Decision {
		dec, err := o.Decide(ctx, Request{AgentID: "main", Now: at, Limits: limits(120, 3)})
		require.NoError(t, err)
		return dec
	}

	require.True(t, call(t0).ShouldNudge)

	blocked := call(t0.Add(30 * time.Minute))
	assert.False(t, blocked.ShouldNudge)
	assert.Contains(t, blocked.Reason, "cooldown")
	assert.Len(t, blocked.TraceID, trace.IDLength)

	later := call(t0.Add(121 * time.Minute))
	assert.True(t, later.ShouldNudge, later.Reason)
}

func TestDecide_DailyLimit(t *testing.T) {
	o := New(focusPorts(), ratelimit.NewMemoryStore(), &trace.Memory{})
	ctx := context.Background()
	call := func(at time.Time) Decision {
		dec, err := o.Decide(ctx, Request{AgentID: "main", Now: at, Limits: limits(0, 1)})
		require.NoError(t, err)
		return dec
	}

	require.True(t, call(t0).ShouldNudge)

	capped := call(t0.Add(time.Hour))
	assert.False(t, capped.ShouldNudge)
	assert.Contains(t, capped.Reason, "daily-limit")

	nextDay := call(t0.Add(24 * time.Hour))
	assert.True(t, nextDay.ShouldNudge, nextDay.Reason)
}

func TestDecide_PacingShortCircuitsStages(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	st := ratelimit.Empty()
	st.Record("main", t0)
	require.NoError(t, store.Save(context.Background(), st))

	called := false
	ports := analysis.Funcs{
		PreferenceFunc: func(context.Context, []analysis.TranscriptMessage, time.Time) (analysis.PreferenceProfile, error) {
			called = true
			return analysis.PreferenceProfile{}, nil
		},
	}
	rec := &trace.Memory{}
	dec, err := New(ports, store, rec).Decide(context.Background(), Request{Now: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, dec.ShouldNudge)
	assert.Contains(t, dec.Reason, "cooldown")
	assert.False(t, called)

	recs := rec.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "cooldown", recs[0].Outcome)
	assert.NotContains(t, string(recs[0].Payload), `"stages"`)
}

func TestDecide_SafetyVeto(t *testing.T) {
	ports := focusPorts()
	unsafe := focusPlan()
	unsafe.Action = "Research self-harm methods to understand the urge."
	ports.InterventionOut = analysis.InterventionResult{Selected: &unsafe}

	store := ratelimit.NewMemoryStore()
	rec := &trace.Memory{}
	dec, err := New(ports, store, rec).Decide(context.Background(), Request{Now: t0, Limits: limits(0, 3)})
	require.NoError(t, err)
	assert.False(t, dec.ShouldNudge)
	assert.Contains(t, dec.Reason, "safety")
	assert.NotContains(t, dec.Reason, "self-harm")
	assert.Nil(t, dec.Selected)
	assert.Nil(t, dec.Alternatives)

	_, dispatched := store.Load(context.Background()).LastDispatch(DefaultAgentID)
	assert.False(t, dispatched)
	require.Len(t, rec.Records(), 1)
	assert.Equal(t, "safety", rec.Records()[0].Outcome)
}

func TestDecide_SafetyVetoPlainMedicationWording(t *testing.T) {
	ports := focusPorts()
	unsafe := focusPlan()
	unsafe.Action = "Stop the medication you were prescribed and see how you feel."
	ports.InterventionOut = analysis.InterventionResult{Selected: &unsafe}

	store := ratelimit.NewMemoryStore()
	dec, err := New(ports, store, &trace.Memory{}).Decide(context.Background(), Request{Now: t0, Limits: limits(0, 3)})
	require.NoError(t, err)
	assert.False(t, dec.ShouldNudge)
	assert.Contains(t, dec.Reason, "safety")
	_, dispatched := store.Load(context.Background()).LastDispatch(DefaultAgentID)
	assert.False(t, dispatched)
}

func TestDecide_Arbitration(t *testing.T) {
	ports := focusPorts()
	sleep := focusPlan()
	sleep.ID = "wind-down"
	sleep.ObjectiveIDs = []string{"sleep"}
	sleep.Action = "Put your phone in another room 30 minutes before bed."
	focus := focusPlan()
	ports.InterventionOut = analysis.InterventionResult{
		Selected:     &sleep,
		Alternatives: []analysis.InterventionPlan{focus},
	}

	rec := &trace.Memory{}
	dec, err := New(ports, ratelimit.NewMemoryStore(), rec).Decide(context.Background(), Request{Now: t0})
	require.NoError(t, err)
	require.True(t, dec.ShouldNudge)
	assert.Equal(t, "focus-sprint", dec.Selected.ID)
	assert.Contains(t, dec.Selected.ObjectiveIDs, "focus")
	assert.Len(t, dec.Alternatives, 1)
	assert.Contains(t, string(rec.Records()[0].Payload), `"arbitration":{"dominantNeed":"focus","fromPlanId":"wind-down","overridden":true}`)
}

func TestDecide_FallbackPlan(t *testing.T) {
	ports := focusPorts()
	ports.InterventionOut = analysis.InterventionResult{}

	dec, err := New(ports, ratelimit.NewMemoryStore(), &trace.Memory{}).Decide(context.Background(), Request{Now: t0})
	require.NoError(t, err)
	require.True(t, dec.ShouldNudge, dec.Reason)
	assert.Equal(t, "fallback-focus", dec.Selected.ID)
	assert.Equal(t, analysis.EffortLow, dec.Selected.Effort)
}

func TestDecide_NoCandidate(t *testing.T) {
	ports := focusPorts()
	ports.InterventionOut = analysis.InterventionResult{}

	dec, err := New(ports, ratelimit.NewMemoryStore(), &trace.Memory{}, WithFallback(false)).
		Decide(context.Background(), Request{Now: t0})
	require.NoError(t, err)
	assert.False(t, dec.ShouldNudge)
	assert.Contains(t, dec.Reason, "no-candidate")

	empty := focusPlan()
	empty.Action = "  "
	ports.InterventionOut = analysis.InterventionResult{Selected: &empty}
	dec, err = New(ports, ratelimit.NewMemoryStore(), &trace.Memory{}).Decide(context.Background(), Request{Now: t0})
	require.NoError(t, err)
	assert.False(t, dec.ShouldNudge)
	assert.Contains(t, dec.Reason, "no-candidate")
}

func TestDecide_StageFailure(t *testing.T) {
	base := focusPorts()
	boom := errors.New("upstream unavailable")
	ports := analysis.Funcs{
		PreferenceFunc: base.Preference,
		StateFunc:      base.State,
		EvidenceFunc: func(context.Context, analysis.EvidenceInput, time.Time) ([]analysis.EvidenceFinding, error) {
			return nil, boom
		},
	}
	store := ratelimit.NewMemoryStore()
	rec := &trace.Memory{}

	_, err := New(ports, store, rec).Decide(context.Background(), Request{Now: t0})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "evidence stage")
	assert.Empty(t, rec.Records())
	assert.Empty(t, store.Load(context.Background()).LastDispatchByAgent)
}

func TestDecide_InvalidStageOutput(t *testing.T) {
	ports := focusPorts()
	ports.ForecastOut.Confidence = 2 // clamped, not rejected
	dec, err := New(ports, ratelimit.NewMemoryStore(), &trace.Memory{}).Decide(context.Background(), Request{Now: t0})
	require.NoError(t, err)
	assert.True(t, dec.ShouldNudge)
}

func TestDecide_CommitRecheck(t *testing.T) {
	mem := ratelimit.NewMemoryStore()
	st := ratelimit.Empty()
	st.Record("main", t0)
	require.NoError(t, mem.Save(context.Background(), st))

	rec := &trace.Memory{}
	dec, err := New(focusPorts(), staleStore{mem}, rec).
		Decide(context.Background(), Request{Now: t0.Add(time.Minute), Limits: limits(120, 3)})
	require.NoError(t, err)
	assert.False(t, dec.ShouldNudge)
	assert.Contains(t, dec.Reason, "cooldown")
	assert.Equal(t, 1, mem.Load(context.Background()).CountOn("main", "2026-01-01"))

	// The trace reflects the final outcome, with stages attached.
	require.Len(t, rec.Records(), 1)
	assert.Equal(t, "cooldown", rec.Records()[0].Outcome)
	assert.Contains(t, string(rec.Records()[0].Payload), `"stages"`)
}

func TestDecide_StoreWriteFailure(t *testing.T) {
	rec := &trace.Memory{}
	_, err := New(focusPorts(), failingStore{ratelimit.NewMemoryStore()}, rec).
		Decide(context.Background(), Request{Now: t0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit dispatch")
	assert.Empty(t, rec.Records())
}

func TestDecide_TraceFailureAfterCommit(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := ratelimit.NewMemoryStore()
	_, err := New(focusPorts(), store, failingRecorder{}, WithLogger(zap.New(core))).
		Decide(context.Background(), Request{Now: t0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append trace")

	// The dispatch stays committed and the gap is logged for reconciliation.
	_, dispatched := store.Load(context.Background()).LastDispatch(DefaultAgentID)
	assert.True(t, dispatched)
	entries := logs.FilterMessage("dispatch committed without trace record").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, DefaultAgentID, fields["agent"])
	assert.Equal(t, t0.UnixMilli(), fields["now"])
	assert.Equal(t, "focus-sprint", fields["plan_id"])
}

func TestDecide_TraceFailureOnVetoLogsNoDispatch(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := ratelimit.NewMemoryStore()
	require.NoError(t, store.Update(context.Background(), func(s *ratelimit.State) error {
		s.Record(DefaultAgentID, t0.Add(-time.Minute))
		return nil
	}))
	_, err := New(focusPorts(), store, failingRecorder{}, WithLogger(zap.New(core))).
		Decide(context.Background(), Request{Now: t0})
	require.Error(t, err)
	assert.Zero(t, logs.FilterMessage("dispatch committed without trace record").Len())
}

func TestDecide_ConcurrentSameAgent(t *testing.T) {
	defer goleak.VerifyNone(t)
	root := t.TempDir()
	o := Open(root, focusPorts())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := o.Decide(context.Background(), Request{AgentID: "main", Now: t0, Limits: limits(0, 3)})
			assert.NoError(t, err)
			if dec.ShouldNudge {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, accepted)
}

func TestDecide_PublishesAccepted(t *testing.T) {
	pub := &recordingPublisher{}
	o := New(focusPorts(), ratelimit.NewMemoryStore(), &trace.Memory{}, WithPublisher(pub))

	dec, err := o.Decide(context.Background(), Request{AgentID: "coach", Now: t0})
	require.NoError(t, err)
	require.True(t, dec.ShouldNudge)
	_, err = o.Decide(context.Background(), Request{AgentID: "coach", Now: t0.Add(time.Minute)})
	require.NoError(t, err)

	require.Len(t, pub.evts, 1)
	assert.Equal(t, dec.TraceID, pub.evts[0].TraceID)
	assert.Equal(t, "coach", pub.evts[0].AgentID)
	assert.Equal(t, "focus-sprint", pub.evts[0].PlanID)
}

func TestDecide_UsesClock(t *testing.T) {
	rec := &trace.Memory{}
	o := New(focusPorts(), ratelimit.NewMemoryStore(), rec, WithClock(func() time.Time { return t0 }))
	_, err := o.Decide(context.Background(), Request{})
	require.NoError(t, err)
	assert.Contains(t, string(rec.Records()[0].Payload), `"now":1767258000000`)
}

// #endregion pipeline-tests

// #region helper-tests

func TestNormalizeAgentID(t *testing.T) {
	cases := map[string]string{
		"":             "main",
		"   ":          "main",
		"Main":         "main",
		"  Zoë Main ":  "zoe-main",
		"../etc":       "etc",
		"team/alpha_1": "team-alpha_1",
		"a!!!b":        "a-b",
		"日本":           "main",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeAgentID(in), "input %q", in)
	}
}

func TestDeriveTopics(t *testing.T) {
	state := analysis.StateAssessment{Needs: map[string]float64{"focus": 0.9, "sleep": 0.7, "stress": 0.5, "diet": 0.1}}
	prefs := analysis.PreferenceProfile{ObjectiveWeights: map[string]float64{"Fitness": 0.8, "focus": 0.6, "reading": 0.1}}

	got := DeriveTopics(state, prefs, []string{"Deep  Work", "sleep"}, DefaultTopic)
	assert.Equal(t, []string{"focus", "sleep", "stress", "fitness", "deep-work"}, got)

	assert.Equal(t, []string{"general"}, DeriveTopics(analysis.StateAssessment{}, analysis.PreferenceProfile{}, nil, ""))
	assert.Equal(t, []string{"wellbeing"}, DeriveTopics(analysis.StateAssessment{}, analysis.PreferenceProfile{}, nil, "wellbeing"))
}

func TestArbitrate(t *testing.T) {
	sleep := analysis.InterventionPlan{ID: "s", ObjectiveIDs: []string{"sleep"}}
	focus := analysis.InterventionPlan{ID: "f", ObjectiveIDs: []string{"focus"}}

	got, arb := Arbitrate("focus", sleep, []analysis.InterventionPlan{sleep, focus})
	assert.Equal(t, "f", got.ID)
	assert.True(t, arb.Overridden)
	assert.Equal(t, "s", arb.FromPlanID)

	got, arb = Arbitrate("diet", sleep, []analysis.InterventionPlan{focus})
	assert.Equal(t, "s", got.ID)
	assert.False(t, arb.Overridden)

	got, arb = Arbitrate("", sleep, nil)
	assert.Equal(t, "s", got.ID)
	assert.Empty(t, arb.DominantNeed)
}

func TestFallbackPlan(t *testing.T) {
	p := FallbackPlan("Deep Work")
	assert.Equal(t, "fallback-deep-work", p.ID)
	assert.True(t, analysis.Usable(p))
	assert.Contains(t, p.Action, "deep work")
	assert.Equal(t, "fallback-general", FallbackPlan("").ID)
}

// #endregion helper-tests
