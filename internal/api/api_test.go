package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/lbartoszcze/autolife/internal/analysis"
	"github.com/lbartoszcze/autolife/internal/gate"
	"github.com/lbartoszcze/autolife/internal/orchestrator"
	"github.com/lbartoszcze/autolife/internal/ratelimit"
	"github.com/lbartoszcze/autolife/internal/trace"
)

// #region fixtures

const nowMs = int64(1767258000000) // 2026-01-01T09:00:00Z

func focusStages() *analysis.Static {
	plan := analysis.InterventionPlan{
		ID:              "focus-sprint",
		ObjectiveIDs:    []string{"focus"},
		Action:          "Set a 25 minute timer and work on one task.",
		Rationale:       "Bounded sprints make starting easier.",
		Effort:          analysis.EffortLow,
		FollowUpMinutes: 30,
	}
	return &analysis.Static{
		StateOut:        analysis.StateAssessment{Needs: map[string]float64{"focus": 0.8}},
		ForecastOut:     analysis.Forecast{HorizonDays: 7},
		InterventionOut: analysis.InterventionResult{Selected: &plan},
	}
}

func setup(t *testing.T) (*orchestrator.Orchestrator, *trace.FileRecorder) {
	t.Helper()
	rec := trace.NewFileRecorder(t.TempDir())
	return orchestrator.New(focusStages(), ratelimit.NewMemoryStore(), rec), rec
}

type failingDecider struct{}

func (failingDecider) Decide(context.Context, orchestrator.Request) (orchestrator.Decision, error) {
	return orchestrator.Decision{}, errors.New("state stage: boom")
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

// #endregion fixtures

// #region http-tests

func TestHealthEndpoint(t *testing.T) {
	o, rec := setup(t)
	srv := NewServer(o, rec, gate.DefaultLimits(), nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func postDecide(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/decide", bytes.NewReader(data)))
	return w
}

func TestDecideEndpoint_AcceptThenCooldown(t *testing.T) {
	o, rec := setup(t)
	h := NewServer(o, rec, gate.DefaultLimits(), nil).Handler()

	w := postDecide(t, h, DecideRequest{
		AgentID:  "main",
		Messages: []analysis.TranscriptMessage{{Role: analysis.RoleUser, Text: "I am stuck with focus"}},
		Now:      int64Ptr(nowMs),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first orchestrator.Decision
	require.NoError(t, json.NewDecoder(w.Body).Decode(&first))
	assert.True(t, first.ShouldNudge)
	assert.Len(t, first.TraceID, trace.IDLength)

	w = postDecide(t, h, DecideRequest{AgentID: "main", Now: int64Ptr(nowMs + 60_000)})
	require.Equal(t, http.StatusOK, w.Code)
	var second orchestrator.Decision
	require.NoError(t, json.NewDecoder(w.Body).Decode(&second))
	assert.False(t, second.ShouldNudge)
	assert.Contains(t, second.Reason, "cooldown")
	assert.NotContains(t, w.Body.String(), `"selected"`)

	// Lookup the first trace.
	tw := httptest.NewRecorder()
	h.ServeHTTP(tw, httptest.NewRequest("GET", "/api/v1/traces/"+first.TraceID, nil))
	require.Equal(t, http.StatusOK, tw.Code)
	var recs []trace.Record
	require.NoError(t, json.NewDecoder(tw.Body).Decode(&recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "accepted", recs[0].Outcome)
}

func TestDecideEndpoint_LimitsOverride(t *testing.T) {
	o, rec := setup(t)
	h := NewServer(o, rec, gate.DefaultLimits(), nil).Handler()

	for i := 0; i < 2; i++ {
		w := postDecide(t, h, DecideRequest{
			Now:             int64Ptr(nowMs + int64(i)),
			CooldownMinutes: intPtr(0),
			MaxNudgesPerDay: intPtr(1),
		})
		require.Equal(t, http.StatusOK, w.Code)
		if i == 1 {
			assert.Contains(t, w.Body.String(), "daily-limit")
		}
	}
}

func TestDecideEndpoint_BadRequests(t *testing.T) {
	o, rec := setup(t)
	h := NewServer(o, rec, gate.DefaultLimits(), nil).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/decide", bytes.NewBufferString("{not json")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/decide", bytes.NewBufferString(`{"bogus":1}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postDecide(t, h, map[string]any{"messages": []map[string]string{{"role": "system", "text": "x"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "role")

	w = postDecide(t, h, DecideRequest{CooldownMinutes: intPtr(-5)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecideEndpoint_PipelineFailure(t *testing.T) {
	h := NewServer(failingDecider{}, nil, gate.DefaultLimits(), nil).Handler()
	w := postDecide(t, h, DecideRequest{})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestTraceEndpoint_ReturnsRecordedDecision(t *testing.T) {
	o, rec := setup(t)
	h := NewServer(o, rec, gate.DefaultLimits(), nil).Handler()

	w := postDecide(t, h, DecideRequest{AgentID: "Coach One", Now: int64Ptr(nowMs)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var dec orchestrator.Decision
	require.NoError(t, json.NewDecoder(w.Body).Decode(&dec))
	require.True(t, dec.ShouldNudge)

	tw := httptest.NewRecorder()
	h.ServeHTTP(tw, httptest.NewRequest("GET", "/api/v1/traces/"+dec.TraceID, nil))
	require.Equal(t, http.StatusOK, tw.Code, tw.Body.String())
	assert.Equal(t, "application/json", tw.Header().Get("Content-Type"))

	var recs []trace.Record
	require.NoError(t, json.NewDecoder(tw.Body).Decode(&recs))
	require.Len(t, recs, 1)
	assert.Equal(t, dec.TraceID, recs[0].TraceID)
	assert.Equal(t, "coach-one", recs[0].AgentID)
	assert.Equal(t, "accepted", recs[0].Outcome)
	assert.Contains(t, string(recs[0].Payload), `"focus-sprint"`)
}

func TestTraceEndpoint_NotFound(t *testing.T) {
	o, rec := setup(t)
	h := NewServer(o, rec, gate.DefaultLimits(), nil).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/traces/0000000000000000", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	h = NewServer(o, nil, gate.DefaultLimits(), nil).Handler()
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/traces/0000000000000000", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// #endregion http-tests

// #region grpc-tests

func startGRPC(t *testing.T, d Decider) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(d, gate.DefaultLimits(), nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGRPC_Decide(t *testing.T) {
	o, _ := setup(t)
	c := startGRPC(t, o)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dec, err := c.Decide(ctx, DecideRequest{
		AgentID:    "main",
		Messages:   []analysis.TranscriptMessage{{Role: analysis.RoleUser, Text: "stuck"}},
		Now:        int64Ptr(nowMs),
		TopicHints: []string{"focus"},
	})
	require.NoError(t, err)
	assert.True(t, dec.ShouldNudge)
	require.NotNil(t, dec.Selected)
	assert.Equal(t, 30, dec.Selected.FollowUpMinutes)
	assert.Len(t, dec.TraceID, trace.IDLength)

	// Same request over the direct API yields the same trace id.
	direct, _ := setup(t)
	want, err := direct.Decide(ctx, orchestrator.Request{
		AgentID:    "main",
		Messages:   []analysis.TranscriptMessage{{Role: analysis.RoleUser, Text: "stuck"}},
		Now:        time.UnixMilli(nowMs),
		Limits:     &gate.Limits{CooldownMinutes: 120, MaxPerDay: 3},
		TopicHints: []string{"focus"},
	})
	require.NoError(t, err)
	assert.Equal(t, want.TraceID, dec.TraceID)
}

func TestGRPC_Errors(t *testing.T) {
	c := startGRPC(t, failingDecider{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Decide(ctx, DecideRequest{})
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(errors.Unwrap(err)))

	_, err = c.Decide(ctx, DecideRequest{MaxNudgesPerDay: intPtr(-1)})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(errors.Unwrap(err)))
}

func TestGRPC_Health(t *testing.T) {
	o, _ := setup(t)
	c := startGRPC(t, o)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)
}

// #endregion grpc-tests
