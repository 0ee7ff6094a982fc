package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lbartoszcze/autolife/internal/analysis"
	"github.com/lbartoszcze/autolife/internal/gate"
	"github.com/lbartoszcze/autolife/internal/orchestrator"
	"github.com/lbartoszcze/autolife/internal/trace"
)

// Decider is the decision surface served over HTTP and gRPC.
type Decider interface {
	Decide(ctx context.Context, req orchestrator.Request) (orchestrator.Decision, error)
}

// TraceFinder looks up trace records by ID.
type TraceFinder interface {
	ByTraceID(ctx context.Context, traceID string) ([]trace.Record, error)
}

// ErrBadRequest marks a request rejected before it reached the orchestrator.
var ErrBadRequest = errors.New("bad request")

// DecideRequest is the wire form of a decision request, shared by HTTP and gRPC.
// Limits left unset fall back to the server defaults.
type DecideRequest struct {
	AgentID         string                       `json:"agentId"`
	Messages        []analysis.TranscriptMessage `json:"messages"`
	Now             *int64                       `json:"now,omitempty"` // epoch ms
	CooldownMinutes *int                         `json:"cooldownMinutes,omitempty"`
	MaxNudgesPerDay *int                         `json:"maxNudgesPerDay,omitempty"`
	TopicHints      []string                     `json:"topicHints,omitempty"`
}

// Resolve validates r and fills unset limits from defaults.
func (r DecideRequest) Resolve(defaults gate.Limits) (orchestrator.Request, error) {
	for i, m := range r.Messages {
		if m.Role != analysis.RoleUser && m.Role != analysis.RoleAssistant {
			return orchestrator.Request{}, fmt.Errorf("%w: messages[%d].role must be user or assistant", ErrBadRequest, i)
		}
	}

	limits := defaults
	if r.CooldownMinutes != nil {
		limits.CooldownMinutes = *r.CooldownMinutes
	}
	if r.MaxNudgesPerDay != nil {
		limits.MaxPerDay = *r.MaxNudgesPerDay
	}
	if limits.CooldownMinutes < 0 || limits.MaxPerDay < 0 {
		return orchestrator.Request{}, fmt.Errorf("%w: limits must not be negative", ErrBadRequest)
	}

	req := orchestrator.Request{
		AgentID:    r.AgentID,
		Messages:   r.Messages,
		Limits:     &limits,
		TopicHints: r.TopicHints,
	}
	if r.Now != nil {
		req.Now = time.UnixMilli(*r.Now).UTC()
	}
	return req, nil
}
