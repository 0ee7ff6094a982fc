package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubject is the subject prefix accepted decisions are published under.
const DefaultSubject = "nudge.decisions"

// #region event

// DecisionEvent announces an accepted nudge to downstream consumers.
type DecisionEvent struct {
	TraceID         string    `json:"trace_id"`
	AgentID         string    `json:"agent_id"`
	PlanID          string    `json:"plan_id"`
	ObjectiveIDs    []string  `json:"objective_ids"`
	Action          string    `json:"action"`
	Effort          string    `json:"effort"`
	FollowUpMinutes int       `json:"follow_up_minutes"`
	DecidedAt       time.Time `json:"decided_at"`
}

// Publisher delivers decision events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt DecisionEvent) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, DecisionEvent) error { return nil }

// #endregion event

// #region nats

// NATSPublisher publishes events as JSON on <subject>.<agent_id>.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// ConnectNATS dials url and keeps reconnecting in the background.
func ConnectNATS(url, subject string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("events")
	if subject == "" {
		subject = DefaultSubject
	}
	nc, err := nats.Connect(url,
		nats.Name("nudge-orchestrator"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

// Subject returns the subject an event for agentID is published on.
func (p *NATSPublisher) Subject(agentID string) string {
	return SubjectFor(p.subject, agentID)
}

// SubjectFor joins prefix and agentID into a NATS subject.
func SubjectFor(prefix, agentID string) string {
	if agentID == "" {
		return prefix
	}
	return prefix + "." + agentID
}

func (p *NATSPublisher) Publish(_ context.Context, evt DecisionEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal decision event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(evt.AgentID), data); err != nil {
		return fmt.Errorf("publish decision event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// #endregion nats
