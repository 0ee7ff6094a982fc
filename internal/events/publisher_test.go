package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "nudge.decisions.main", SubjectFor(DefaultSubject, "main"))
	assert.Equal(t, "nudge.decisions", SubjectFor(DefaultSubject, ""))
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), DecisionEvent{}))
}

func TestDecisionEventJSON(t *testing.T) {
	evt := DecisionEvent{
		TraceID:      "0123456789abcdef",
		AgentID:      "main",
		PlanID:       "focus-timer",
		ObjectiveIDs: []string{"focus"},
		DecidedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "0123456789abcdef", got["trace_id"])
	assert.Equal(t, []any{"focus"}, got["objective_ids"])
}

func TestNATSPublisher_BuffersWhileDisconnected(t *testing.T) {
	// Nothing listens on port 1; the connection stays in reconnect mode and
	// publishes land in the reconnect buffer.
	p, err := ConnectNATS("nats://127.0.0.1:1", "", nil)
	require.NoError(t, err)
	t.Cleanup(p.nc.Close)

	assert.Equal(t, "nudge.decisions.main", p.Subject("main"))
	require.NoError(t, p.Publish(context.Background(), DecisionEvent{TraceID: "0123456789abcdef", AgentID: "main"}))
	n, err := p.nc.Buffered()
	require.NoError(t, err)
	assert.Positive(t, n)
}

// Runs against a live server when NATS_URL is set.
func TestNATSPublisher_DeliversEvent(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe("test.decisions.>", msgs)
	require.NoError(t, err)
	defer s.Unsubscribe()
	require.NoError(t, sub.Flush())

	p, err := ConnectNATS(url, "test.decisions", nil)
	require.NoError(t, err)
	evt := DecisionEvent{TraceID: "0123456789abcdef", AgentID: "coach", PlanID: "focus-timer"}
	require.NoError(t, p.Publish(context.Background(), evt))
	require.NoError(t, p.Close())

	select {
	case msg := <-msgs:
		assert.Equal(t, "test.decisions.coach", msg.Subject)
		var got DecisionEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, evt.PlanID, got.PlanID)
		assert.Equal(t, evt.TraceID, got.TraceID)
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}
}
