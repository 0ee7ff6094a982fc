package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogFile is the trace log name under the state root.
const LogFile = "nudge_trace.jsonl"

// #region record

// Record is one line of the trace log. Payload holds the canonical bytes the
// TraceID was computed from; RecordID and RecordedAt sit outside the hash.
type Record struct {
	TraceID    string          `json:"traceId"`
	RecordID   string          `json:"recordId"`
	RecordedAt time.Time       `json:"recordedAt"`
	AgentID    string          `json:"agentId"`
	Outcome    string          `json:"outcome"`
	Payload    json.RawMessage `json:"payload"`
}

// NewRecord canonicalizes payload and derives its trace ID.
func NewRecord(agentID, outcome string, payload any) (Record, error) {
	canon, err := Canonicalize(payload)
	if err != nil {
		return Record{}, fmt.Errorf("canonicalize trace payload: %w", err)
	}
	return Record{
		TraceID:    IDOf(canon),
		RecordID:   uuid.New().String(),
		RecordedAt: time.Now().UTC(),
		AgentID:    agentID,
		Outcome:    outcome,
		Payload:    canon,
	}, nil
}

// ErrIDMismatch is returned by Verify when a payload no longer hashes to its ID.
var ErrIDMismatch = errors.New("trace id does not match payload")

// Verify recomputes the trace ID from the stored payload.
func Verify(rec Record) error {
	got, err := ID(rec.Payload)
	if err != nil {
		return err
	}
	if got != rec.TraceID {
		return fmt.Errorf("%w: stored %s, computed %s", ErrIDMismatch, rec.TraceID, got)
	}
	return nil
}

// #endregion record

// #region recorder

// Recorder appends trace records. Records are never rewritten.
type Recorder interface {
	Append(ctx context.Context, rec Record) error
}

// Multi fans a record out to every recorder, stopping at the first error.
type Multi []Recorder

func (m Multi) Append(ctx context.Context, rec Record) error {
	for _, r := range m {
		if err := r.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Memory keeps records in process. Used by replay and tests.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func (m *Memory) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything appended so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// #endregion recorder

// #region file-recorder

// FileRecorder appends one JSON object per line to <root>/nudge_trace.jsonl.
// Each append opens the file with O_APPEND and writes the whole line in one
// call, so records from concurrent processes do not interleave.
type FileRecorder struct {
	mu   sync.Mutex
	root string
}

// NewFileRecorder returns a recorder for root. The directory is created on first append.
func NewFileRecorder(root string) *FileRecorder {
	return &FileRecorder{root: root}
}

// Path returns the trace log location.
func (f *FileRecorder) Path() string {
	return filepath.Join(f.root, LogFile)
}

func (f *FileRecorder) Append(_ context.Context, rec Record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("marshal trace record: %w", err)
	}
	line := buf.Bytes() // Encode terminates with '\n'

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return fmt.Errorf("create state root: %w", err)
	}
	file, err := os.OpenFile(f.Path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trace log: %w", err)
	}
	if _, err := file.Write(line); err != nil {
		file.Close()
		return fmt.Errorf("append trace record: %w", err)
	}
	return file.Close()
}

// ByTraceID scans the log for records with traceID.
func (f *FileRecorder) ByTraceID(_ context.Context, traceID string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Find(f.Path(), traceID)
}

// #endregion file-recorder
