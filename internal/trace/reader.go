package trace

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

const maxLineBytes = 8 * 1024 * 1024

// #region reader

// Reader streams records from a trace log.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Reader{scanner: scanner}
}

// Next returns the next record or io.EOF. Blank lines are skipped.
func (r *Reader) Next() (Record, error) {
	for r.scanner.Scan() {
		r.line++
		if len(r.scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(r.scanner.Bytes(), &rec); err != nil {
			return Record{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

// Line is the 1-based line number of the record last returned.
func (r *Reader) Line() int {
	return r.line
}

// #endregion reader

// #region helpers

// ReadFile loads every record of the log at path. A missing log is empty.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open trace log: %w", err)
	}
	defer f.Close()

	reader := NewReader(f)
	var out []Record
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// Find returns every record in the log at path with the given trace ID.
// Identical payloads share an ID, so more than one record can match.
func Find(path, traceID string) ([]Record, error) {
	all, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, rec := range all {
		if rec.TraceID == traceID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// #endregion helpers
