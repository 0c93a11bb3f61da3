package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MutationEvent records one successful write made through a façade
type MutationEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`   // "orient" or "tiger"
	Operation string    `json:"operation"` // e.g. "vertex.create"
	Target    string    `json:"target"`    // class, rid, vertex type or connection key
	RequestID string    `json:"request_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Log appends MutationEvents to a JSONL file. A nil *Log or one with an
// empty path records nothing.
type Log struct {
	path string
	mu   sync.Mutex
}

// NewLog returns a log writing to path, creating its directory if needed.
func NewLog(path string) (*Log, error) {
	if path == "" {
		return &Log{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &Log{path: path}, nil
}

// Enabled reports whether events are written anywhere.
func (l *Log) Enabled() bool {
	return l != nil && l.path != ""
}

// Record appends event as one JSON line.
func (l *Log) Record(event MutationEvent) error {
	if !l.Enabled() {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Open file in append mode (create if doesn't exist)
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(event)
}
