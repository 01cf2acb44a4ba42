// Package recorder writes per-session solve traces as rotating JSONL files.
// Solving outcomes are only observable operationally; the trace is the
// flight record of what the agent saw, decided, and got back.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const MaxRotatedFiles = 5

// Event types emitted by the session loop.
const (
	EventSessionStart = "session_start"
	EventCycle        = "cycle"
	EventDecision     = "decision"
	EventSubmission   = "submission"
	EventLevelAdvance = "level_advance"
	EventSoftPass     = "soft_pass"
	EventSessionEnd   = "session_end"
)

// Event is a single record in the solve trace.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data"`
}

// Recorder manages rotating trace files. A nil *Recorder is a valid no-op
// sink, so callers never need to branch on whether tracing is enabled.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	basePath string
}

// NewRecorder creates a recorder rooted at basePath. An empty basePath
// disables recording (returns nil, nil).
func NewRecorder(basePath string) (*Recorder, error) {
	if basePath == "" {
		return nil, nil
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &Recorder{basePath: basePath}, nil
}

// Start begins a new trace for a session, rotating old files so only the
// last MaxRotatedFiles traces are kept.
func (r *Recorder) Start(sessionID string) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}

	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	filename := fmt.Sprintf("solve_%s_%d.jsonl", sessionID, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(r.basePath, filename))
	if err != nil {
		return err
	}

	r.file = f
	r.encoder = json.NewEncoder(f)
	return nil
}

// Log writes an event to the current trace file.
func (r *Recorder) Log(eventType, sessionID string, data interface{}) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}
	_ = r.encoder.Encode(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
	})
}

// rotate keeps only the newest MaxRotatedFiles.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	var traces []struct {
		Name string
		Time time.Time
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, struct {
			Name string
			Time time.Time
		}{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		return traces[i].Time.After(traces[j].Time)
	})

	if len(traces) >= MaxRotatedFiles {
		for i := MaxRotatedFiles - 1; i < len(traces); i++ {
			_ = os.Remove(filepath.Join(r.basePath, traces[i].Name))
		}
	}
	return nil
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.encoder = nil
		return err
	}
	return nil
}
