// Package audit records the lifecycle of a supervised backend as an
// append-only journal of newline-delimited JSON.
//
// The journal answers "what happened at startup" after the fact: when the
// backend was spawned, whether readiness was observed or assumed after a
// timeout, and how the process ended.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Action describes what happened.
type Action string

const (
	ActionSpawned     Action = "spawned"
	ActionSpawnFailed Action = "spawn_failed"
	ActionReady       Action = "ready"
	ActionTerminated  Action = "terminated"
	ActionStopped     Action = "stopped"
)

// Entry is a single journal record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	Session   string    `json:"session"`
	Command   string    `json:"command,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Source    string    `json:"source,omitempty"` // readiness source
	Marker    string    `json:"marker,omitempty"` // marker that matched, if any
	ExitCode  *int      `json:"exit_code,omitempty"`
	Signal    int       `json:"signal,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Logger writes journal entries to an append-only file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger creates or opens a journal file for appending.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &Logger{file: f, path: path}, nil
}

// Log writes a journal entry.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling journal entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing journal entry: %w", err)
	}
	return nil
}

// Path returns the journal file path.
func (l *Logger) Path() string {
	return l.path
}

// Close closes the journal file.
func (l *Logger) Close() error {
	return l.file.Close()
}
