package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	l, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	ts := time.Date(2026, 2, 19, 10, 30, 0, 0, time.UTC)
	code := 1

	l.Log(Entry{
		Timestamp: ts,
		Action:    ActionSpawned,
		Session:   "s1",
		Command:   "taskplex-backend 8001",
		PID:       4242,
	})

	l.Log(Entry{
		Timestamp: ts.Add(time.Second),
		Action:    ActionTerminated,
		Session:   "s1",
		ExitCode:  &code,
	})

	// Read and verify
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var e1 Entry
	json.Unmarshal([]byte(lines[0]), &e1)
	if e1.Action != ActionSpawned {
		t.Errorf("expected spawned, got %v", e1.Action)
	}
	if e1.PID != 4242 {
		t.Errorf("expected pid 4242, got %d", e1.PID)
	}
	if e1.ExitCode != nil {
		t.Errorf("expected no exit code on spawn, got %d", *e1.ExitCode)
	}

	var e2 Entry
	json.Unmarshal([]byte(lines[1]), &e2)
	if e2.Action != ActionTerminated {
		t.Errorf("expected terminated, got %v", e2.Action)
	}
	if e2.ExitCode == nil || *e2.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %v", e2.ExitCode)
	}
}

func TestLoggerZeroExitCodeIsKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	l, _ := NewLogger(path)
	defer l.Close()

	zero := 0
	l.Log(Entry{Action: ActionTerminated, Session: "s", ExitCode: &zero})

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"exit_code":0`) {
		t.Errorf("expected exit_code 0 in %s", data)
	}
}

func TestLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")

	// Write first entry, close
	l1, _ := NewLogger(path)
	l1.Log(Entry{Action: ActionSpawned, Session: "first"})
	l1.Close()

	// Open again, write second entry
	l2, _ := NewLogger(path)
	l2.Log(Entry{Action: ActionReady, Session: "second", Source: "stdout"})
	l2.Close()

	// Both entries should be present
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestLoggerDefaultTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	l, _ := NewLogger(path)
	defer l.Close()

	before := time.Now().UTC()
	l.Log(Entry{Action: ActionReady, Session: "test"})
	after := time.Now().UTC()

	data, _ := os.ReadFile(path)
	var e Entry
	json.Unmarshal(data, &e)

	if e.Timestamp.Before(before) || e.Timestamp.After(after) {
		t.Errorf("timestamp %v not between %v and %v", e.Timestamp, before, after)
	}
}

func TestLoggerFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	l, _ := NewLogger(path)
	l.Close()

	info, _ := os.Stat(path)
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("expected 0600, got %o", perm)
	}
}

func TestNewLoggerBadPath(t *testing.T) {
	if _, err := NewLogger(filepath.Join(t.TempDir(), "missing", "journal.log")); err == nil {
		t.Error("expected error for missing directory")
	}
}
