package supervisor

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benaskins/sidecar/internal/driver"
	"github.com/benaskins/sidecar/internal/logbuf"
	"github.com/benaskins/sidecar/internal/readiness"
)

// syncBuffer is a bytes.Buffer safe for a logger writing from goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(w *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeRecorder counts Recorder calls.
type fakeRecorder struct {
	mu          sync.Mutex
	spawned     int
	spawnFailed int
	lines       map[string]int
	anomalies   int
	ready       []string
	terminated  [][2]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{lines: make(map[string]int)}
}

func (r *fakeRecorder) Spawned()       { r.mu.Lock(); r.spawned++; r.mu.Unlock() }
func (r *fakeRecorder) SpawnFailed()   { r.mu.Lock(); r.spawnFailed++; r.mu.Unlock() }
func (r *fakeRecorder) DecodeAnomaly() { r.mu.Lock(); r.anomalies++; r.mu.Unlock() }

func (r *fakeRecorder) Line(stream string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[stream]++
}

func (r *fakeRecorder) Ready(source string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, source)
}

func (r *fakeRecorder) Terminated(code, signal int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminated = append(r.terminated, [2]int{code, signal})
}

func (r *fakeRecorder) readyCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ready...)
}

func (r *fakeRecorder) terminations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.terminated)
}

func (r *fakeRecorder) anomalyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.anomalies
}

func newTestWatcher(t *testing.T, logs *syncBuffer) (*Watcher, *readiness.State, *fakeRecorder) {
	t.Helper()
	dec, err := NewDecoder("")
	if err != nil {
		t.Fatal(err)
	}
	state := readiness.NewState()
	rec := newFakeRecorder()
	return &Watcher{
		classifier: readiness.NewClassifier(readiness.Markers{}),
		state:      state,
		decoder:    dec,
		ring:       logbuf.New(10),
		logger:     testLogger(logs),
		recorder:   rec,
		session:    "test",
	}, state, rec
}

func stdout(s string) driver.Event { return driver.Line{Stream: driver.Stdout, Data: []byte(s)} }
func stderr(s string) driver.Event { return driver.Line{Stream: driver.Stderr, Data: []byte(s)} }

func runEvents(w *Watcher, events ...driver.Event) {
	ch := make(chan driver.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	w.Run(ch)
}

func TestWatcherStdoutMarker(t *testing.T) {
	var logs syncBuffer
	w, state, _ := newTestWatcher(t, &logs)

	var calls []string
	w.onReady = func(src readiness.Source, marker string) {
		calls = append(calls, string(src)+":"+marker)
	}

	runEvents(w,
		driver.Started{PID: 1},
		stdout("INFO:     Started server process [1234]"),
		stdout("INFO:     Uvicorn running on http://0.0.0.0:8001"),
	)

	if !state.Get() || state.Source() != readiness.SourceStdout {
		t.Fatalf("state = %v/%q, want ready from stdout", state.Get(), state.Source())
	}
	if len(calls) != 1 || calls[0] != "stdout:Started server process" {
		t.Errorf("onReady calls = %q, want one for the first marker", calls)
	}
	if n := strings.Count(logs.String(), `msg="backend is ready"`); n != 1 {
		t.Errorf("ready diagnostic logged %d times, want 1", n)
	}
}

func TestWatcherStderrExcludedMarker(t *testing.T) {
	var logs syncBuffer
	w, state, _ := newTestWatcher(t, &logs)

	runEvents(w, stderr("INFO:     Application startup complete."))

	if state.Get() {
		t.Fatal("broad marker on stderr must not latch readiness")
	}
	if !strings.Contains(logs.String(), "level=WARN") {
		t.Errorf("stderr line should be logged at warn:\n%s", logs.String())
	}
}

func TestWatcherStderrNarrowMarker(t *testing.T) {
	var logs syncBuffer
	w, state, _ := newTestWatcher(t, &logs)

	runEvents(w, stderr("INFO:     Uvicorn running on http://127.0.0.1:8001 (Press CTRL+C to quit)"))

	if state.Source() != readiness.SourceStderr {
		t.Errorf("Source() = %q, want stderr", state.Source())
	}
}

func TestWatcherTerminatedDoesNotLatch(t *testing.T) {
	var logs syncBuffer
	w, state, rec := newTestWatcher(t, &logs)

	runEvents(w, stdout("loading model"), driver.Terminated{Code: 1})

	if state.Get() {
		t.Error("termination must not change readiness")
	}
	if rec.terminations() != 1 {
		t.Errorf("Terminated recorded %d times, want 1", rec.terminations())
	}
	if !strings.Contains(logs.String(), "level=ERROR") || !strings.Contains(logs.String(), "exit_code=1") {
		t.Errorf("termination should be logged at error with code:\n%s", logs.String())
	}
}

func TestWatcherReadinessSurvivesTermination(t *testing.T) {
	var logs syncBuffer
	w, state, _ := newTestWatcher(t, &logs)

	runEvents(w,
		stdout("Application startup complete."),
		driver.Terminated{Code: -1, Signal: 15},
		stdout("late line"),
	)

	if !state.Get() || state.Source() != readiness.SourceStdout {
		t.Errorf("state = %v/%q, want still ready from stdout", state.Get(), state.Source())
	}
}

func TestWatcherLogsEveryLine(t *testing.T) {
	var logs syncBuffer
	w, _, rec := newTestWatcher(t, &logs)

	runEvents(w, stdout("one"), stderr("two"), stdout("three\xff"))

	entries := w.ring.Entries()
	if len(entries) != 3 {
		t.Fatalf("ring has %d entries, want 3", len(entries))
	}
	if entries[1].Stream != "stderr" || entries[1].Text != "two" {
		t.Errorf("entries[1] = %+v", entries[1])
	}
	if entries[2].Text != "three\uFFFD" {
		t.Errorf("entries[2].Text = %q, want replacement character", entries[2].Text)
	}
	if rec.anomalyCount() != 1 {
		t.Errorf("anomalies = %d, want 1", rec.anomalyCount())
	}
	if rec.lines["stdout"] != 2 || rec.lines["stderr"] != 1 {
		t.Errorf("line counts = %v", rec.lines)
	}
}

func TestWatcherIgnoresUnknownEvents(t *testing.T) {
	var logs syncBuffer
	w, state, _ := newTestWatcher(t, &logs)

	runEvents(w, driver.Started{PID: 42}, driver.Line{Stream: driver.Stream(9), Data: []byte("on port 8001")})

	if state.Get() {
		t.Error("unknown stream must not latch readiness")
	}
}
