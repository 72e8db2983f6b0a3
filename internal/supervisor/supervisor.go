// Package supervisor launches a backend process and tells its caller when
// the backend can accept work.
//
// A session owns one child process, a Watcher draining its output, a
// timeout guard and an optional health probe. All of them race to latch a
// single readiness.State; whichever wins records how readiness was decided.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/benaskins/sidecar/internal/audit"
	"github.com/benaskins/sidecar/internal/driver"
	"github.com/benaskins/sidecar/internal/health"
	"github.com/benaskins/sidecar/internal/logbuf"
	"github.com/benaskins/sidecar/internal/readiness"
)

const (
	defaultLogLines = 200
	tracerName      = "github.com/benaskins/sidecar/internal/supervisor"
)

// Recorder receives session metrics. *metrics.Recorder implements it.
type Recorder interface {
	Spawned()
	SpawnFailed()
	Line(stream string)
	DecodeAnomaly()
	Ready(source string, after time.Duration)
	Terminated(code, signal int)
}

type nopRecorder struct{}

func (nopRecorder) Spawned()                    {}
func (nopRecorder) SpawnFailed()                {}
func (nopRecorder) Line(string)                 {}
func (nopRecorder) DecodeAnomaly()              {}
func (nopRecorder) Ready(string, time.Duration) {}
func (nopRecorder) Terminated(int, int)         {}

// Config describes one supervision session.
type Config struct {
	Command    string
	Args       []string // must carry the backend's dedicated port
	Env        []string // nil inherits the host environment
	WorkingDir string

	ReadyTimeout time.Duration     // 0 means readiness.DefaultTimeout
	Markers      readiness.Markers // empty lists use the defaults
	Encoding     string            // output encoding, "" for UTF-8
	Probe        *health.Config    // nil disables the health probe
	LogLines     int               // lines kept for Handle.Logs, 0 for default

	Logger   *slog.Logger  // nil uses slog.Default
	Recorder Recorder      // optional
	Journal  *audit.Logger // optional

	// Driver overrides the native process driver. Command is then only
	// used for logging.
	Driver driver.Driver
}

// SpawnError reports that the backend process could not be created.
// Supervision does not start and no readiness state exists.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Handle is a running supervision session.
type Handle struct {
	session   string
	command   string
	driver    driver.Driver
	state     *readiness.State
	ring      *logbuf.Ring
	logger    *slog.Logger
	recorder  Recorder
	journal   *audit.Logger
	startedAt time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	readySpan trace.Span
	spanOnce  sync.Once

	mu         sync.Mutex
	readyAfter time.Duration
	marker     string
	stopped    bool
}

// Start spawns the backend and begins watching it. It returns once the
// process exists; readiness is observed through the Handle. ctx bounds the
// whole session: cancelling it kills the backend.
func Start(ctx context.Context, cfg Config) (*Handle, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	timeout := cfg.ReadyTimeout
	if timeout <= 0 {
		timeout = readiness.DefaultTimeout
	}
	lines := cfg.LogLines
	if lines <= 0 {
		lines = defaultLogLines
	}

	decoder, err := NewDecoder(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	session := uuid.NewString()
	logger = logger.With("component", "supervisor", "session", session)
	tracer := otel.Tracer(tracerName)

	ctx, span := tracer.Start(ctx, "sidecar.spawn", trace.WithAttributes(
		attribute.String("sidecar.command", cfg.Command),
		attribute.StringSlice("sidecar.args", cfg.Args),
		attribute.String("sidecar.session", session),
	))
	defer span.End()

	fail := func(err error) (*Handle, error) {
		recorder.SpawnFailed()
		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn failed")
		logger.Error("failed to spawn backend", "command", cfg.Command, "error", err)
		if cfg.Journal != nil {
			cfg.Journal.Log(audit.Entry{
				Action:  audit.ActionSpawnFailed,
				Session: session,
				Command: cfg.Command,
				Error:   err.Error(),
			})
		}
		return nil, &SpawnError{Command: cfg.Command, Err: err}
	}

	d := cfg.Driver
	if d == nil {
		path, err := driver.Resolve(cfg.Command)
		if err != nil {
			return fail(err)
		}
		d = driver.NewNative(driver.NativeConfig{
			Command:    path,
			Args:       cfg.Args,
			Env:        cfg.Env,
			WorkingDir: cfg.WorkingDir,
		})
	}

	sessCtx, cancel := context.WithCancel(ctx)
	if err := d.Start(sessCtx); err != nil {
		cancel()
		return fail(err)
	}

	info := d.Info()
	logger = logger.With("pid", info.PID)
	span.SetAttributes(attribute.Int("sidecar.pid", info.PID))
	recorder.Spawned()
	logger.Info("backend spawned", "command", cfg.Command, "args", cfg.Args, "ready_timeout", timeout)
	if cfg.Journal != nil {
		cfg.Journal.Log(audit.Entry{
			Action:  audit.ActionSpawned,
			Session: session,
			Command: cfg.Command,
			PID:     info.PID,
		})
	}

	h := &Handle{
		session:   session,
		command:   cfg.Command,
		driver:    d,
		state:     readiness.NewState(),
		ring:      logbuf.New(lines),
		logger:    logger,
		recorder:  recorder,
		journal:   cfg.Journal,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	_, h.readySpan = tracer.Start(sessCtx, "sidecar.readiness")

	w := &Watcher{
		classifier: readiness.NewClassifier(cfg.Markers),
		state:      h.state,
		decoder:    decoder,
		ring:       h.ring,
		logger:     logger.With("component", "watcher"),
		recorder:   recorder,
		journal:    cfg.Journal,
		session:    session,
		onReady:    h.latched,
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		w.Run(d.Events())
	}()
	go func() {
		defer h.wg.Done()
		if readiness.Arm(sessCtx, timeout, h.state, logger.With("component", "guard")) {
			h.latched(readiness.SourceTimeout, "")
		}
	}()

	if cfg.Probe != nil {
		probe := *cfg.Probe
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			if health.Poll(sessCtx, probe, h.state, logger.With("component", "probe")) {
				h.latched(readiness.SourceProbe, "")
			}
		}()
	}

	go func() {
		h.wg.Wait()
		h.endReadySpan()
		close(h.done)
	}()

	return h, nil
}

// latched runs once, on whichever goroutine won the readiness race.
func (h *Handle) latched(src readiness.Source, marker string) {
	after := time.Since(h.startedAt)

	h.mu.Lock()
	h.readyAfter = after
	h.marker = marker
	h.mu.Unlock()

	h.recorder.Ready(string(src), after)
	if h.journal != nil {
		h.journal.Log(audit.Entry{
			Action:  audit.ActionReady,
			Session: h.session,
			PID:     h.driver.Info().PID,
			Source:  string(src),
			Marker:  marker,
		})
	}
	h.readySpan.SetAttributes(
		attribute.String("sidecar.ready.source", string(src)),
		attribute.Bool("sidecar.ready.verified", src.Verified()),
	)
	h.endReadySpan()
}

func (h *Handle) endReadySpan() {
	h.spanOnce.Do(func() {
		if !h.state.Get() {
			h.readySpan.SetStatus(codes.Error, "session ended before readiness")
		}
		h.readySpan.End()
	})
}

// Session returns the session id.
func (h *Handle) Session() string {
	return h.session
}

// Command returns the command the session was started with.
func (h *Handle) Command() string {
	return h.command
}

// IsReady is a non-blocking readiness snapshot.
func (h *Handle) IsReady() bool {
	return h.state.Get()
}

// Ready returns a channel closed once the backend is considered ready.
func (h *Handle) Ready() <-chan struct{} {
	return h.state.Done()
}

// WaitReady blocks until the backend is considered ready or timeout
// elapses. The internal readiness timeout is independent of this one.
func (h *Handle) WaitReady(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.state.Wait(ctx) == nil
}

// Source reports how readiness was decided, or readiness.SourceNone.
func (h *Handle) Source() readiness.Source {
	return h.state.Source()
}

// Info returns the process state.
func (h *Handle) Info() driver.ProcessInfo {
	return h.driver.Info()
}

// Logs returns up to n of the most recent output lines, oldest first.
// n <= 0 returns everything retained.
func (h *Handle) Logs(n int) []logbuf.Entry {
	if n <= 0 {
		return h.ring.Entries()
	}
	return h.ring.Last(n)
}

// Status is a point-in-time summary of the session.
type Status struct {
	Session    string       `json:"session"`
	Command    string       `json:"command"`
	PID        int          `json:"pid,omitempty"`
	State      driver.State `json:"state"`
	StartedAt  time.Time    `json:"started_at"`
	Ready      bool         `json:"ready"`
	Source     string       `json:"source,omitempty"`
	Verified   bool         `json:"verified"`
	Marker     string       `json:"marker,omitempty"`
	ReadyAfter string       `json:"ready_after,omitempty"`
	ExitCode   int          `json:"exit_code"`
	Error      string       `json:"error,omitempty"`
	Lines      int64        `json:"lines"`
}

// Status returns a snapshot of the session.
func (h *Handle) Status() Status {
	info := h.driver.Info()
	src := h.state.Source()

	st := Status{
		Session:   h.session,
		Command:   h.command,
		PID:       info.PID,
		State:     info.State,
		StartedAt: h.startedAt,
		Ready:     h.state.Get(),
		Source:    string(src),
		Verified:  src.Verified(),
		ExitCode:  info.ExitCode,
		Error:     info.Error,
		Lines:     h.ring.Total(),
	}

	h.mu.Lock()
	st.Marker = h.marker
	if st.Ready && h.readyAfter > 0 {
		st.ReadyAfter = h.readyAfter.Round(time.Millisecond).String()
	}
	h.mu.Unlock()
	return st
}

// Done is closed once every background task of the session has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stop terminates the backend's process group, escalating to SIGKILL after
// grace, and waits for the session's background tasks. It is safe to call
// more than once.
func (h *Handle) Stop(ctx context.Context, grace time.Duration) error {
	h.mu.Lock()
	first := !h.stopped
	h.stopped = true
	h.mu.Unlock()

	if first {
		h.logger.Info("stopping backend", "grace", grace)
	}

	var errs []error
	if err := h.driver.Stop(ctx, grace); err != nil {
		errs = append(errs, fmt.Errorf("stopping backend: %w", err))
	}
	h.cancel()

	select {
	case <-h.done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for session tasks: %w", ctx.Err()))
	}

	if first && h.journal != nil {
		info := h.driver.Info()
		code := info.ExitCode
		h.journal.Log(audit.Entry{
			Action:   audit.ActionStopped,
			Session:  h.session,
			PID:      info.PID,
			ExitCode: &code,
		})
	}
	return errors.Join(errs...)
}
