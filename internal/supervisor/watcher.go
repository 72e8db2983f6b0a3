package supervisor

import (
	"log/slog"

	"github.com/benaskins/sidecar/internal/audit"
	"github.com/benaskins/sidecar/internal/driver"
	"github.com/benaskins/sidecar/internal/logbuf"
	"github.com/benaskins/sidecar/internal/readiness"
)

// Watcher drains a backend's event stream: every line goes to the log and
// the diagnostic ring, and lines the classifier accepts latch readiness.
type Watcher struct {
	classifier readiness.Classifier
	state      *readiness.State
	decoder    *Decoder
	ring       *logbuf.Ring
	logger     *slog.Logger
	recorder   Recorder
	journal    *audit.Logger
	session    string

	// onReady runs once, on the goroutine that latched readiness.
	onReady func(src readiness.Source, marker string)
}

// Run consumes events until the channel is closed. Termination is logged
// but never changes readiness: a backend that was ready and then exited
// was still ready at that point.
func (w *Watcher) Run(events <-chan driver.Event) {
	for ev := range events {
		w.handle(ev)
	}
	w.logger.Info("backend output closed")
}

func (w *Watcher) handle(ev driver.Event) {
	switch ev := ev.(type) {
	case driver.Line:
		w.line(ev)
	case driver.Terminated:
		w.logger.Error("backend terminated", "exit_code", ev.Code, "signal", ev.Signal, "ready", w.state.Get())
		w.recorder.Terminated(ev.Code, ev.Signal)
		if w.journal != nil {
			code := ev.Code
			w.journal.Log(audit.Entry{
				Action:   audit.ActionTerminated,
				Session:  w.session,
				ExitCode: &code,
				Signal:   ev.Signal,
			})
		}
	case driver.Started:
		w.logger.Debug("backend started", "pid", ev.PID)
	default:
		// Unknown event kinds carry no readiness signal.
	}
}

func (w *Watcher) line(l driver.Line) {
	text, anomaly := w.decoder.Decode(l.Data)
	stream := l.Stream.String()

	if anomaly {
		w.recorder.DecodeAnomaly()
	}
	w.recorder.Line(stream)
	w.ring.Add(stream, text)
	if l.Stream == driver.Stderr {
		w.logger.Warn("backend output", "stream", stream, "line", text)
	} else {
		w.logger.Info("backend output", "stream", stream, "line", text)
	}

	marker, ok := w.classifier.Match(text, l.Stream)
	if !ok {
		return
	}
	src := readiness.SourceFor(l.Stream)
	if !w.state.SetTrue(src) {
		return
	}
	w.logger.Info("backend is ready", "stream", stream, "marker", marker)
	if w.onReady != nil {
		w.onReady(src, marker)
	}
}
