package driver

import (
	"context"
	"fmt"
	"time"
)

// State represents the lifecycle state of a managed process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFailed   State = "failed"
)

// ProcessInfo holds runtime information about a managed process.
type ProcessInfo struct {
	PID       int
	State     State
	StartedAt time.Time
	ExitCode  int
	Error     string
}

// Stream identifies which output pipe a line came from.
type Stream int

const (
	Stdout Stream = iota + 1
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// Event is one item of a process's output sequence: a Line, a Terminated
// notice, or a Started notice. Consumers must ignore kinds they do not
// recognise.
type Event interface {
	event()
}

// Started is sent once, before any output.
type Started struct {
	PID int
}

// Line is one line of output with the trailing newline (and any \r before
// it) removed. Data is raw bytes; it is not guaranteed to be valid text.
type Line struct {
	Stream Stream
	Data   []byte
}

// Terminated is sent once after the process exits and both pipes are
// drained. Code is -1 when the process was killed by a signal or the exit
// status is unknown. Signal is 0 when the process was not signalled.
type Terminated struct {
	Code   int
	Signal int
}

func (Started) event()    {}
func (Line) event()       {}
func (Terminated) event() {}

func (t Terminated) String() string {
	if t.Signal != 0 {
		return fmt.Sprintf("process terminated by signal %d", t.Signal)
	}
	return fmt.Sprintf("process exited with code %d", t.Code)
}

// Driver is the child-process handle the supervisor owns.
type Driver interface {
	// Start launches the process and returns immediately. Output arrives on
	// Events until the process exits.
	Start(ctx context.Context) error

	// Events returns the output sequence. It is closed after Terminated.
	Events() <-chan Event

	// Stop sends a graceful shutdown signal, waits up to timeout,
	// then force-kills if still running.
	Stop(ctx context.Context, timeout time.Duration) error

	// Info returns current process state and metadata.
	Info() ProcessInfo

	// Wait blocks until the process exits and returns the exit code.
	Wait() (int, error)
}
