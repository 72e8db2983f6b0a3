package driver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	defaultMaxLine   = 64 * 1024
	defaultWaitDelay = 2 * time.Second
	eventBuffer      = 64
)

// NativeDriver manages a native (fork/exec) process and turns its two
// output pipes into an ordered-per-stream Event sequence.
type NativeDriver struct {
	command    string
	args       []string
	env        []string
	workingDir string
	maxLine    int
	waitDelay  time.Duration

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	startedAt time.Time
	exitCode  int
	exitErr   string
	events    chan Event
	done      chan struct{}
}

// NativeConfig holds configuration for a native process.
type NativeConfig struct {
	Command    string
	Args       []string
	Env        []string // nil inherits the host environment
	WorkingDir string
	MaxLine    int           // longer lines are split, 0 for default
	WaitDelay  time.Duration // how long to keep reading pipes after exit, 0 for default
}

// NewNative creates a new native process driver.
func NewNative(cfg NativeConfig) *NativeDriver {
	maxLine := cfg.MaxLine
	if maxLine <= 0 {
		maxLine = defaultMaxLine
	}
	waitDelay := cfg.WaitDelay
	if waitDelay <= 0 {
		waitDelay = defaultWaitDelay
	}

	return &NativeDriver{
		command:    cfg.Command,
		args:       cfg.Args,
		env:        cfg.Env,
		workingDir: cfg.WorkingDir,
		maxLine:    maxLine,
		waitDelay:  waitDelay,
		state:      StateStopped,
		events:     make(chan Event, eventBuffer),
	}
}

func (d *NativeDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateRunning || d.state == StateStarting {
		return fmt.Errorf("process already running")
	}
	if d.done != nil {
		return fmt.Errorf("driver already used")
	}

	d.cmd = exec.CommandContext(ctx, d.command, d.args...)
	d.cmd.Env = d.env
	if d.workingDir != "" {
		d.cmd.Dir = d.workingDir
	}

	// Set process group so we can kill the whole tree
	setProcessGroup(d.cmd)
	cmd := d.cmd
	d.cmd.Cancel = func() error {
		return killGroup(cmd.Process)
	}

	// Own the pipes rather than using StdoutPipe so Wait can run while the
	// readers are still draining.
	outR, outW, err := os.Pipe()
	if err != nil {
		d.state = StateFailed
		d.exitErr = err.Error()
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		d.state = StateFailed
		d.exitErr = err.Error()
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	d.cmd.Stdout = outW
	d.cmd.Stderr = errW

	d.state = StateStarting

	err = d.cmd.Start()
	// The child holds its own copies of the write ends.
	outW.Close()
	errW.Close()
	if err != nil {
		outR.Close()
		errR.Close()
		d.state = StateFailed
		d.exitErr = err.Error()
		return fmt.Errorf("starting process: %w", err)
	}

	d.state = StateRunning
	d.startedAt = time.Now()
	d.done = make(chan struct{})
	d.events <- Started{PID: d.cmd.Process.Pid}

	var readers sync.WaitGroup
	readers.Add(2)
	go d.pump(outR, Stdout, &readers)
	go d.pump(errR, Stderr, &readers)

	readersDone := make(chan struct{})
	go func() {
		readers.Wait()
		close(readersDone)
	}()

	// Wait for process exit in background
	go func() {
		err := cmd.Wait()
		term := termination(cmd.ProcessState)

		d.mu.Lock()
		if d.state == StateStopping {
			// Expected shutdown
			d.state = StateStopped
		} else {
			d.state = StateFailed
		}
		d.exitCode = term.Code
		if err != nil {
			d.exitErr = err.Error()
		}
		close(d.done)
		d.mu.Unlock()

		// A grandchild may still hold the pipes open.
		select {
		case <-readersDone:
		case <-time.After(d.waitDelay):
			outR.Close()
			errR.Close()
			<-readersDone
		}

		d.events <- term
		close(d.events)
	}()

	return nil
}

// pump reads one pipe line by line until EOF. Lines longer than maxLine
// are delivered in maxLine chunks rather than dropped.
func (d *NativeDriver) pump(r *os.File, stream Stream, wg *sync.WaitGroup) {
	defer wg.Done()
	defer r.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), d.maxLine)
	sc.Split(splitLines(d.maxLine))

	for sc.Scan() {
		d.events <- Line{Stream: stream, Data: bytes.Clone(sc.Bytes())}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		// Keep the child from blocking on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

// splitLines is bufio.ScanLines with a hard cap on token length.
func splitLines(max int) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			return i + 1, dropCR(data[:i]), nil
		}
		if len(data) >= max {
			return max, data[:max], nil
		}
		if atEOF {
			return len(data), dropCR(data), nil
		}
		return 0, nil, nil
	}
}

func dropCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

func (d *NativeDriver) Events() <-chan Event {
	return d.events
}

func (d *NativeDriver) Stop(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()

	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}

	d.state = StateStopping
	proc := d.cmd.Process
	done := d.done
	d.mu.Unlock()

	_ = terminateGroup(proc)

	// Wait for exit or timeout
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		// Force kill the process group
		_ = killGroup(proc)
		<-done
		return nil
	case <-ctx.Done():
		_ = killGroup(proc)
		<-done
		return ctx.Err()
	}
}

func (d *NativeDriver) Info() ProcessInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := ProcessInfo{
		State:     d.state,
		StartedAt: d.startedAt,
		ExitCode:  d.exitCode,
		Error:     d.exitErr,
	}

	if d.cmd != nil && d.cmd.Process != nil {
		info.PID = d.cmd.Process.Pid
	}

	return info
}

func (d *NativeDriver) Wait() (int, error) {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()

	if done == nil {
		return -1, fmt.Errorf("process not started")
	}
	<-done

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exitCode, nil
}
