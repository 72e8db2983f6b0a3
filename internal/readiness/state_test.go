package readiness

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStateStartsNotReady(t *testing.T) {
	s := NewState()
	if s.Get() {
		t.Error("new state should not be ready")
	}
	if s.Source() != SourceNone {
		t.Errorf("Source() = %q, want none", s.Source())
	}
	select {
	case <-s.Done():
		t.Error("Done() closed before SetTrue")
	default:
	}
}

func TestStateSetTrueIsMonotonic(t *testing.T) {
	s := NewState()
	if !s.SetTrue(SourceStdout) {
		t.Fatal("first SetTrue should report the transition")
	}
	if s.SetTrue(SourceTimeout) {
		t.Error("second SetTrue should be a no-op")
	}
	if !s.Get() {
		t.Error("state should stay ready")
	}
	if s.Source() != SourceStdout {
		t.Errorf("Source() = %q, want first source %q", s.Source(), SourceStdout)
	}
}

func TestStateConcurrentSetTrue(t *testing.T) {
	for round := 0; round < 50; round++ {
		s := NewState()
		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for _, src := range []Source{SourceStdout, SourceStderr, SourceTimeout, SourceProbe} {
			wg.Add(1)
			go func(src Source) {
				defer wg.Done()
				<-start
				if s.SetTrue(src) {
					wins.Add(1)
				}
				_ = s.Get()
			}(src)
		}
		close(start)
		wg.Wait()

		if wins.Load() != 1 {
			t.Fatalf("round %d: %d callers won the transition, want 1", round, wins.Load())
		}
		if !s.Get() {
			t.Fatalf("round %d: state not ready", round)
		}
		if s.Source() == SourceNone {
			t.Fatalf("round %d: source not recorded", round)
		}
	}
}

func TestStateWait(t *testing.T) {
	s := NewState()
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.SetTrue(SourceProbe)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestStateWaitCancelled(t *testing.T) {
	s := NewState()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("Wait error = %v, want deadline exceeded", err)
	}
	if s.Get() {
		t.Error("Wait must not change the state")
	}
}

func TestStateWaitReadyWinsOverExpiredContext(t *testing.T) {
	s := NewState()
	s.SetTrue(SourceStdout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 1000; i++ {
		if err := s.Wait(ctx); err != nil {
			t.Fatalf("Wait on a ready state returned %v on iteration %d", err, i)
		}
	}
}

func TestSourceVerified(t *testing.T) {
	cases := map[Source]bool{
		SourceNone:    false,
		SourceTimeout: false,
		SourceStdout:  true,
		SourceStderr:  true,
		SourceProbe:   true,
	}
	for src, want := range cases {
		if got := src.Verified(); got != want {
			t.Errorf("%q.Verified() = %v, want %v", src, got, want)
		}
	}
}
