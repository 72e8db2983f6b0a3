package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	neturl "net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benaskins/sidecar/internal/readiness"
)

func FuzzHealthCheckPath(f *testing.F) {
	f.Add("/health")
	f.Add("/")
	f.Add("/a/b/c?q=1")
	f.Add("/@redirect")
	f.Add("")
	f.Fuzz(func(t *testing.T, path string) {
		// Construct URL the same way checkHTTP does
		url := fmt.Sprintf("http://127.0.0.1:%d%s", 8001, path)
		parsed, err := neturl.Parse(url)
		if err != nil {
			return
		}
		// A path not starting with / can alter the URL authority; config
		// validation rejects those, so only well-formed paths are checked.
		if len(path) > 0 && path[0] == '/' {
			if parsed.Hostname() != "127.0.0.1" {
				t.Errorf("health URL host changed to %q for path %q", parsed.Hostname(), path)
			}
		}
	})
}

func testLogger() *slog.Logger {
	return slog.Default().With("test", true)
}

// serveHealth starts an HTTP server whose /health answers with status().
func serveHealth(t *testing.T, status func() int) int {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status())
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(listener)
	t.Cleanup(func() { srv.Close() })
	return listener.Addr().(*net.TCPAddr).Port
}

// closedPort returns a port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestCheckHTTP(t *testing.T) {
	port := serveHealth(t, func() int { return http.StatusOK })

	if err := Check(context.Background(), Config{Type: "http", Port: port}); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
}

func TestCheckHTTPUnhealthy(t *testing.T) {
	port := serveHealth(t, func() int { return http.StatusInternalServerError })

	if err := Check(context.Background(), Config{Type: "http", Path: "/health", Port: port}); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestCheckTCP(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	if err := Check(context.Background(), Config{Type: "tcp", Port: port, Timeout: 2 * time.Second}); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
}

func TestCheckTCPUnhealthy(t *testing.T) {
	cfg := Config{Type: "tcp", Port: closedPort(t), Timeout: 100 * time.Millisecond}
	if err := Check(context.Background(), cfg); err == nil {
		t.Error("expected error for closed port")
	}
}

func TestCheckUnknownType(t *testing.T) {
	for _, typ := range []string{"grpc", "exec", ""} {
		if err := Check(context.Background(), Config{Type: typ, Port: 1}); err == nil {
			t.Errorf("expected error for probe type %q", typ)
		}
	}
}

func TestPollLatchesWhenHealthy(t *testing.T) {
	var healthy atomic.Bool
	port := serveHealth(t, func() int {
		if healthy.Load() {
			return http.StatusOK
		}
		return http.StatusServiceUnavailable
	})

	state := readiness.NewState()
	cfg := Config{Type: "http", Port: port, Interval: 20 * time.Millisecond, Timeout: time.Second}

	result := make(chan bool, 1)
	go func() {
		result <- Poll(context.Background(), cfg, state, testLogger())
	}()

	time.Sleep(100 * time.Millisecond)
	if state.Get() {
		t.Fatal("state latched before the backend was healthy")
	}
	healthy.Store(true)

	select {
	case won := <-result:
		if !won {
			t.Error("expected Poll to perform the transition")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Poll did not return after backend became healthy")
	}
	if state.Source() != readiness.SourceProbe {
		t.Errorf("Source() = %q, want probe", state.Source())
	}
}

func TestPollStopsWhenStateLatchesElsewhere(t *testing.T) {
	state := readiness.NewState()
	cfg := Config{Type: "tcp", Port: closedPort(t), Interval: 20 * time.Millisecond, Timeout: 50 * time.Millisecond}

	result := make(chan bool, 1)
	go func() {
		result <- Poll(context.Background(), cfg, state, testLogger())
	}()

	time.Sleep(60 * time.Millisecond)
	state.SetTrue(readiness.SourceStdout)

	select {
	case won := <-result:
		if won {
			t.Error("Poll should not report the transition")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Poll kept running after the state latched")
	}
	if state.Source() != readiness.SourceStdout {
		t.Errorf("Source() = %q, want stdout", state.Source())
	}
}

func TestPollCancelled(t *testing.T) {
	state := readiness.NewState()
	cfg := Config{Type: "tcp", Port: closedPort(t), Interval: 20 * time.Millisecond, Timeout: 50 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if Poll(ctx, cfg, state, testLogger()) {
		t.Error("cancelled Poll should not latch")
	}
	if state.Get() {
		t.Error("state should be untouched")
	}
}
