// Package health probes the backend directly, as an alternative readiness
// source to log-marker matching.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/benaskins/sidecar/internal/readiness"
)

const (
	defaultInterval = 250 * time.Millisecond
	defaultTimeout  = time.Second
)

// Config holds probe configuration.
type Config struct {
	Type     string        // "http" | "tcp"
	Path     string        // http only
	Port     int           // http and tcp
	Interval time.Duration // time between attempts
	Timeout  time.Duration // max time per attempt
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Type == "http" && c.Path == "" {
		c.Path = "/health"
	}
	return c
}

// Check runs one probe and returns nil if the backend answered.
func Check(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	switch cfg.Type {
	case "http":
		return checkHTTP(ctx, cfg)
	case "tcp":
		return checkTCP(ctx, cfg)
	default:
		return fmt.Errorf("unknown health check type: %s", cfg.Type)
	}
}

// Poll probes until the backend answers, state latches from another
// source, or ctx is done. A successful probe latches state with
// readiness.SourceProbe. It returns true if this call made the transition.
func Poll(ctx context.Context, cfg Config, state *readiness.State, logger *slog.Logger) bool {
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-state.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	limiter := rate.NewLimiter(rate.Every(cfg.Interval), 1)
	attempts := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			return false
		}
		attempts++

		err := Check(ctx, cfg)
		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			logger.Debug("health probe failed", "error", err, "attempt", attempts)
			continue
		}

		if !state.SetTrue(readiness.SourceProbe) {
			return false
		}
		logger.Info("backend is ready (health probe)", "type", cfg.Type, "attempts", attempts)
		return true
	}
}

func checkHTTP(ctx context.Context, cfg Config) error {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", cfg.Port, cfg.Path)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	client := &http.Client{Timeout: cfg.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
	}
	return nil
}

func checkTCP(ctx context.Context, cfg Config) error {
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp connect failed: %w", err)
	}
	conn.Close()
	return nil
}
