package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/benaskins/sidecar/internal/api"
	"github.com/benaskins/sidecar/internal/audit"
	"github.com/benaskins/sidecar/internal/logging"
	"github.com/benaskins/sidecar/internal/metrics"
	"github.com/benaskins/sidecar/internal/port"
	"github.com/benaskins/sidecar/internal/supervisor"
)

const (
	stopGrace   = 10 * time.Second
	stopTimeout = 30 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run [-- backend-args...]",
	Short: "Launch the backend and supervise it until interrupted",
	Long: "Check the dedicated port, launch the backend, and serve its readiness " +
		"on the status API. Exits when the backend exits or on SIGINT/SIGTERM.",
	RunE: runSidecar,
}

var noDocker bool

func init() {
	addBackendFlags(runCmd)
	runCmd.Flags().BoolVar(&noDocker, "no-docker", false, "Do not ask Docker who holds a busy port")
	rootCmd.AddCommand(runCmd)
}

func runSidecar(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Format, cfg.Log.Level, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	backendArgs := cfg.BackendArgs()
	slog.Info("sidecar starting", "command", cfg.Command, "args", backendArgs, "port", cfg.Port)

	lock, err := port.Claim(cfg.LockDir, cfg.Port)
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	finder, closeFinder := dockerFinder()
	err = port.Preflight(ctx, cfg.Port, finder)
	closeFinder()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Journal), 0700); err != nil {
		return fmt.Errorf("creating journal dir: %w", err)
	}
	journal, err := audit.NewLogger(cfg.Journal)
	if err != nil {
		return err
	}
	defer journal.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h, err := supervisor.Start(ctx, supervisor.Config{
		Command:      cfg.Command,
		Args:         backendArgs,
		Env:          cfg.BackendEnv(),
		WorkingDir:   cfg.WorkingDir,
		ReadyTimeout: cfg.ReadyTimeout.Duration,
		Markers:      cfg.Markers,
		Encoding:     cfg.Encoding,
		Probe:        cfg.ProbeConfig(),
		Logger:       logger,
		Recorder:     metrics.New(reg),
		Journal:      journal,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.APISocket), 0755); err != nil {
		h.Stop(context.Background(), stopGrace)
		return fmt.Errorf("creating socket dir: %w", err)
	}
	if err := clearStaleSocket(cfg.APISocket); err != nil {
		h.Stop(context.Background(), stopGrace)
		return err
	}

	srv := api.NewServer(h, reg)

	// Start API in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenUnix(cfg.APISocket)
	}()

	// Optionally serve metrics over TCP
	if cfg.MetricsAddr != "" {
		go func() {
			if err := srv.ListenTCP(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("TCP API error", "error", err)
			}
		}()
	}

	go func() {
		select {
		case <-h.Ready():
			slog.Info("sidecar ready", "source", h.Source(), "session", h.Session())
		case <-h.Done():
		}
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server error", "error", err)
			runErr = fmt.Errorf("status API: %w", err)
		}
	case <-h.Done():
		info := h.Info()
		slog.Error("backend exited, not relaunching", "exit_code", info.ExitCode)
		runErr = fmt.Errorf("backend exited with code %d", info.ExitCode)
	}

	// Graceful shutdown
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := h.Stop(stopCtx, stopGrace); err != nil {
		slog.Error("stopping backend", "error", err)
	}
	cancel()
	srv.Shutdown(stopCtx)
	os.Remove(cfg.APISocket)

	slog.Info("sidecar stopped")
	return runErr
}

// clearStaleSocket removes a socket left behind by a sidecar that did not
// shut down cleanly. A socket that still accepts connections belongs to a
// running sidecar and is left alone.
func clearStaleSocket(path string) error {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("API socket %s is in use by another sidecar", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	return nil
}

// dockerFinder returns a Docker lookup for naming whoever holds the port,
// or nil when disabled or unavailable.
func dockerFinder() (port.Finder, func()) {
	if noDocker {
		return nil, func() {}
	}
	d, err := port.NewDocker()
	if err != nil {
		slog.Debug("docker lookup unavailable", "error", err)
		return nil, func() {}
	}
	return d, func() { d.Close() }
}
