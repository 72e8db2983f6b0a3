package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/benaskins/sidecar/internal/config"
)

// sidecarHome returns the path to the sidecar home directory (~/.sidecar).
func sidecarHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sidecar"), nil
}

// fillPaths sets unset file locations to their defaults under ~/.sidecar.
// Without a home directory everything goes under the temp dir. The default
// socket is keyed by port, like the lock, so sidecars on different ports
// never share one.
func fillPaths(cfg *config.Config) {
	dir, err := sidecarHome()
	if err != nil {
		dir = filepath.Join(os.TempDir(), "sidecar")
	}
	if cfg.APISocket == "" {
		cfg.APISocket = filepath.Join(dir, fmt.Sprintf("sidecar-%d.sock", cfg.Port))
	}
	if cfg.Journal == "" {
		cfg.Journal = filepath.Join(dir, "journal.jsonl")
	}
	if cfg.LockDir == "" {
		cfg.LockDir = filepath.Join(dir, "locks")
	}
}
