package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/sidecar/internal/config"
)

// addBackendFlags registers the flags that override config file values.
func addBackendFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("command", "", "Backend executable (bare names are looked up next to sidecar, then in PATH)")
	f.Int("port", 0, "Dedicated backend port")
	f.Duration("ready-timeout", 0, "Declare the backend ready after this long regardless of output")
	f.String("encoding", "", "Backend output encoding (WHATWG label, default utf-8)")
	f.String("probe", "", "Health probe type: http or tcp (default off)")
	f.String("probe-path", "", "HTTP probe path (default /health)")
	f.String("log-format", "", "Log format: auto, json or text")
	f.String("log-level", "", "Log level: debug, info, warn or error")
	f.String("api-socket", "", "Unix socket for the status API")
	f.String("metrics-addr", "", "Optional TCP address serving the API and /metrics (e.g. 127.0.0.1:9464)")
}

// loadConfig reads the config file and environment, then applies any
// flags the user set. Backend args after "--" replace the configured args.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("command", &cfg.Command)
	str("encoding", &cfg.Encoding)
	str("probe", &cfg.Probe.Type)
	str("probe-path", &cfg.Probe.Path)
	str("log-format", &cfg.Log.Format)
	str("log-level", &cfg.Log.Level)
	str("api-socket", &cfg.APISocket)
	str("metrics-addr", &cfg.MetricsAddr)
	if f.Changed("port") {
		cfg.Port, _ = f.GetInt("port")
	}
	if f.Changed("ready-timeout") {
		var d time.Duration
		d, _ = f.GetDuration("ready-timeout")
		cfg.ReadyTimeout = config.Duration{Duration: d}
	}
	if len(args) > 0 {
		cfg.Args = args
	}

	fillPaths(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
