package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benaskins/sidecar/internal/config"
	"github.com/benaskins/sidecar/internal/driver"
	"github.com/benaskins/sidecar/internal/port"
)

var checkCmd = &cobra.Command{
	Use:   "check [-- backend-args...]",
	Short: "Validate the configuration and the backend's port",
	Long: "Load and validate the config, resolve the backend executable, and check " +
		"that the dedicated port is free. Nothing is launched.",
	RunE: runCheck,
}

func init() {
	addBackendFlags(checkCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		if jsonOut {
			printJSON(configSummary{Config: configPath, Error: err.Error()})
		}
		return err
	}

	sum := summarize(cfg)
	var problems []string
	if path, err := driver.Resolve(cfg.Command); err != nil {
		problems = append(problems, fmt.Sprintf("command: %v", err))
	} else {
		sum.Resolved = path
	}

	finder, closeFinder := dockerFinder()
	err = port.Preflight(cmd.Context(), cfg.Port, finder)
	closeFinder()
	if err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		sum.Valid = false
		sum.Error = problems[0]
	}

	if jsonOut {
		if err := printJSON(sum); err != nil {
			return err
		}
	} else {
		fmt.Println(field("config", sum.Config))
		fmt.Println(field("command", sum.Command))
		if sum.Resolved != "" {
			fmt.Println(field("resolved", sum.Resolved))
		}
		fmt.Println(field("args", fmt.Sprintf("%q", sum.Args)))
		fmt.Println(field("port", fmt.Sprintf("%d", sum.Port)))
		fmt.Println(field("ready timeout", sum.ReadyTimeout))
		fmt.Println(field("probe", sum.Probe))
		fmt.Println(field("api socket", mutedStyle.Render(sum.Socket)))
		fmt.Println(field("journal", mutedStyle.Render(sum.Journal)))
		fmt.Println()
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, failStyle.Render("FAIL  ")+p)
		}
		if len(problems) == 0 {
			fmt.Println(okStyle.Render("OK    ") + "ready to launch")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%d check(s) failed", len(problems))
	}
	return nil
}

// configSummary is the resolved configuration shown by check.
type configSummary struct {
	Config       string   `json:"config"`
	Command      string   `json:"command"`
	Resolved     string   `json:"resolved,omitempty"`
	Args         []string `json:"args"`
	Port         int      `json:"port"`
	ReadyTimeout string   `json:"ready_timeout"`
	Probe        string   `json:"probe"`
	Socket       string   `json:"api_socket"`
	Journal      string   `json:"journal"`
	Valid        bool     `json:"valid"`
	Error        string   `json:"error,omitempty"`
}

func summarize(cfg *config.Config) configSummary {
	probe := "off"
	if p := cfg.ProbeConfig(); p != nil {
		probe = p.Type
		if p.Type == "http" {
			path := p.Path
			if path == "" {
				path = "/health"
			}
			probe += " " + path
		}
	}
	return configSummary{
		Config:       configPath,
		Command:      cfg.Command,
		Args:         cfg.BackendArgs(),
		Port:         cfg.Port,
		ReadyTimeout: cfg.ReadyTimeout.Duration.String(),
		Probe:        probe,
		Socket:       cfg.APISocket,
		Journal:      cfg.Journal,
		Valid:        true,
	}
}
