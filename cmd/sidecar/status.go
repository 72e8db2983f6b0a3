package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/sidecar/internal/config"
	"github.com/benaskins/sidecar/internal/logbuf"
	"github.com/benaskins/sidecar/internal/supervisor"
)

func apiClient(socketPath string) *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}
}

func apiGet(socketPath, path string, v any) error {
	resp, err := apiClient(socketPath).Get("http://sidecar" + path)
	if err != nil {
		return fmt.Errorf("connecting to sidecar: %w (is sidecar run active?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

// socketPath resolves the API socket from the config file, the environment
// and the --port and --api-socket flags.
func socketPath(cmd *cobra.Command) (string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("api-socket") {
		cfg.APISocket, _ = cmd.Flags().GetString("api-socket")
	}
	fillPaths(cfg)
	return cfg.APISocket, nil
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the backend's readiness and process state",
	RunE: func(cmd *cobra.Command, args []string) error {
		sock, err := socketPath(cmd)
		if err != nil {
			return err
		}

		var st supervisor.Status
		if err := apiGet(sock, "/v1/status", &st); err != nil {
			return err
		}
		if jsonOut {
			return printJSON(st)
		}

		pid := "-"
		if st.PID > 0 {
			pid = strconv.Itoa(st.PID)
		}
		fmt.Println(field("command", st.Command))
		fmt.Println(field("session", mutedStyle.Render(st.Session)))
		fmt.Println(field("pid", pid))
		fmt.Println(field("state", string(st.State)))
		fmt.Println(field("readiness", readyLabel(st.Ready, st.Source)))
		if st.Marker != "" {
			fmt.Println(field("marker", fmt.Sprintf("%q", st.Marker)))
		}
		if st.ReadyAfter != "" {
			fmt.Println(field("ready after", st.ReadyAfter))
		}
		if !st.StartedAt.IsZero() {
			fmt.Println(field("uptime", time.Since(st.StartedAt).Round(time.Second).String()))
		}
		fmt.Println(field("lines", strconv.FormatInt(st.Lines, 10)))
		if st.Error != "" {
			fmt.Println(field("last error", failStyle.Render(st.Error)))
		}
		return nil
	},
}

var logLines int

// logs command
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the backend's most recent output",
	RunE: func(cmd *cobra.Command, args []string) error {
		sock, err := socketPath(cmd)
		if err != nil {
			return err
		}

		var entries []logbuf.Entry
		if err := apiGet(sock, fmt.Sprintf("/v1/logs?n=%d", logLines), &entries); err != nil {
			return err
		}
		if jsonOut {
			return printJSON(entries)
		}

		for _, e := range entries {
			stream := mutedStyle.Render(e.Stream)
			if e.Stream == "stderr" {
				stream = warnStyle.Render(e.Stream)
			}
			fmt.Printf("%s %s %s\n", mutedStyle.Render(e.Time.Format("15:04:05.000")), stream, e.Text)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, logsCmd} {
		c.Flags().Int("port", config.DefaultPort, "Port of the backend whose sidecar to query")
		c.Flags().String("api-socket", "", "Unix socket of the status API")
	}
	logsCmd.Flags().IntVarP(&logLines, "lines", "n", 50, "Number of lines to show")
	rootCmd.AddCommand(statusCmd, logsCmd)
}
