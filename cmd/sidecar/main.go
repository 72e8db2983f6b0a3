package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benaskins/sidecar/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "sidecar",
	Short: "Launch a backend sidecar and report when it is ready",
	Long: "Launch the bundled backend on its dedicated port, watch its output for " +
		"startup markers, and expose readiness over a local API.",
	SilenceUsage: true,
}

var (
	configPath string
	jsonOut    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print JSON instead of text")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
