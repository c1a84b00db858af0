// Package cli implements the switchyard command line.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/switchyard-ai/switchyard/internal/client"
	"github.com/switchyard-ai/switchyard/internal/config"
)

var (
	cfgFile    string
	cfg        *config.Config
	jsonOutput bool
	daemonURL  string

	// Build information, set via ldflags.
	Version = "dev"
	Commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "switchyard",
	Short: "Coordinate AI-agent tmux sessions: routing, identity, liveness",
	Long: `Switchyard coordinates independently running AI-agent terminal sessions
and externally registered guest terminals in a project workspace.

Quick start:
  switchyard serve                            # run the coordinator daemon
  switchyard status                           # list active sessions and guests
  switchyard send --from <handle> --to Beta "please review the diff"
  switchyard dashboard                        # live TUI`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if daemonURL == "" {
			daemonURL = fmt.Sprintf("http://%s:%d", cfg.Serve.Host, cfg.Serve.Port)
		}
		level := slog.LevelInfo
		if os.Getenv("SWITCHYARD_DEBUG") != "" {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/switchyard/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&daemonURL, "daemon", "", "daemon base URL (default from config)")
}

func apiClient() *client.Client {
	return client.New(daemonURL)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
