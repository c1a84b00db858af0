package cli

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/switchyard-ai/switchyard/internal/tui/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live view of sessions and guests",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			return fmt.Errorf("dashboard requires an interactive terminal; use 'switchyard status --json' instead")
		}
		c := apiClient()
		if err := c.Health(cmd.Context()); err != nil {
			return err
		}
		return dashboard.Run(c)
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
