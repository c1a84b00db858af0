package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/switchyard-ai/switchyard/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator daemon",
	Long: `Runs the switchyard daemon: guest liveness monitoring, session activity
tracking, message routing and the HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(cfg)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return d.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
