package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	guestProjectID   string
	guestDescription string
)

var guestCmd = &cobra.Command{
	Use:   "guest",
	Short: "Manage guest terminals",
}

var guestRegisterCmd = &cobra.Command{
	Use:   "register <name> <tmux-session>",
	Short: "Register an existing tmux session as a guest participant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := apiClient().RegisterGuest(cmd.Context(), guestProjectID, args[0], guestDescription, args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(g)
		}
		fmt.Printf("registered guest %s (%s) on tmux session %s\n", g.Name, shortID(g.ID), g.TmuxSession)
		return nil
	},
}

func init() {
	guestRegisterCmd.Flags().StringVar(&guestProjectID, "project", "", "project id")
	guestRegisterCmd.Flags().StringVar(&guestDescription, "description", "", "guest description")
	guestRegisterCmd.MarkFlagRequired("project")
	guestCmd.AddCommand(guestRegisterCmd)
	rootCmd.AddCommand(guestCmd)
}
