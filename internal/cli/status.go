package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusProjectID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List active sessions and registered guests",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient()
		sessions, err := c.Sessions(cmd.Context())
		if err != nil {
			return err
		}
		guests, err := c.Guests(cmd.Context(), statusProjectID)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(map[string]any{
				"sessions": sessions,
				"guests":   guests,
			})
		}

		fmt.Printf("Sessions (%d):\n", len(sessions))
		for _, s := range sessions {
			agent := "-"
			if s.AgentID != nil {
				agent = *s.AgentID
			}
			fmt.Printf("  %-12s  %-8s  agent=%s  tmux=%s  last activity %s\n",
				shortID(s.ID), s.Activity, agent, s.TmuxSession,
				s.LastActivityAt.Format(time.RFC3339))
		}
		fmt.Printf("Guests (%d):\n", len(guests))
		for _, g := range guests {
			fmt.Printf("  %-12s  %-16s  tmux=%s\n", shortID(g.ID), g.Name, g.TmuxSession)
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <handle>",
	Short: "Resolve a session handle to its identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, err := apiClient().Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(resolved)
		}
		fmt.Printf("%s %s (%s) project=%s\n", resolved.Kind, resolved.Name, resolved.ID, resolved.ProjectID)
		return nil
	},
}

var ackCmd = &cobra.Command{
	Use:   "ack",
	Short: "Acknowledge a thread message as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		handle, _ := cmd.Flags().GetString("session")
		threadID, _ := cmd.Flags().GetString("thread")
		messageID, _ := cmd.Flags().GetString("message")
		if err := apiClient().Ack(cmd.Context(), handle, threadID, messageID); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]bool{"acknowledged": true})
		}
		fmt.Println("acknowledged")
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusProjectID, "project", "", "limit guests to a project id")
	ackCmd.Flags().String("session", "", "acknowledging session handle")
	ackCmd.Flags().String("thread", "", "thread id")
	ackCmd.Flags().String("message", "", "message id")
	ackCmd.MarkFlagRequired("session")
	ackCmd.MarkFlagRequired("thread")
	ackCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(statusCmd, resolveCmd, ackCmd)
}
