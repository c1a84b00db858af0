package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/switchyard-ai/switchyard/internal/router"
)

var (
	sendFrom     string
	sendTo       []string
	sendThreadID string
	sendToUser   bool
)

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Route a message to agents, guests, the user or a thread",
	Long: `Sends a message as the session identified by --from.

Without --thread or --user the message goes through the delay-buffered pool
to each --to recipient (agents by name, guests by name). --user posts to the
sender's 1:1 thread with the human user; --thread posts to an existing thread
and notifies its members.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := router.Params{
			Message:        strings.Join(args, " "),
			ThreadID:       sendThreadID,
			RecipientNames: sendTo,
		}
		if sendToUser {
			params.Recipient = router.RecipientUser
		}

		result, err := apiClient().SendMessage(cmd.Context(), sendFrom, params)
		if err != nil {
			return err
		}
		if jsonOutput {
			var v any
			if err := json.Unmarshal(result, &v); err != nil {
				return err
			}
			return printJSON(v)
		}

		var pooled router.PooledResult
		if err := json.Unmarshal(result, &pooled); err == nil && pooled.Mode == "pooled" {
			for _, o := range pooled.Queued {
				line := fmt.Sprintf("  %s (%s): %s", o.Name, o.Type, o.Status)
				if o.Error != "" {
					line += " - " + o.Error
				}
				fmt.Println(line)
			}
			fmt.Printf("%d queued, estimated delay %dms\n", pooled.QueuedCount, pooled.DelayMs)
			return nil
		}

		var threaded router.ThreadResult
		if err := json.Unmarshal(result, &threaded); err == nil && threaded.Mode == "thread" {
			fmt.Printf("posted to thread %s (message %s)\n", threaded.ThreadID, threaded.MessageID)
			for _, o := range threaded.Notified {
				line := fmt.Sprintf("  %s: %s", o.Name, o.Status)
				if o.Error != "" {
					line += " - " + o.Error
				}
				fmt.Println(line)
			}
			return nil
		}

		fmt.Println(string(result))
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendFrom, "from", "", "sender session handle (full id or >=8-char prefix)")
	sendCmd.Flags().StringSliceVar(&sendTo, "to", nil, "recipient names (agents or guests)")
	sendCmd.Flags().StringVar(&sendThreadID, "thread", "", "post to an existing thread")
	sendCmd.Flags().BoolVar(&sendToUser, "user", false, "message the human user (1:1 thread)")
	sendCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(sendCmd)
}
