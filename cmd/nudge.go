package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/brk3/habitd/internal/apiclient"
	"github.com/brk3/habitd/internal/nudge"
	"github.com/spf13/cobra"
)

var nudgeCmd = &cobra.Command{
	Use:   "nudge <habit-id>",
	Short: "Send a test reminder for a habit through the configured notifiers",
	Long: `The "nudge" command delivers a reminder right away, using the same
notifiers the server uses. Set notify.resend_api_key and notify.email (or
HABITS_RESEND_API_KEY and HABITS_NOTIFY_EMAIL) to deliver by e-mail.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendNudge(cmd.Context(), newClient(), newNotifier(cfg), cmd.OutOrStdout(), args[0])
	},
}

func sendNudge(ctx context.Context, c *apiclient.Client, n nudge.Notifier, w io.Writer, id string) error {
	resp, err := c.GetHabit(ctx, id)
	if err != nil {
		return err
	}
	h := resp.Habit
	r := nudge.Reminder{
		HabitID: h.ID,
		Title:   h.TitleText(),
		Body:    h.SubtitleText(),
		FireAt:  time.Now(),
	}
	if err := n.Notify(ctx, r); err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}
	fmt.Fprintf(w, "Sent reminder for %s\n", colorName(h))
	return nil
}

func init() {
	rootCmd.AddCommand(nudgeCmd)
}
