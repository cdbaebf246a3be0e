package cmd

import (
	"context"
	"io"

	"github.com/brk3/habitd/internal/apiclient"
	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary <habit-id>",
	Short: "Show completion, streaks and pending reminders for a habit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return summary(cmd.Context(), newClient(), cmd.OutOrStdout(), args[0])
	},
}

func summary(ctx context.Context, c *apiclient.Client, w io.Writer, id string) error {
	s, err := c.GetHabitSummary(ctx, id)
	if err != nil {
		return err
	}
	printSummary(w, *s)
	return nil
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}
