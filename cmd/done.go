package cmd

import (
	"context"
	"io"

	"github.com/brk3/habitd/internal/apiclient"
	"github.com/spf13/cobra"
)

var (
	doneDate string
	doneUndo bool
)

var doneCmd = &cobra.Command{
	Use:   "done <habit-id>",
	Short: "Record that a habit was practiced",
	Long: `The "done" command marks today, or the day given with --date, as done.
Use --undo to clear the mark.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return done(cmd.Context(), newClient(), cmd.OutOrStdout(), args[0], doneDate, !doneUndo)
	},
}

func done(ctx context.Context, c *apiclient.Client, w io.Writer, id, date string, executed bool) error {
	if date == "" {
		date = "today"
	}
	day, err := c.MarkDay(ctx, id, date, executed)
	if err != nil {
		return err
	}
	name := id
	if h, err := c.GetHabit(ctx, id); err == nil {
		name = colorName(h.Habit)
	}
	printDay(w, name, *day)
	return nil
}

func init() {
	doneCmd.Flags().StringVar(&doneDate, "date", "", "day to mark as YYYY-MM-DD (default today)")
	doneCmd.Flags().BoolVar(&doneUndo, "undo", false, "clear the mark instead of setting it")
	rootCmd.AddCommand(doneCmd)
}
