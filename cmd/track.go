package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/brk3/habitd/internal/apiclient"
	"github.com/brk3/habitd/pkg/habit"
	"github.com/spf13/cobra"
)

var trackFlags habitFlags

var trackCmd = &cobra.Command{
	Use:   "track <name>",
	Short: "Start tracking a new habit",
	Long: `The "track" command creates a habit starting today. Reminders are
scheduled at every --at time on the tracked weekdays.

Example:
  habits track "Go swimming" --color blue --weekdays mon,wed,fri --at 18:00`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return track(cmd.Context(), newClient(), cmd.OutOrStdout(), strings.Join(args, " "), &trackFlags)
	},
}

func track(ctx context.Context, c *apiclient.Client, w io.Writer, name string, f *habitFlags) error {
	h := habit.Habit{Name: name}
	if err := f.apply(func(string) bool { return true }, &h); err != nil {
		return err
	}
	resp, err := c.CreateHabit(ctx, h)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Tracking %s (%s)\n", colorName(resp.Habit), resp.Habit.ID)
	printReconcile(w, resp.Reconcile.Scheduled, resp.Reconcile.Canceled, resp.Reconcile.Errors)
	return nil
}

func printReconcile(w io.Writer, scheduled, canceled int, errs []string) {
	if scheduled > 0 || canceled > 0 {
		fmt.Fprintf(w, "Reminders: %d scheduled, %d canceled\n", scheduled, canceled)
	}
	for _, e := range errs {
		fmt.Fprintf(w, "  warning: %s\n", e)
	}
}

func init() {
	trackFlags.register(trackCmd)
	rootCmd.AddCommand(trackCmd)
}
