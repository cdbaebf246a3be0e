package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/brk3/habitd/internal/apiclient"
	"github.com/spf13/cobra"
)

var (
	editFlags habitFlags
	editName  string
)

var editCmd = &cobra.Command{
	Use:   "edit <habit-id>",
	Short: "Change a habit's name, color, weekdays, end date or reminders",
	Long: `The "edit" command changes only the attributes given as flags. Days
already recorded keep their history; future days and reminders follow the new
schedule.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd.Context(), newClient(), cmd.OutOrStdout(), args[0], cmd.Flags().Changed)
	},
}

func edit(ctx context.Context, c *apiclient.Client, w io.Writer, id string, changed func(string) bool) error {
	cur, err := c.GetHabit(ctx, id)
	if err != nil {
		return err
	}
	h := cur.Habit
	if changed("name") {
		h.Name = editName
	}
	if err := editFlags.apply(changed, &h); err != nil {
		return err
	}
	resp, err := c.UpdateHabit(ctx, h)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Updated %s\n", colorName(resp.Habit))
	printReconcile(w, resp.Reconcile.Scheduled, resp.Reconcile.Canceled, resp.Reconcile.Errors)
	return nil
}

func init() {
	editFlags.register(editCmd)
	editCmd.Flags().StringVar(&editName, "name", "", "new habit name")
	rootCmd.AddCommand(editCmd)
}
