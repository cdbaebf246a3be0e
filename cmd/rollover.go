package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/brk3/habitd/internal/apiclient"
	"github.com/spf13/cobra"
)

var rolloverCmd = &cobra.Command{
	Use:   "rollover",
	Short: "Extend every habit to the new horizon and reconcile reminders",
	Long: `The server rolls over by itself when the day changes. The "rollover"
command forces one, which is useful after restoring a database.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return rollover(cmd.Context(), newClient(), cmd.OutOrStdout())
	},
}

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Grant permission to deliver reminders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := newClient().Authorize(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("reminder delivery was not authorized")
		}
		cmd.Println("Reminders authorized")
		return nil
	},
}

func rollover(ctx context.Context, c *apiclient.Client, w io.Writer) error {
	rep, err := c.Rollover(ctx)
	if err != nil {
		return err
	}
	scheduled, canceled := 0, 0
	for _, r := range rep.Results {
		scheduled += r.Scheduled
		canceled += r.Canceled
	}
	fmt.Fprintf(w, "Rolled over to %s: %d habits\n", rep.Day, rep.Habits)
	printReconcile(w, scheduled, canceled, rep.Errors)
	return nil
}

func init() {
	rootCmd.AddCommand(rolloverCmd)
	rootCmd.AddCommand(authorizeCmd)
}
