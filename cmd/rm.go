package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/brk3/habitd/internal/apiclient"
	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:     "rm <habit-id>",
	Aliases: []string{"delete"},
	Short:   "Stop tracking a habit and cancel its reminders",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remove(cmd.Context(), newClient(), cmd.OutOrStdout(), args[0])
	},
}

func remove(ctx context.Context, c *apiclient.Client, w io.Writer, id string) error {
	if err := c.DeleteHabit(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(w, "Deleted %s\n", id)
	return nil
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
