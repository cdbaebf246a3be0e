package cmd

import (
	"context"
	"io"

	"github.com/brk3/habitd/internal/apiclient"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List habits",
	Long:  `The "list" command lets you list your tracked habits.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return list(cmd.Context(), newClient(), cmd.OutOrStdout())
	},
}

func list(ctx context.Context, c *apiclient.Client, w io.Writer) error {
	habits, err := c.ListHabits(ctx)
	if err != nil {
		return err
	}
	printHabits(w, habits)
	return nil
}

func init() {
	rootCmd.AddCommand(listCmd)
}
