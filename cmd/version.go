package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/brk3/habitd/internal/apiclient"
	"github.com/brk3/habitd/pkg/versioninfo"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show client and server versions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printVersions(cmd.Context(), newClient(), cmd.OutOrStdout())
	},
}

// printVersions always prints the client version; the server line reports
// the error when the server cannot be reached.
func printVersions(ctx context.Context, c *apiclient.Client, w io.Writer) {
	fmt.Fprintf(w, "Client Version: %s (built %s)\n", versioninfo.Version, versioninfo.BuildDate)

	sv, err := c.Version(ctx)
	if err != nil {
		fmt.Fprintln(w, "Server Version: unavailable:", err)
		return
	}
	fmt.Fprintf(w, "Server Version: %s (built %s)\n", sv.Version, sv.BuildDate)
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
