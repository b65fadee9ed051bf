package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "qbucket %s\n", versionInfo.Version)
		_, _ = fmt.Fprintf(out, "  commit:   %s\n", versionInfo.Commit)
		_, _ = fmt.Fprintf(out, "  built:    %s\n", versionInfo.BuildDate)
		if v := crucible.GetVersion(); v.Gofulmen != "" {
			_, _ = fmt.Fprintf(out, "  gofulmen: %s\n", v.Gofulmen)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
