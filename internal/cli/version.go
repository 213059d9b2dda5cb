package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the launcher version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outputJSON {
				return writeJSON(cmd, map[string]string{
					"version":  Version,
					"platform": runtime.GOOS + "/" + runtime.GOARCH,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "blocklaunch %s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
