package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"blocklaunch/internal/paths"
)

// Version is the launcher version, set at build time with
// -ldflags "-X blocklaunch/internal/cli.Version=1.4.0".
var Version = "0.0.0-dev"

var (
	homeDir    string
	outputJSON bool
	noProgress bool
)

// Execute runs the root cobra command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "blocklaunch",
		Short:         "Keep a modded game instance up to date and launch it",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&homeDir, "home", "", "Launcher home directory (default: $"+paths.HomeEnv+" or the per-user data dir)")
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output machine-readable JSON")
	cmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "Print plain progress lines instead of the interactive display")

	cmd.AddCommand(newLaunchCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newRuntimeCmd())
	cmd.AddCommand(newClasspathCmd())
	cmd.AddCommand(newRecoverCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}
