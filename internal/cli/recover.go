package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"blocklaunch/internal/archive"
	"blocklaunch/internal/lockfile"
)

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Restore the instance from a backup left by an interrupted install",
		RunE:  runRecover,
	}
}

func runRecover(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	release, err := lockfile.Acquire(commandContext(cmd), s.home.LockFile)
	if err != nil {
		return err
	}
	defer release()

	restored, err := archive.RecoverOrphan(s.home.BackupDir, s.home.InstanceDir)
	if err != nil {
		return fmt.Errorf("recover instance: %w", err)
	}
	if restored {
		s.logger.Printf("restored %s from %s", s.home.InstanceDir, s.home.BackupDir)
	}

	if outputJSON {
		return writeJSON(cmd, map[string]any{
			"restored": restored,
			"instance": s.home.InstanceDir,
		})
	}
	if restored {
		fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from backup\n", s.home.InstanceDir)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "No interrupted install found")
	}
	return nil
}
