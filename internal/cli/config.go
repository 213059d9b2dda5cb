package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"blocklaunch/internal/config"
	"blocklaunch/internal/paths"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit the launcher configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigEditCmd())
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Report configuration values the launcher cannot use",
		RunE:  runConfigValidate,
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration in YAML",
		RunE:  runConfigShow,
	}
}

func newConfigEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit",
		Short: "Open launcher.yaml in $EDITOR",
		RunE:  runConfigEdit,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	home, err := paths.Resolve(homeDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(home.ConfigFile)
	if err != nil {
		return err
	}

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", home.ConfigFile)
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	if len(data) == 0 || data[len(data)-1] != '\n' {
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	home, err := paths.Resolve(homeDir)
	if err != nil {
		return err
	}
	cfg, err := config.Load(home.ConfigFile)
	if err != nil {
		return err
	}

	results := cfg.Validate()
	if outputJSON {
		if results == nil {
			results = []config.ValidationResult{}
		}
		if err := writeJSON(cmd, results); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		for _, r := range results {
			fmt.Fprintf(out, "%-8s %s\n", r.Level+":", r.Message)
		}
		if len(results) == 0 {
			fmt.Fprintln(out, "Configuration OK")
		}
	}
	if config.HasErrors(results) {
		return errors.New("config validation failed: " + joinMessages(results, "error"))
	}
	return nil
}

func runConfigEdit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	home, err := paths.Resolve(homeDir)
	if err != nil {
		return err
	}

	if err := ensureConfigFileExists(home); err != nil {
		return err
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}

	parts := splitEditorCommand(editor)
	if len(parts) == 0 {
		return fmt.Errorf("invalid EDITOR value: %q", editor)
	}

	parts = append(parts, home.ConfigFile)

	execCmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	execCmd.Stdout = cmd.OutOrStdout()
	execCmd.Stderr = cmd.ErrOrStderr()
	execCmd.Stdin = cmd.InOrStdin()
	execCmd.Dir = home.Root

	if err := execCmd.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}
	return nil
}

// ensureConfigFileExists writes the defaults so the editor opens a complete
// file.
func ensureConfigFileExists(home paths.Home) error {
	if _, err := os.Stat(home.ConfigFile); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	return config.Default().Save(home.ConfigFile)
}

func splitEditorCommand(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	// Basic splitting on whitespace; handles simple EDITOR values like "nano" or "code -w".
	fields := strings.Fields(value)
	return append([]string{}, fields...)
}
