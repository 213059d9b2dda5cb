package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"blocklaunch/internal/archive"
	"blocklaunch/internal/config"
	"blocklaunch/internal/jre"
	"blocklaunch/internal/launch"
	"blocklaunch/internal/paths"
	"blocklaunch/internal/platform"
	"blocklaunch/internal/reconcile"
	"blocklaunch/internal/record"
)

// lowDiskMB is the free space below which a fresh install may not fit.
const lowDiskMB = 2048

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check launcher health",
		RunE:  runDoctor,
	}
}

type healthCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "warning", "error"
	Summary string `json:"summary"`
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	home, err := paths.Resolve(homeDir)
	if err != nil {
		return err
	}
	exists, err := paths.DirExists(home.Root)
	if err != nil {
		return fmt.Errorf("stat launcher home: %w", err)
	}
	if !exists {
		return writeDoctorResult(cmd, home.Root, []healthCheck{{
			Name:    "Home",
			Status:  "warning",
			Summary: "not created yet; run blocklaunch launch",
		}})
	}

	ctx := commandContext(cmd)
	var checks []healthCheck

	checks = append(checks, checkDisk(ctx, home))

	cfg, cfgErr := config.Load(home.ConfigFile)
	checks = append(checks, checkConfig(home, cfg, cfgErr))
	if cfgErr != nil {
		// Nothing below is meaningful without a config.
		return writeDoctorResult(cmd, home.Root, checks)
	}

	checks = append(checks, checkRuntime(ctx, home, cfg))
	checks = append(checks, checkInstance(home, cfg))
	checks = append(checks, checkInstalled(home))
	checks = append(checks, checkBackup(home))

	return writeDoctorResult(cmd, home.Root, checks)
}

func checkDisk(ctx context.Context, home paths.Home) healthCheck {
	free := platform.FreeDiskMB(ctx, home.Root)
	switch {
	case free < 0:
		return healthCheck{Name: "Disk", Status: "warning", Summary: "free space unknown"}
	case free < lowDiskMB:
		return healthCheck{Name: "Disk", Status: "warning", Summary: fmt.Sprintf("%d MB free", free)}
	}
	return healthCheck{Name: "Disk", Status: "ok", Summary: fmt.Sprintf("%.1f GB free", float64(free)/1024)}
}

func checkConfig(home paths.Home, cfg config.Config, cfgErr error) healthCheck {
	if cfgErr != nil {
		return healthCheck{Name: "Config", Status: "error", Summary: cfgErr.Error()}
	}

	validations := cfg.Validate()
	var warnings, errors int
	for _, v := range validations {
		switch v.Level {
		case "warning":
			warnings++
		case "error":
			errors++
		}
	}

	summary := fmt.Sprintf("game %s, %d manifest URLs", cfg.Game.Version, len(cfg.Manifest.URLs))
	if exists, _ := paths.FileExists(home.ConfigFile); !exists {
		summary += " (defaults)"
	}

	if errors > 0 {
		return healthCheck{Name: "Config", Status: "error", Summary: fmt.Sprintf("%s; %d errors", summary, errors)}
	}
	if warnings > 0 {
		return healthCheck{Name: "Config", Status: "warning", Summary: fmt.Sprintf("%s; %d warnings", summary, warnings)}
	}
	return healthCheck{Name: "Config", Status: "ok", Summary: summary}
}

func checkRuntime(ctx context.Context, home paths.Home, cfg config.Config) healthCheck {
	_, profile, err := platform.CurrentProfile()
	if err != nil {
		return healthCheck{Name: "Runtime", Status: "error", Summary: err.Error()}
	}
	resolver := launch.NewRuntimeResolver(home, cfg, profile, nil, nil, nil)
	rt, ok := resolver.Find(ctx)
	if !ok {
		return healthCheck{Name: "Runtime", Status: "warning", Summary: fmt.Sprintf("no java %d+ found; one will be downloaded", cfg.Runtime.MinMajor)}
	}
	summary := fmt.Sprintf("java %d (%s)", rt.Major, rt.Source)
	if rt.Source == jre.SourceOverride && rt.Major < cfg.Runtime.MinMajor {
		return healthCheck{Name: "Runtime", Status: "warning", Summary: summary + fmt.Sprintf("; below %d", cfg.Runtime.MinMajor)}
	}
	return healthCheck{Name: "Runtime", Status: "ok", Summary: summary}
}

func checkInstance(home paths.Home, cfg config.Config) healthCheck {
	if m, ok := reconcile.ReadInstanceMarker(home.InstanceDir); ok {
		return healthCheck{Name: "Instance", Status: "ok", Summary: "installed " + m.Version}
	}
	if cfg.Instance.URL != "" {
		return healthCheck{Name: "Instance", Status: "warning", Summary: "not installed; the next launch installs it"}
	}
	return healthCheck{Name: "Instance", Status: "warning", Summary: "no instance configured; launches run vanilla"}
}

func checkInstalled(home paths.Home) healthCheck {
	rec, err := record.NewStore(home.RecordFile).Load()
	if err != nil {
		return healthCheck{Name: "Versions", Status: "warning", Summary: err.Error()}
	}
	var parts []string
	for _, c := range record.Components {
		parts = append(parts, fmt.Sprintf("%s %s", c, rec.Get(c)))
	}
	return healthCheck{Name: "Versions", Status: "ok", Summary: joinComma(parts)}
}

func checkBackup(home paths.Home) healthCheck {
	if archive.HasOrphan(home.BackupDir) {
		return healthCheck{Name: "Backup", Status: "error", Summary: "interrupted install found; run blocklaunch recover"}
	}
	return healthCheck{Name: "Backup", Status: "ok", Summary: "clean"}
}

func writeDoctorResult(cmd *cobra.Command, root string, checks []healthCheck) error {
	if outputJSON {
		data, err := json.MarshalIndent(checks, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	bold := lipgloss.NewStyle().Bold(true).Inline(true)
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Inline(true)
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Inline(true)
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Inline(true)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, bold.Render("LAUNCHER HEALTH:")+" "+root)

	for _, c := range checks {
		var statusStr string
		switch c.Status {
		case "ok":
			statusStr = green.Render("OK")
		case "warning":
			statusStr = yellow.Render("WARN")
		case "error":
			statusStr = red.Render("ERROR")
		}
		fmt.Fprintf(out, "  %-12s %s    %s\n", c.Name+":", statusStr, c.Summary)
	}

	return nil
}

func joinComma(items []string) string {
	if len(items) == 0 {
		return ""
	}
	result := items[0]
	for _, item := range items[1:] {
		result += ", " + item
	}
	return result
}
