package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"blocklaunch/internal/config"
	"blocklaunch/internal/reconcile"
	"blocklaunch/internal/record"
)

var checkStrict bool

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare installed content with the remote manifest",
		RunE:  runCheck,
	}

	cmd.Flags().BoolVar(&checkStrict, "strict", false, "fail when the configuration has errors or the manifest is unreachable")

	return cmd
}

type checkComponent struct {
	Name      string `json:"name"`
	Installed string `json:"installed"`
	Remote    string `json:"remote,omitempty"`
	Update    bool   `json:"update"`
}

type checkPayload struct {
	Home                string                    `json:"home"`
	Available           bool                      `json:"available"`
	LauncherVersion     string                    `json:"launcher_version"`
	LauncherUpdate      bool                      `json:"launcher_update,omitempty"`
	LauncherDownloadURL string                    `json:"launcher_download_url,omitempty"`
	RemoteLauncher      string                    `json:"remote_launcher_version,omitempty"`
	Components          []checkComponent          `json:"components"`
	Notes               string                    `json:"notes,omitempty"`
	Error               string                    `json:"error,omitempty"`
	Validations         []config.ValidationResult `json:"validations,omitempty"`
}

func runCheck(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	validations := s.cfg.Validate()
	for _, v := range validations {
		s.logger.Printf("config %s: %s", v.Level, v.Message)
	}

	r := s.reconciler()
	if r == nil {
		return errUpdatesDisabled
	}
	d := r.Check(commandContext(cmd))
	payload := newCheckPayload(s.home.Root, d, validations)

	if outputJSON {
		if err := writeJSON(cmd, payload); err != nil {
			return err
		}
	} else {
		printCheckResult(cmd, payload)
	}

	if checkStrict {
		if config.HasErrors(validations) {
			return errors.New("config validation failed: " + joinMessages(validations, "error"))
		}
		if d.Err != nil {
			return fmt.Errorf("update check failed: %w", d.Err)
		}
	}
	return nil
}

func newCheckPayload(home string, d reconcile.Decision, validations []config.ValidationResult) checkPayload {
	p := checkPayload{
		Home:                home,
		Available:           d.Available,
		LauncherVersion:     Version,
		LauncherUpdate:      d.LauncherUpdate,
		LauncherDownloadURL: d.LauncherDownloadURL,
		Notes:               d.Notes,
		Validations:         validations,
	}
	if d.Err != nil {
		p.Error = d.Err.Error()
	}
	if d.Remote != nil {
		p.RemoteLauncher = d.Remote.LauncherVersion
	}

	flagged := map[record.Component]bool{}
	for _, c := range d.Pending() {
		flagged[c] = true
	}
	for _, c := range record.Components {
		entry := checkComponent{Name: string(c), Installed: d.Local.Get(c), Update: flagged[c]}
		if d.Remote != nil {
			switch c {
			case record.Instance:
				entry.Remote = d.Remote.Instance.Version
			case record.Libraries:
				if d.Remote.Libraries != nil {
					entry.Remote = d.Remote.Libraries.Version
				}
			case record.Mods:
				if d.Remote.Mods != nil {
					entry.Remote = d.Remote.Mods.Version
				}
			case record.Texturepacks:
				if d.Remote.Texturepacks != nil {
					entry.Remote = d.Remote.Texturepacks.Version
				}
			}
		}
		p.Components = append(p.Components, entry)
	}
	return p
}

func printCheckResult(cmd *cobra.Command, p checkPayload) {
	bold := lipgloss.NewStyle().Bold(true)
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	faint := lipgloss.NewStyle().Faint(true)
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, bold.Render("Home:") + " " + p.Home)
	fmt.Fprintln(out)

	if p.Error != "" {
		fmt.Fprintln(out, red.Render("✗") + " " + bold.Render("manifest") + red.Render(" ("+p.Error+")"))
		fmt.Fprintln(out, faint.Render("  launches continue with installed content"))
		fmt.Fprintln(out)
	}

	launcher := green.Render("✓") + " " + bold.Render("launcher") + " v" + p.LauncherVersion
	if p.LauncherUpdate {
		launcher = yellow.Render("↑") + " " + bold.Render("launcher") + " v" + p.LauncherVersion + yellow.Render(" → v"+p.RemoteLauncher)
	}
	fmt.Fprintln(out, launcher)
	if p.LauncherUpdate && p.LauncherDownloadURL != "" {
		fmt.Fprintln(out, faint.Render("  download: " + p.LauncherDownloadURL))
	}

	for _, c := range p.Components {
		if c.Update {
			fmt.Fprintln(out, yellow.Render("↑") + " " + bold.Render(c.Name) + " " + c.Installed + yellow.Render(" → "+c.Remote))
			continue
		}
		line := green.Render("✓") + " " + bold.Render(c.Name) + " " + c.Installed
		if c.Remote != "" && c.Remote != c.Installed {
			line += faint.Render(" (remote " + c.Remote + ", managed separately)")
		}
		fmt.Fprintln(out, line)
	}

	if p.Notes != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, bold.Render("Notes:"))
		for _, line := range strings.Split(strings.TrimSpace(p.Notes), "\n") {
			fmt.Fprintln(out, "  " + line)
		}
	}

	for _, v := range p.Validations {
		style := yellow
		if v.Level == "error" {
			style = red
		}
		fmt.Fprintln(cmd.ErrOrStderr(), style.Render(v.Level+":")+" "+v.Message)
	}
}

func joinMessages(results []config.ValidationResult, level string) string {
	var msgs []string
	for _, v := range results {
		if v.Level == level {
			msgs = append(msgs, v.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
