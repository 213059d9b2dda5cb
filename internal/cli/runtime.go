package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"blocklaunch/internal/archive"
	"blocklaunch/internal/jre"
	"blocklaunch/internal/launch"
)

var runtimeJava string

func newRuntimeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runtime",
		Short: "Resolve the Java runtime, downloading one when none qualifies",
		RunE:  runRuntime,
	}
	cmd.Flags().StringVar(&runtimeJava, "java", "", "probe this java executable instead of resolving one")
	return cmd
}

func runRuntime(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	fetcher := launch.NewFetcher(s.cfg, s.logger)
	resolver := launch.NewRuntimeResolver(s.home, s.cfg, s.profile, fetcher, archive.NewInstaller(s.logger), s.logger)

	report, stop := progressSink(cmd)
	rt, err := resolver.WithOverride(runtimeJava).Resolve(commandContext(cmd), report)
	stop()
	if err != nil {
		return err
	}
	s.logger.Printf("runtime %s (java %d, %s)", rt.Path, rt.Major, rt.Source)

	if outputJSON {
		return writeJSON(cmd, struct {
			Path     string     `json:"path"`
			Major    int        `json:"major"`
			Source   jre.Source `json:"source"`
			MinMajor int        `json:"min_major"`
		}{rt.Path, rt.Major, rt.Source, s.cfg.Runtime.MinMajor})
	}

	bold := lipgloss.NewStyle().Bold(true)
	faint := lipgloss.NewStyle().Faint(true)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s java %d\n", bold.Render("Runtime:"), rt.Major)
	fmt.Fprintln(out, faint.Render("  "+string(rt.Source)+" · "+rt.Path))
	if rt.Major < s.cfg.Runtime.MinMajor {
		fmt.Fprintf(out, "  warning: java %d is older than the configured minimum %d\n", rt.Major, s.cfg.Runtime.MinMajor)
	}
	return nil
}
