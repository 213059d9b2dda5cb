package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newClasspathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classpath",
		Short: "Prepare a launch without starting the game and print its command line",
		RunE:  runClasspath,
	}

	addRequestFlags(cmd)
	return cmd
}

func runClasspath(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	report, stop := progressSink(cmd)
	plan, err := s.assembler().Prepare(commandContext(cmd), requestFromFlags(cmd), report)
	stop()
	if err != nil {
		return err
	}

	if outputJSON {
		return writeJSON(cmd, plan)
	}

	out := cmd.OutOrStdout()
	for _, entry := range plan.Classpath {
		fmt.Fprintln(out, entry)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "main class: %s\n", plan.MainClass)
	fmt.Fprintf(out, "java:       %s (%d)\n", plan.Runtime.Path, plan.Runtime.Major)
	fmt.Fprintf(out, "dir:        %s\n", plan.Dir)
	fmt.Fprintf(out, "args:       %s\n", strings.Join(plan.Args, " "))
	return nil
}
