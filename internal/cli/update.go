package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"blocklaunch/internal/record"
)

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Download and install every flagged content component",
		RunE:  runUpdate,
	}
}

func runUpdate(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	r := s.reconciler()
	if r == nil {
		return errUpdatesDisabled
	}

	report, stop := progressSink(cmd)
	res := r.ApplyAll(commandContext(cmd), report)
	stop()

	if outputJSON {
		payload := struct {
			Success bool               `json:"success"`
			Applied []record.Component `json:"applied"`
			Error   string             `json:"error,omitempty"`
		}{Success: res.Err == nil, Applied: res.Applied}
		if payload.Applied == nil {
			payload.Applied = []record.Component{}
		}
		if res.Err != nil {
			payload.Error = res.Err.Error()
		}
		if err := writeJSON(cmd, payload); err != nil {
			return err
		}
		return res.Err
	}

	out := cmd.OutOrStdout()
	if len(res.Applied) > 0 {
		names := make([]string, len(res.Applied))
		for i, c := range res.Applied {
			names[i] = string(c)
		}
		fmt.Fprintf(out, "Updated %s\n", strings.Join(names, ", "))
	}
	if res.Err != nil {
		return fmt.Errorf("update failed: %w", res.Err)
	}
	if len(res.Applied) == 0 {
		fmt.Fprintln(out, "Everything is up to date")
	}
	return nil
}
