package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiger/filmgate/api/preprod"
)

func newStatusCmd() *cobra.Command {
	var runID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show run state, gate progress, and identity pointers",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, _, st, release, err := openRun(cmd, runID)
			if err != nil {
				return err
			}
			defer release()

			status := o.Status(st)
			out := cmd.OutOrStdout()

			if asJSON {
				raw, err := json.MarshalIndent(status, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(raw))
				return nil
			}

			fmt.Fprintf(out, "run %s (project %q)\n", status.RunID, status.ProjectName)
			fmt.Fprintf(out, "state: %s, iteration %d\n", status.State, status.Iteration)
			for _, gate := range preprod.GateNames {
				line := fmt.Sprintf("  %s: %s", gate, status.GateStatus[gate])
				if retries, ok := status.RetryCounts[gate]; ok && retries > 0 {
					line += fmt.Sprintf(" (retries %d)", retries)
				}
				fmt.Fprintln(out, line)
			}
			if len(status.MissingRoles) > 0 {
				fmt.Fprintf(out, "awaiting artifacts: %v\n", status.MissingRoles)
			}
			if status.PreprodLockedIteration > 0 {
				fmt.Fprintf(out, "pre-production locked at iteration %d (spec %s)\n", status.PreprodLockedIteration, status.LockedSpecHash)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run identifier")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print machine-readable status")
	return cmd
}
