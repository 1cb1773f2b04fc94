package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tiger/filmgate/internal/gates"
	"github.com/tiger/filmgate/internal/state"
)

func newGate0Cmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "gate0",
		Short: "Run the model eligibility gate and open collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, _, st, release, err := openRun(cmd, runID)
			if err != nil {
				return err
			}
			defer release()

			report, err := o.RunGate0(st)
			if err != nil {
				return err
			}
			printReport(cmd, report, st)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run identifier")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var runID string
	var gate string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a gate and advance or roll back the run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if gate == "" {
				return fmt.Errorf("--gate is required")
			}
			o, _, st, release, err := openRun(cmd, runID)
			if err != nil {
				return err
			}
			defer release()

			report, err := o.ValidateGate(st, gate)
			if err != nil {
				return err
			}
			printReport(cmd, report, st)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run identifier")
	cmd.Flags().StringVar(&gate, "gate", "", "Gate to validate (gate1..gate4)")
	return cmd
}

func printReport(cmd *cobra.Command, report gates.Report, st *state.RunState) {
	out := cmd.OutOrStdout()
	verdict := "PASS"
	if !report.Passed {
		verdict = "FAIL"
	}
	fmt.Fprintf(out, "%s %s (iteration %d) -> state %s\n", report.Gate, verdict, report.Iteration, st.CurrentState)
	for _, reason := range report.Reasons {
		fmt.Fprintf(out, "  reason: %s\n", reason)
	}
	for _, fix := range report.FixInstructions {
		fmt.Fprintf(out, "  fix: %s\n", fix)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", warning)
	}
	if !report.Passed && !st.CurrentState.IsTerminal() {
		fmt.Fprintf(out, "retries used: %s\n", retrySummary(st))
	}
}

func retrySummary(st *state.RunState) string {
	parts := make([]string, 0, len(st.RetryCounts))
	for _, gate := range []string{"gate1", "gate2", "gate3"} {
		parts = append(parts, fmt.Sprintf("%s=%d", gate, st.RetryCounts[gate]))
	}
	return strings.Join(parts, " ")
}
