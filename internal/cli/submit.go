package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tiger/filmgate/api/preprod"
)

func newSubmitCmd() *cobra.Command {
	var runID string
	var role string
	var file string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an agent artifact into the current collection state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role == "" {
				return fmt.Errorf("--role is required")
			}
			if file == "" {
				return fmt.Errorf("--file is required (use - for stdin)")
			}

			var raw []byte
			var err error
			if file == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(file)
			}
			if err != nil {
				return err
			}

			o, _, st, release, err := openRun(cmd, runID)
			if err != nil {
				return err
			}
			defer release()

			result, err := o.Submit(st, preprod.Role(role), raw)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "accepted %s (%s) -> state %s\n", result.Role, result.SHA256, st.CurrentState)
			fmt.Fprintf(cmd.OutOrStdout(), "stored: %s\n", result.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run identifier")
	cmd.Flags().StringVar(&role, "role", "", "Artifact role (showrunner, direction, dance_mapping, cinematography, audio, dryrun_metrics, final_metrics)")
	cmd.Flags().StringVar(&file, "file", "", "Artifact JSON file, or - for stdin")
	return cmd
}
