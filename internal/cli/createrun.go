package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tiger/filmgate/internal/config"
	"github.com/tiger/filmgate/internal/orchestrator"
	"github.com/tiger/filmgate/internal/state"
)

func newCreateRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "create-run",
		Short: "Create a new run in INIT",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			recordedPath := ""
			if configPath != "" {
				abs, err := filepath.Abs(configPath)
				if err != nil {
					return err
				}
				cfg, err = config.Load(abs)
				if err != nil {
					return err
				}
				recordedPath = abs
			}

			store := state.NewStore(dataDirFrom(cmd.Context()))
			o := orchestrator.New(store, cfg)
			st, err := o.CreateRun(recordedPath)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created run %s (project %q, state %s)\n", st.RunID, st.ProjectName, st.CurrentState)
			fmt.Fprintf(cmd.OutOrStdout(), "next: filmgate gate0 --run %s\n", st.RunID)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Run configuration YAML (defaults apply when omitted)")
	return cmd
}
