// Package cli wires the pipeline operations into an operator command tree.
// Commands lock the run, load its configuration, apply one operation, and
// print the outcome; all durable output lives in the run directory.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tiger/filmgate/internal/config"
	"github.com/tiger/filmgate/internal/orchestrator"
	"github.com/tiger/filmgate/internal/state"
)

type dataDirKey struct{}

func withDataDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, dataDirKey{}, dir)
}

func dataDirFrom(ctx context.Context) string {
	if dir, ok := ctx.Value(dataDirKey{}).(string); ok && dir != "" {
		return dir
	}
	return "."
}

func NewRootCmd(version string) *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:          "filmgate",
		Short:        "filmgate — gated pre-production pipeline for one-shot film renders",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dataDir == "" {
				dataDir = os.Getenv("FILMGATE_DATA_DIR")
			}
			if dataDir == "" {
				dataDir = "."
			}
			cmd.SetContext(withDataDir(cmd.Context(), dataDir))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding run state (default: ., env: FILMGATE_DATA_DIR)")

	cmd.AddCommand(newCreateRunCmd())
	cmd.AddCommand(newGate0Cmd())
	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStoryQACmd())
	cmd.AddCommand(newRenderAudioCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}

// openRun loads a run and its recorded configuration, and takes the run's
// writer lock. The caller must call release.
func openRun(cmd *cobra.Command, runID string) (*orchestrator.Orchestrator, *state.Store, *state.RunState, func(), error) {
	if runID == "" {
		return nil, nil, nil, nil, fmt.Errorf("--run is required")
	}
	store := state.NewStore(dataDirFrom(cmd.Context()))
	st, err := store.Load(runID)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	cfg := config.Default()
	if st.ConfigPath != "" {
		cfg, err = config.Load(st.ConfigPath)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		hash, err := cfg.Hash()
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if hash != st.ConfigHash {
			return nil, nil, nil, nil, fmt.Errorf("config %s changed since the run was created (hash %s, recorded %s)", st.ConfigPath, hash, st.ConfigHash)
		}
	}

	release, err := store.AcquireRunLock(runID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return orchestrator.New(store, cfg), store, st, release, nil
}
