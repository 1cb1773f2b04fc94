package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tiger/filmgate/api/preprod"
	"github.com/tiger/filmgate/internal/ingest"
	"github.com/tiger/filmgate/internal/locks"
	"github.com/tiger/filmgate/providers/tts/polly"
)

func newRenderAudioCmd() *cobra.Command {
	var runID string
	var outDir string
	var voice string
	var region string

	cmd := &cobra.Command{
		Use:   "render-audio",
		Short: "Synthesize the locked AV package's dialogue through Amazon Polly",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, st, release, err := openRun(cmd, runID)
			if err != nil {
				return err
			}
			defer release()

			if st.CurrentState != preprod.StateComplete {
				return fmt.Errorf("run %s is %s; audio is rendered only after gate4 passes", st.RunID, st.CurrentState)
			}
			if err := locks.Verify(store, st); err != nil {
				return fmt.Errorf("refusing to render: %w", err)
			}

			loaded, err := ingest.Load(st, preprod.RoleAudio)
			if err != nil {
				return err
			}
			pkg, ok := loaded.(preprod.AVPromptPackage)
			if !ok {
				return fmt.Errorf("audio artifact decoded to unexpected type")
			}

			cfg := polly.ConfigFromEnv()
			if voice != "" {
				cfg.VoiceID = voice
			}
			if region != "" {
				cfg.Region = region
			}
			if outDir == "" {
				outDir = filepath.Join(store.RunDir(st.RunID), "audio")
			}

			synth := polly.NewSynthesizer(cfg)
			rendered, err := synth.RenderPackage(cmd.Context(), pkg, outDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(rendered) == 0 {
				fmt.Fprintln(out, "no shots carry TTS text; nothing to render")
				return nil
			}
			for _, shot := range rendered {
				fmt.Fprintf(out, "rendered %s (%s, %d bytes): %s\n", shot.ShotID, shot.Speaker, shot.Bytes, shot.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run identifier")
	cmd.Flags().StringVar(&outDir, "out", "", "Audio output directory (default: <run>/audio)")
	cmd.Flags().StringVar(&voice, "voice", "", "Polly voice id override")
	cmd.Flags().StringVar(&region, "region", "", "AWS region override")
	return cmd
}
