package storyqa

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tiger/filmgate/internal/hashing"
	"github.com/tiger/filmgate/internal/state"
)

// ResultFilename names the persisted story QA result inside an iteration's
// artifact directory.
const ResultFilename = "story_qa.json"

// ResultPath returns where a standalone evaluation is stored, beside the
// script it scored.
func ResultPath(store *state.Store, st *state.RunState) string {
	return filepath.Join(store.ArtifactDir(st.RunID, st.CurrentIteration), ResultFilename)
}

// WriteResult persists an evaluation as canonical JSON, overwriting any
// previous result for the same iteration.
func WriteResult(store *state.Store, st *state.RunState, result Result) (string, error) {
	raw, err := hashing.CanonicalJSON(result)
	if err != nil {
		return "", fmt.Errorf("encode story QA result: %w", err)
	}
	out := ResultPath(store, st)
	if err := os.WriteFile(out, append(raw, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write story QA result: %w", err)
	}
	return out, nil
}
