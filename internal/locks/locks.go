// Package locks freezes the approved pre-production artifact set into an
// immutable manifest. The manifest is built exactly once per run, the moment
// every required artifact is in place, and everything downstream re-validates
// against its hashes.
package locks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tiger/filmgate/api/preprod"
	"github.com/tiger/filmgate/internal/hashing"
	"github.com/tiger/filmgate/internal/state"
)

// Entry records the frozen hash of one pre-production artifact.
type Entry struct {
	Role   preprod.Role `json:"role"`
	Path   string       `json:"path"`
	SHA256 string       `json:"sha256"`
}

// Manifest is the immutable lock document.
type Manifest struct {
	RunID           string  `json:"run_id"`
	Iteration       int     `json:"iteration"`
	CreatedAt       string  `json:"created_at"`
	DirectionPackID string  `json:"direction_pack_id,omitempty"`
	SpecHash        string  `json:"spec_hash"`
	Artifacts       []Entry `json:"artifacts"`
}

// Path returns the on-disk location of the lock for an iteration.
func Path(store *state.Store, runID string, iteration int) string {
	return filepath.Join(store.LocksDir(runID), fmt.Sprintf("preprod.%s.lock.json", state.IterationKey(iteration)))
}

// Build hashes the five required pre-production artifacts of the current
// iteration, computes the spec hash over run identity plus those hashes,
// persists the manifest, and records the locked iteration on the run state.
// Locking is irreversible: a second call fails.
func Build(store *state.Store, st *state.RunState) (Manifest, error) {
	if st.PreprodLockedIteration != 0 {
		return Manifest{}, fmt.Errorf("run %s already locked at iteration %d", st.RunID, st.PreprodLockedIteration)
	}

	entries := make([]Entry, 0, len(preprod.PreprodRoles))
	artifactHashes := make(map[string]string, len(preprod.PreprodRoles))
	for _, role := range preprod.PreprodRoles {
		rec, ok := st.Artifact(role)
		if !ok {
			return Manifest{}, fmt.Errorf("missing pre-production artifact for %q", role)
		}
		sum, err := hashing.SHA256File(rec.Path)
		if err != nil {
			return Manifest{}, fmt.Errorf("hash %s artifact: %w", role, err)
		}
		artifactHashes[string(role)] = sum
		entries = append(entries, Entry{Role: role, Path: rec.Path, SHA256: sum})
	}

	specHash, err := hashing.SHA256JSON(map[string]any{
		"run_id":      st.RunID,
		"iteration":   st.CurrentIteration,
		"config_hash": st.ConfigHash,
		"artifacts":   artifactHashes,
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("compute spec hash: %w", err)
	}

	manifest := Manifest{
		RunID:           st.RunID,
		Iteration:       st.CurrentIteration,
		CreatedAt:       store.Now().UTC().Format(time.RFC3339),
		DirectionPackID: st.LatestDirectionPackID,
		SpecHash:        specHash,
		Artifacts:       entries,
	}

	raw, err := hashing.CanonicalJSON(manifest)
	if err != nil {
		return Manifest{}, fmt.Errorf("encode lock manifest: %w", err)
	}
	out := Path(store, st.RunID, st.CurrentIteration)
	if err := os.WriteFile(out, append(raw, '\n'), 0o644); err != nil {
		return Manifest{}, fmt.Errorf("write lock manifest: %w", err)
	}

	st.PreprodLockedIteration = st.CurrentIteration
	st.LockedSpecHash = specHash
	return manifest, nil
}

// Read loads the lock manifest for an iteration.
func Read(store *state.Store, runID string, iteration int) (Manifest, error) {
	raw, err := os.ReadFile(Path(store, runID, iteration))
	if err != nil {
		return Manifest{}, fmt.Errorf("read lock manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decode lock manifest: %w", err)
	}
	return manifest, nil
}

// Verify re-hashes every locked artifact against the manifest and checks the
// manifest's spec hash against the one recorded on the run state. Any drift
// is an error.
func Verify(store *state.Store, st *state.RunState) error {
	if st.PreprodLockedIteration == 0 {
		return fmt.Errorf("run %s has no pre-production lock", st.RunID)
	}
	manifest, err := Read(store, st.RunID, st.PreprodLockedIteration)
	if err != nil {
		return err
	}
	if manifest.SpecHash != st.LockedSpecHash {
		return fmt.Errorf("lock manifest spec hash %s does not match recorded %s", manifest.SpecHash, st.LockedSpecHash)
	}
	for _, entry := range manifest.Artifacts {
		sum, err := hashing.SHA256File(entry.Path)
		if err != nil {
			return fmt.Errorf("hash locked %s artifact: %w", entry.Role, err)
		}
		if sum != entry.SHA256 {
			return fmt.Errorf("locked %s artifact drifted: hash %s, locked %s", entry.Role, sum, entry.SHA256)
		}
	}
	return nil
}
