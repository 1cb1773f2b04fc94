package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tiger/filmgate/api/preprod"
	"github.com/tiger/filmgate/internal/config"
)

// Store reads and writes run documents under a base directory. One store
// instance is the single writer for its directory tree.
type Store struct {
	BaseDir string

	// Now is injectable for deterministic tests.
	Now func() time.Time
}

// NewStore returns a store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{BaseDir: baseDir, Now: time.Now}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// RunDir returns the root directory for a run.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.BaseDir, "runs", runID)
}

func (s *Store) statePath(runID string) string {
	return filepath.Join(s.RunDir(runID), "state.json")
}

// EventsPath returns the append-only audit log for a run.
func (s *Store) EventsPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "events.jsonl")
}

// ArtifactDir returns the artifact directory for one iteration.
func (s *Store) ArtifactDir(runID string, iteration int) string {
	return filepath.Join(s.RunDir(runID), "iterations", IterationKey(iteration), "artifacts")
}

// GateReportsDir returns the directory holding persisted gate reports.
func (s *Store) GateReportsDir(runID string) string {
	return filepath.Join(s.RunDir(runID), "gate_reports")
}

// LocksDir returns the directory holding lock manifests.
func (s *Store) LocksDir(runID string) string {
	return filepath.Join(s.RunDir(runID), "locks")
}

// CreateRun builds a fresh run document, lays out its directory tree, and
// persists both the document and a run_created audit event.
func (s *Store) CreateRun(configPath string, cfg config.Config) (*RunState, error) {
	configHash, err := cfg.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash config: %w", err)
	}
	now := s.stamp()
	st := &RunState{
		RunID:            NewRunID(s.now()),
		ProjectName:      cfg.ProjectName,
		CreatedAt:        now,
		UpdatedAt:        now,
		ConfigPath:       configPath,
		ConfigHash:       configHash,
		CurrentState:     preprod.StateInit,
		CurrentIteration: 1,
		GateStatus:       defaultGateStatus(),
		RetryCounts:      defaultRetryCounts(),
		Iterations:       map[string]IterationRecord{IterationKey(1): NewIterationRecord()},
	}
	if err := s.ensureLayout(st.RunID); err != nil {
		return nil, err
	}
	if err := s.Save(st); err != nil {
		return nil, err
	}
	err = s.AppendEvent(st.RunID, "run_created", map[string]any{
		"run_id":      st.RunID,
		"project":     st.ProjectName,
		"config_hash": st.ConfigHash,
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) ensureLayout(runID string) error {
	dirs := []string{
		s.ArtifactDir(runID, 1),
		s.GateReportsDir(runID),
		s.LocksDir(runID),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create run layout: %w", err)
		}
	}
	f, err := os.OpenFile(s.EventsPath(runID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("create event log: %w", err)
	}
	return f.Close()
}

// Load reads a run document from disk.
func (s *Store) Load(runID string) (*RunState, error) {
	raw, err := os.ReadFile(s.statePath(runID))
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	var st RunState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	if st.Iterations == nil {
		st.Iterations = make(map[string]IterationRecord)
	}
	return &st, nil
}

// Save writes the run document atomically: the new snapshot lands under a
// temporary name first and is renamed over state.json.
func (s *Store) Save(st *RunState) error {
	st.UpdatedAt = s.stamp()
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run %s: %w", st.RunID, err)
	}
	raw = append(raw, '\n')
	path := s.statePath(st.RunID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write run %s: %w", st.RunID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish run %s: %w", st.RunID, err)
	}
	return nil
}

// AppendEvent adds one line to the run's audit log.
func (s *Store) AppendEvent(runID, event string, payload map[string]any) error {
	line, err := json.Marshal(map[string]any{
		"at":      s.stamp(),
		"event":   event,
		"payload": payload,
	})
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event, err)
	}
	f, err := os.OpenFile(s.EventsPath(runID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event %s: %w", event, err)
	}
	return nil
}

// AcquireRunLock takes an exclusive advisory lock on a run. It fails if
// another writer already holds the lock. The returned release function
// removes the lock file.
func (s *Store) AcquireRunLock(runID string) (func(), error) {
	path := filepath.Join(s.RunDir(runID), "run.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("run %s is already locked by another writer: %w", runID, err)
	}
	fmt.Fprintf(f, "pid=%d at=%s\n", os.Getpid(), s.stamp())
	f.Close()
	return func() { os.Remove(path) }, nil
}

// StartNextIteration advances the iteration counter and stages the new
// iteration's artifact directory. When carryForward is set, every artifact
// of the previous iteration is copied byte-for-byte into the new directory
// before the directory is published, so a crash mid-copy never leaves a
// half-populated live iteration. The caller persists the document.
func (s *Store) StartNextIteration(st *RunState, reason string, carryForward bool) error {
	prev := st.CurrentIteration
	next := prev + 1
	nextKey := IterationKey(next)

	finalDir := s.ArtifactDir(st.RunID, next)
	stagingDir := filepath.Join(s.RunDir(st.RunID), "iterations", nextKey+".staging")
	if err := os.RemoveAll(stagingDir); err != nil {
		return fmt.Errorf("clear staging: %w", err)
	}
	stagingArtifacts := filepath.Join(stagingDir, "artifacts")
	if err := os.MkdirAll(stagingArtifacts, 0o755); err != nil {
		return fmt.Errorf("stage iteration %s: %w", nextKey, err)
	}

	record := NewIterationRecord()
	if carryForward {
		prevRecord, ok := st.Iterations[IterationKey(prev)]
		if ok {
			for role, item := range prevRecord.Artifacts {
				data, err := os.ReadFile(item.Path)
				if err != nil {
					return fmt.Errorf("carry forward %s: %w", role, err)
				}
				dst := filepath.Join(stagingArtifacts, filepath.Base(item.Path))
				if err := os.WriteFile(dst, data, 0o644); err != nil {
					return fmt.Errorf("carry forward %s: %w", role, err)
				}
				record.Artifacts[role] = ArtifactRecord{
					Path:        filepath.Join(finalDir, filepath.Base(item.Path)),
					SHA256:      item.SHA256,
					SubmittedAt: s.stamp(),
				}
			}
		}
	}

	if err := os.Rename(stagingDir, filepath.Dir(finalDir)); err != nil {
		return fmt.Errorf("publish iteration %s: %w", nextKey, err)
	}

	st.CurrentIteration = next
	st.Iterations[nextKey] = record

	return s.AppendEvent(st.RunID, "iteration_started", map[string]any{
		"from_iteration": prev,
		"to_iteration":   next,
		"reason":         reason,
		"carry_forward":  carryForward,
	})
}
