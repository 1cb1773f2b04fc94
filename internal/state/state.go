// Package state persists one pipeline run: the state document, the
// per-iteration artifact records, the append-only event log, and the
// on-disk run layout. The store is the single writer; every mutation goes
// through Save so the document on disk is always a complete snapshot.
package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tiger/filmgate/api/preprod"
)

// ArtifactRecord points at one persisted artifact file.
type ArtifactRecord struct {
	Path        string `json:"path"`
	SHA256      string `json:"sha256"`
	SubmittedAt string `json:"submitted_at"`
}

// IterationRecord holds the artifacts submitted during one iteration.
type IterationRecord struct {
	Artifacts map[preprod.Role]ArtifactRecord `json:"artifacts"`
}

// NewIterationRecord returns an empty record with a non-nil artifact map.
func NewIterationRecord() IterationRecord {
	return IterationRecord{Artifacts: make(map[preprod.Role]ArtifactRecord)}
}

// Clone deep-copies the record so a new iteration can be staged without
// aliasing the previous one.
func (r IterationRecord) Clone() IterationRecord {
	out := NewIterationRecord()
	for role, rec := range r.Artifacts {
		out.Artifacts[role] = rec
	}
	return out
}

// RunState is the persistent document for one run.
type RunState struct {
	RunID       string `json:"run_id"`
	ProjectName string `json:"project_name"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	ConfigPath  string `json:"config_path"`
	ConfigHash  string `json:"config_hash"`

	CurrentState     preprod.State                 `json:"current_state"`
	CurrentIteration int                           `json:"current_iteration"`
	GateStatus       map[string]preprod.GateStatus `json:"gate_status"`
	RetryCounts      map[string]int                `json:"retry_counts"`

	LatestDirectionPackID    string `json:"latest_direction_pack_id,omitempty"`
	LatestImagePromptPackage string `json:"latest_image_prompt_package_id,omitempty"`
	LatestSelectedImagesID   string `json:"latest_selected_images_id,omitempty"`
	PreprodLockedIteration   int    `json:"preprod_locked_iteration,omitempty"`
	LockedSpecHash           string `json:"locked_spec_hash,omitempty"`

	Iterations map[string]IterationRecord `json:"iterations"`
}

// IterationKey formats the map key for an iteration number.
func IterationKey(iteration int) string {
	return fmt.Sprintf("iter-%02d", iteration)
}

// NewRunID builds a sortable, collision-resistant run identifier.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("run-%s-%s", now.UTC().Format("20060102-150405"), uuid.NewString()[:8])
}

// CurrentRecord returns the record for the current iteration, creating it
// if the document predates the iteration.
func (s *RunState) CurrentRecord() *IterationRecord {
	key := IterationKey(s.CurrentIteration)
	rec, ok := s.Iterations[key]
	if !ok {
		rec = NewIterationRecord()
		s.Iterations[key] = rec
	}
	if rec.Artifacts == nil {
		rec.Artifacts = make(map[preprod.Role]ArtifactRecord)
		s.Iterations[key] = rec
	}
	out := s.Iterations[key]
	return &out
}

// Artifact returns the record for a role in the current iteration.
func (s *RunState) Artifact(role preprod.Role) (ArtifactRecord, bool) {
	rec, ok := s.Iterations[IterationKey(s.CurrentIteration)]
	if !ok {
		return ArtifactRecord{}, false
	}
	a, ok := rec.Artifacts[role]
	return a, ok
}

// SetArtifact records an artifact for the current iteration.
func (s *RunState) SetArtifact(role preprod.Role, rec ArtifactRecord) {
	key := IterationKey(s.CurrentIteration)
	it, ok := s.Iterations[key]
	if !ok || it.Artifacts == nil {
		it = NewIterationRecord()
	}
	it.Artifacts[role] = rec
	s.Iterations[key] = it
}

func defaultGateStatus() map[string]preprod.GateStatus {
	out := make(map[string]preprod.GateStatus, len(preprod.GateNames))
	for _, gate := range preprod.GateNames {
		out[gate] = preprod.GatePending
	}
	return out
}

func defaultRetryCounts() map[string]int {
	return map[string]int{"gate1": 0, "gate2": 0, "gate3": 0}
}
