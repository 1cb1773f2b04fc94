// Package ingest is the artifact write path: validate, check referential
// integrity against the run's identity pointers, persist the canonical
// bytes, record the content hash, and advance the collection cursor. An
// artifact that fails any check leaves the run untouched.
package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tiger/filmgate/api/preprod"
	"github.com/tiger/filmgate/internal/artifacts"
	"github.com/tiger/filmgate/internal/hashing"
	"github.com/tiger/filmgate/internal/state"
)

// ReferentialIntegrityError reports an artifact that references a stale or
// missing identity pointer. The payload is rejected before persistence and
// can be resubmitted with the corrected reference.
type ReferentialIntegrityError struct {
	Role   preprod.Role
	Field  string
	Want   string
	Got    string
	Detail string
}

func (e *ReferentialIntegrityError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("artifact for role %q: %s", e.Role, e.Detail)
	}
	return fmt.Sprintf("artifact for role %q: %s must match %s, got %s", e.Role, e.Field, e.Want, e.Got)
}

// IsReferentialIntegrityError reports whether err is a stale-pointer
// rejection.
func IsReferentialIntegrityError(err error) bool {
	var refErr *ReferentialIntegrityError
	return errors.As(err, &refErr)
}

// Result describes a persisted submission.
type Result struct {
	Role   preprod.Role
	Path   string
	SHA256 string
	// Artifact is the validated typed payload.
	Artifact any
	// NextState is the collection state after the submission transition.
	NextState preprod.State
}

// Submit runs the full write path for one artifact. The caller has already
// verified the role is legal for the run's current state and persists the
// mutated document afterwards.
func Submit(store *state.Store, st *state.RunState, role preprod.Role, raw []byte) (Result, error) {
	artifact, err := artifacts.Validate(role, raw)
	if err != nil {
		return Result{}, err
	}

	if err := checkIntegrity(st, role, artifact); err != nil {
		return Result{}, err
	}

	canonical, err := hashing.CanonicalJSON(artifact)
	if err != nil {
		return Result{}, fmt.Errorf("canonicalize %s artifact: %w", role, err)
	}

	filename, err := artifacts.Filename(role)
	if err != nil {
		return Result{}, err
	}
	target := filepath.Join(store.ArtifactDir(st.RunID, st.CurrentIteration), filename)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Result{}, fmt.Errorf("persist %s artifact: %w", role, err)
	}
	if err := os.WriteFile(target, append(canonical, '\n'), 0o644); err != nil {
		return Result{}, fmt.Errorf("persist %s artifact: %w", role, err)
	}

	checksum, err := hashing.SHA256File(target)
	if err != nil {
		return Result{}, err
	}
	st.SetArtifact(role, state.ArtifactRecord{
		Path:        target,
		SHA256:      checksum,
		SubmittedAt: store.Now().UTC().Format(time.RFC3339),
	})

	if err := updatePointers(st, role, artifact); err != nil {
		return Result{}, err
	}

	err = store.AppendEvent(st.RunID, "artifact_submitted", map[string]any{
		"iteration": st.CurrentIteration,
		"role":      string(role),
		"path":      target,
		"sha256":    checksum,
	})
	if err != nil {
		return Result{}, err
	}

	applyTransition(st, role)

	return Result{
		Role:      role,
		Path:      target,
		SHA256:    checksum,
		Artifact:  artifact,
		NextState: st.CurrentState,
	}, nil
}

func checkIntegrity(st *state.RunState, role preprod.Role, artifact any) error {
	switch pkg := artifact.(type) {
	case preprod.ImagePromptPackage:
		if st.LatestDirectionPackID == "" {
			return &ReferentialIntegrityError{Role: role, Detail: "a script review must be approved before an image prompt package"}
		}
		if pkg.ScriptReviewID != st.LatestDirectionPackID {
			return &ReferentialIntegrityError{
				Role: role, Field: "script_review_id",
				Want: st.LatestDirectionPackID, Got: pkg.ScriptReviewID,
			}
		}
	case preprod.SelectedImages:
		if st.LatestImagePromptPackage == "" {
			return &ReferentialIntegrityError{Role: role, Detail: "an image prompt package must exist before selected images"}
		}
		if pkg.ImagePromptPackageID != st.LatestImagePromptPackage {
			return &ReferentialIntegrityError{
				Role: role, Field: "image_prompt_package_id",
				Want: st.LatestImagePromptPackage, Got: pkg.ImagePromptPackageID,
			}
		}
	case preprod.AVPromptPackage:
		if st.LatestImagePromptPackage == "" || st.LatestSelectedImagesID == "" {
			return &ReferentialIntegrityError{Role: role, Detail: "image prompt package and selected images must exist before AV prompts"}
		}
		if pkg.ImagePromptPackageID != st.LatestImagePromptPackage {
			return &ReferentialIntegrityError{
				Role: role, Field: "image_prompt_package_id",
				Want: st.LatestImagePromptPackage, Got: pkg.ImagePromptPackageID,
			}
		}
		if pkg.SelectedImagesID != st.LatestSelectedImagesID {
			return &ReferentialIntegrityError{
				Role: role, Field: "selected_images_id",
				Want: st.LatestSelectedImagesID, Got: pkg.SelectedImagesID,
			}
		}
	}
	return nil
}

// updatePointers makes identity pointers content-addressed: the pointer for
// a stage is the canonical hash of the artifact that defined it.
func updatePointers(st *state.RunState, role preprod.Role, artifact any) error {
	switch role {
	case preprod.RoleDirection, preprod.RoleDanceMapping, preprod.RoleCinematograph:
	default:
		return nil
	}
	id, err := hashing.SHA256JSON(artifact)
	if err != nil {
		return fmt.Errorf("derive %s identity: %w", role, err)
	}
	switch role {
	case preprod.RoleDirection:
		st.LatestDirectionPackID = id
	case preprod.RoleDanceMapping:
		st.LatestImagePromptPackage = id
	case preprod.RoleCinematograph:
		st.LatestSelectedImagesID = id
	}
	return nil
}

var submitTransitions = map[preprod.State]map[preprod.Role]preprod.State{
	preprod.StateCollectShowrunner:    {preprod.RoleShowrunner: preprod.StateGate1},
	preprod.StateCollectDirection:     {preprod.RoleDirection: preprod.StateGate2},
	preprod.StateCollectDanceMapping:  {preprod.RoleDanceMapping: preprod.StateGate3},
	preprod.StateCollectCinematograph: {preprod.RoleCinematograph: preprod.StateCollectAudio},
	preprod.StateCollectAudio:         {preprod.RoleAudio: preprod.StateLockPreprod},
}

func applyTransition(st *state.RunState, role preprod.Role) {
	if next, ok := submitTransitions[st.CurrentState][role]; ok {
		st.CurrentState = next
	}
}

// Missing lists the pre-production roles that have no artifact in the
// current iteration, in pipeline order.
func Missing(st *state.RunState) []preprod.Role {
	var missing []preprod.Role
	for _, role := range preprod.PreprodRoles {
		if _, ok := st.Artifact(role); !ok {
			missing = append(missing, role)
		}
	}
	return missing
}

// Load reads back the current iteration's artifact for a role, re-running
// full validation so a tampered file is caught at read time.
func Load(st *state.RunState, role preprod.Role) (any, error) {
	rec, ok := st.Artifact(role)
	if !ok {
		return nil, fmt.Errorf("no %s artifact in %s", role, state.IterationKey(st.CurrentIteration))
	}
	raw, err := os.ReadFile(rec.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s artifact: %w", role, err)
	}
	return artifacts.Validate(role, raw)
}
