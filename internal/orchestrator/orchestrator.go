// Package orchestrator is the single driver of the run lifecycle. It owns
// every state transition: artifact submissions advance the collection
// cursor through the ingest transition table, gate validations advance or
// roll the run back into a fresh iteration, and the pre-production lock
// fires exactly once. Gate evaluators stay read-only; this package is the
// only place a run document changes state.
package orchestrator

import (
	"errors"
	"fmt"

	"github.com/tiger/filmgate/api/preprod"
	"github.com/tiger/filmgate/internal/config"
	"github.com/tiger/filmgate/internal/continuity"
	"github.com/tiger/filmgate/internal/gates"
	"github.com/tiger/filmgate/internal/gates/storyqa"
	"github.com/tiger/filmgate/internal/ingest"
	"github.com/tiger/filmgate/internal/locks"
	"github.com/tiger/filmgate/internal/state"
)

// IllegalStateTransition rejects an operation requested in a state that does
// not permit it. The run document is left untouched; this is a usage error,
// never a recoverable pipeline outcome.
type IllegalStateTransition struct {
	Op    string
	State preprod.State
	Want  []preprod.State
}

func (e *IllegalStateTransition) Error() string {
	if len(e.Want) == 0 {
		return fmt.Sprintf("operation %q is not legal in state %s", e.Op, e.State)
	}
	return fmt.Sprintf("operation %q is not legal in state %s (requires %v)", e.Op, e.State, e.Want)
}

// IsIllegalStateTransition reports whether err is a state legality rejection.
func IsIllegalStateTransition(err error) bool {
	var illegal *IllegalStateTransition
	return errors.As(err, &illegal)
}

// Orchestrator binds a state store to one run configuration.
type Orchestrator struct {
	store *state.Store
	cfg   config.Config
}

// New returns an orchestrator over the given store and configuration.
func New(store *state.Store, cfg config.Config) *Orchestrator {
	return &Orchestrator{store: store, cfg: cfg}
}

// CreateRun starts a fresh run in INIT.
func (o *Orchestrator) CreateRun(configPath string) (*state.RunState, error) {
	return o.store.CreateRun(configPath, o.cfg)
}

// submitRoles lists the roles each state accepts. Submitting any other role
// is an IllegalStateTransition before a byte is written.
var submitRoles = map[preprod.State][]preprod.Role{
	preprod.StateCollectShowrunner:    {preprod.RoleShowrunner},
	preprod.StateCollectDirection:     {preprod.RoleDirection},
	preprod.StateCollectDanceMapping:  {preprod.RoleDanceMapping},
	preprod.StateCollectCinematograph: {preprod.RoleCinematograph},
	preprod.StateCollectAudio:         {preprod.RoleAudio},
	preprod.StateFinalRender:          {preprod.RoleDryRunMetrics, preprod.RoleFinalMetrics},
}

var gateLegalStates = map[string][]preprod.State{
	"gate0": {preprod.StateInit, preprod.StateGate0},
	"gate1": {preprod.StateGate1},
	"gate2": {preprod.StateGate2},
	"gate3": {preprod.StateGate3},
	"gate4": {preprod.StateFinalRender, preprod.StateGate4},
}

var gateAdvance = map[string]preprod.State{
	"gate1": preprod.StateCollectDirection,
	"gate2": preprod.StateCollectDanceMapping,
	"gate3": preprod.StateCollectCinematograph,
	"gate4": preprod.StateComplete,
}

// gateRollback maps a retryable gate to the collection state a new iteration
// resumes from, and whether the prior iteration's artifacts ride along.
var gateRollback = map[string]struct {
	state        preprod.State
	carryForward bool
}{
	"gate1": {preprod.StateCollectShowrunner, false},
	"gate2": {preprod.StateCollectDirection, true},
	"gate3": {preprod.StateCollectDanceMapping, true},
}

func legalState(current preprod.State, allowed []preprod.State) bool {
	for _, s := range allowed {
		if s == current {
			return true
		}
	}
	return false
}

// RunGate0 evaluates model eligibility against the configured candidates.
// Pass opens collection; fail is terminal, since no artifact can fix an
// ineligible model roster.
func (o *Orchestrator) RunGate0(st *state.RunState) (gates.Report, error) {
	if !legalState(st.CurrentState, gateLegalStates["gate0"]) {
		return gates.Report{}, &IllegalStateTransition{Op: "gate0", State: st.CurrentState, Want: gateLegalStates["gate0"]}
	}
	st.CurrentState = preprod.StateGate0

	report := gates.Gate0(st, o.cfg)
	if err := o.recordReport(st, report); err != nil {
		return gates.Report{}, err
	}

	if report.Passed {
		st.GateStatus["gate0"] = preprod.GatePassed
		st.CurrentState = preprod.StateCollectShowrunner
	} else {
		st.GateStatus["gate0"] = preprod.GateFailed
		st.CurrentState = preprod.StateFailed
	}
	if err := o.store.Save(st); err != nil {
		return gates.Report{}, err
	}
	return report, nil
}

// Submit runs the ingestion write path for one artifact after checking the
// role is legal in the current state. A showrunner submission in iteration 1
// freezes the story anchor; an audio submission triggers the pre-production
// lock and moves the run to FINAL_RENDER.
func (o *Orchestrator) Submit(st *state.RunState, role preprod.Role, raw []byte) (ingest.Result, error) {
	allowed, ok := submitRoles[st.CurrentState]
	if !ok || !roleAllowed(role, allowed) {
		return ingest.Result{}, &IllegalStateTransition{Op: "submit " + string(role), State: st.CurrentState}
	}

	result, err := ingest.Submit(o.store, st, role, raw)
	if err != nil {
		return ingest.Result{}, err
	}

	if role == preprod.RoleShowrunner && st.CurrentIteration == 1 {
		script, ok := result.Artifact.(preprod.Script)
		if !ok {
			return ingest.Result{}, fmt.Errorf("showrunner artifact decoded to unexpected type")
		}
		if _, err := continuity.EnsureAnchor(o.store, st, script, result.SHA256); err != nil {
			return ingest.Result{}, err
		}
	}

	if st.CurrentState == preprod.StateLockPreprod {
		manifest, err := locks.Build(o.store, st)
		if err != nil {
			return ingest.Result{}, fmt.Errorf("build lock manifest: %w", err)
		}
		err = o.store.AppendEvent(st.RunID, "preprod_locked", map[string]any{
			"iteration": st.PreprodLockedIteration,
			"spec_hash": manifest.SpecHash,
		})
		if err != nil {
			return ingest.Result{}, err
		}
		st.CurrentState = preprod.StateFinalRender
		result.NextState = st.CurrentState
	}

	if err := o.store.Save(st); err != nil {
		return ingest.Result{}, err
	}
	return result, nil
}

func roleAllowed(role preprod.Role, allowed []preprod.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// ValidateGate evaluates one of gates 1-4 and applies the outcome: advance
// on pass; on fail, spend a retry and roll back into a new iteration, or
// mark the run FAILED once the gate's retries are exhausted. Gate4 has no
// retries.
func (o *Orchestrator) ValidateGate(st *state.RunState, gate string) (gates.Report, error) {
	allowed, known := gateLegalStates[gate]
	if !known || gate == "gate0" {
		return gates.Report{}, fmt.Errorf("unknown gate %q", gate)
	}
	if !legalState(st.CurrentState, allowed) {
		return gates.Report{}, &IllegalStateTransition{Op: gate, State: st.CurrentState, Want: allowed}
	}

	var report gates.Report
	switch gate {
	case "gate1":
		report = gates.Gate1(o.store, st, o.cfg)
	case "gate2":
		report = gates.Gate2(o.store, st, o.cfg)
	case "gate3":
		report = gates.Gate3(o.store, st, o.cfg)
	case "gate4":
		st.CurrentState = preprod.StateGate4
		report = gates.Gate4(o.store, st, o.cfg)
	}

	if err := o.recordReport(st, report); err != nil {
		return gates.Report{}, err
	}

	if report.Passed {
		st.GateStatus[gate] = preprod.GatePassed
		st.CurrentState = gateAdvance[gate]
		if err := o.store.Save(st); err != nil {
			return gates.Report{}, err
		}
		return report, nil
	}

	st.GateStatus[gate] = preprod.GateFailed
	rollback, retryable := gateRollback[gate]
	if !retryable {
		st.CurrentState = preprod.StateFailed
		if err := o.store.Save(st); err != nil {
			return gates.Report{}, err
		}
		return report, nil
	}

	st.RetryCounts[gate]++
	if st.RetryCounts[gate] > o.cfg.RetryLimits.Limit(gate) {
		st.CurrentState = preprod.StateFailed
		if err := o.store.Save(st); err != nil {
			return gates.Report{}, err
		}
		return report, nil
	}

	reason := fmt.Sprintf("%s failed (retry %d of %d)", gate, st.RetryCounts[gate], o.cfg.RetryLimits.Limit(gate))
	if err := o.store.StartNextIteration(st, reason, rollback.carryForward); err != nil {
		return gates.Report{}, err
	}
	st.GateStatus[gate] = preprod.GatePending
	st.CurrentState = rollback.state
	if err := o.store.Save(st); err != nil {
		return gates.Report{}, err
	}
	return report, nil
}

func (o *Orchestrator) recordReport(st *state.RunState, report gates.Report) error {
	path, err := gates.WriteReport(o.store, st.RunID, report)
	if err != nil {
		return err
	}
	return o.store.AppendEvent(st.RunID, "gate_validated", map[string]any{
		"gate":      report.Gate,
		"iteration": report.Iteration,
		"passed":    report.Passed,
		"report":    path,
	})
}

// StoryQA runs the fourteen-criterion story scorer standalone, outside any
// gate decision, and persists the result beside the script artifact. It is
// legal whenever the current iteration has a script.
func (o *Orchestrator) StoryQA(st *state.RunState) (storyqa.Result, error) {
	loaded, err := ingest.Load(st, preprod.RoleShowrunner)
	if err != nil {
		return storyqa.Result{}, fmt.Errorf("story QA needs a script: %w", err)
	}
	script, ok := loaded.(preprod.Script)
	if !ok {
		return storyqa.Result{}, fmt.Errorf("showrunner artifact decoded to unexpected type")
	}
	rec, _ := st.Artifact(preprod.RoleShowrunner)

	t := o.cfg.Thresholds
	result := storyqa.Evaluate(script, rec.SHA256, st.CurrentIteration, t.StoryQAOverallFloor, t.MinStoryQACriterionScore)

	path, err := storyqa.WriteResult(o.store, st, result)
	if err != nil {
		return storyqa.Result{}, err
	}
	err = o.store.AppendEvent(st.RunID, "story_qa_evaluated", map[string]any{
		"iteration": st.CurrentIteration,
		"overall":   result.OverallScore,
		"passed":    result.Passed,
		"report":    path,
	})
	if err != nil {
		return storyqa.Result{}, err
	}
	return result, nil
}

// Status is a read-only snapshot of a run for operator display.
type Status struct {
	RunID                  string                        `json:"run_id"`
	ProjectName            string                        `json:"project_name"`
	State                  preprod.State                 `json:"state"`
	Iteration              int                           `json:"iteration"`
	GateStatus             map[string]preprod.GateStatus `json:"gate_status"`
	RetryCounts            map[string]int                `json:"retry_counts"`
	SubmittedRoles         []preprod.Role                `json:"submitted_roles"`
	MissingRoles           []preprod.Role                `json:"missing_roles"`
	LatestDirectionPack    string                        `json:"latest_direction_pack_id,omitempty"`
	LatestImagePromptPack  string                        `json:"latest_image_prompt_package_id,omitempty"`
	LatestSelectedImages   string                        `json:"latest_selected_images_id,omitempty"`
	PreprodLockedIteration int                           `json:"preprod_locked_iteration,omitempty"`
	LockedSpecHash         string                        `json:"locked_spec_hash,omitempty"`
}

// Status summarizes the run document without mutating it.
func (o *Orchestrator) Status(st *state.RunState) Status {
	var submitted []preprod.Role
	for _, role := range preprod.Roles {
		if _, ok := st.Artifact(role); ok {
			submitted = append(submitted, role)
		}
	}
	return Status{
		RunID:                  st.RunID,
		ProjectName:            st.ProjectName,
		State:                  st.CurrentState,
		Iteration:              st.CurrentIteration,
		GateStatus:             st.GateStatus,
		RetryCounts:            st.RetryCounts,
		SubmittedRoles:         submitted,
		MissingRoles:           ingest.Missing(st),
		LatestDirectionPack:    st.LatestDirectionPackID,
		LatestImagePromptPack:  st.LatestImagePromptPackage,
		LatestSelectedImages:   st.LatestSelectedImagesID,
		PreprodLockedIteration: st.PreprodLockedIteration,
		LockedSpecHash:         st.LockedSpecHash,
	}
}
