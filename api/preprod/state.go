// Package preprod defines the wire contracts for the gated pre-production
// pipeline: run lifecycle states, agent roles, artifact payloads, and gate
// reports. Artifacts are validated once at the ingestion boundary; everything
// downstream consumes only these typed records.
package preprod

// State is a run lifecycle state. The collection states interleave with their
// gates: submitting an artifact moves the cursor forward, validating a gate
// either advances or rolls the cursor back to an earlier collection state.
type State string

const (
	StateInit                 State = "INIT"
	StateGate0                State = "GATE0"
	StateCollectShowrunner    State = "COLLECT_SHOWRUNNER"
	StateCollectDirection     State = "COLLECT_DIRECTION"
	StateCollectDanceMapping  State = "COLLECT_DANCE_MAPPING"
	StateCollectCinematograph State = "COLLECT_CINEMATOGRAPHY"
	StateCollectAudio         State = "COLLECT_AUDIO"
	StateLockPreprod          State = "LOCK_PREPROD"
	StateGate1                State = "GATE1"
	StateGate2                State = "GATE2"
	StateGate3                State = "GATE3"
	StateDryRun               State = "DRYRUN"
	StateFinalRender          State = "FINAL_RENDER"
	StateGate4                State = "GATE4"
	StateComplete             State = "COMPLETE"
	StateFailed               State = "FAILED"
)

// IsTerminal reports whether no further operation can move the run.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

// Role names the pipeline agent that produces an artifact.
type Role string

const (
	RoleShowrunner    Role = "showrunner"
	RoleDirection     Role = "direction"
	RoleDanceMapping  Role = "dance_mapping"
	RoleCinematograph Role = "cinematography"
	RoleAudio         Role = "audio"
	RoleDryRunMetrics Role = "dryrun_metrics"
	RoleFinalMetrics  Role = "final_metrics"
)

// Roles lists every submittable role in pipeline order.
var Roles = []Role{
	RoleShowrunner,
	RoleDirection,
	RoleDanceMapping,
	RoleCinematograph,
	RoleAudio,
	RoleDryRunMetrics,
	RoleFinalMetrics,
}

// PreprodRoles lists the roles whose artifacts are frozen by the lock manifest.
var PreprodRoles = []Role{
	RoleShowrunner,
	RoleDirection,
	RoleDanceMapping,
	RoleCinematograph,
	RoleAudio,
}

// GateNames lists every gate in validation order.
var GateNames = []string{"gate0", "gate1", "gate2", "gate3", "gate4"}

// GateStatus is the per-gate progress marker stored on the run.
type GateStatus string

const (
	GatePending GateStatus = "pending"
	GatePassed  GateStatus = "passed"
	GateFailed  GateStatus = "failed"
)
