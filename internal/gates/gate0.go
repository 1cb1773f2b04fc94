package gates

import (
	"sort"

	"github.com/tiger/filmgate/internal/config"
	"github.com/tiger/filmgate/internal/state"
)

// Gate0 checks model eligibility: the candidate with the highest weighted
// score must clear all three floor thresholds. Purely configuration-driven,
// no artifacts involved.
func Gate0(st *state.RunState, cfg config.Config) Report {
	if len(cfg.ModelCandidates) == 0 {
		return failReport("gate0", st.CurrentIteration, nil,
			"No model_candidates provided in config.",
			"Add at least one candidate with weighted_score/physics/human_fidelity/identity.")
	}

	ordered := make([]config.ModelCandidate, len(cfg.ModelCandidates))
	copy(ordered, cfg.ModelCandidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].WeightedScore > ordered[j].WeightedScore
	})
	selected := ordered[0]

	t := cfg.Thresholds
	floorsOK := selected.Physics >= t.Gate0PhysicsFloor &&
		selected.HumanFidelity >= t.Gate0HumanFidelityFloor &&
		selected.Identity >= t.Gate0IdentityFloor

	report := Report{
		Gate:      "gate0",
		Iteration: st.CurrentIteration,
		Passed:    floorsOK,
		Metrics: map[string]any{
			"selected_candidate":      selected.Name,
			"selected_weighted_score": selected.WeightedScore,
			"selected_physics":        selected.Physics,
			"selected_human_fidelity": selected.HumanFidelity,
			"selected_identity":       selected.Identity,
			"physics_floor":           t.Gate0PhysicsFloor,
			"human_fidelity_floor":    t.Gate0HumanFidelityFloor,
			"identity_floor":          t.Gate0IdentityFloor,
		},
		Reasons:         []string{},
		FixInstructions: []string{},
	}
	if !floorsOK {
		report.Reasons = append(report.Reasons,
			"Top weighted candidate does not meet minimum floors for physics/human fidelity/identity.")
		report.FixInstructions = append(report.FixInstructions,
			"Adjust candidate set or threshold floors before proceeding.")
	}
	return report
}
