package gates

import (
	"fmt"
	"strings"

	"github.com/tiger/filmgate/api/preprod"
	"github.com/tiger/filmgate/internal/config"
	"github.com/tiger/filmgate/internal/continuity"
	"github.com/tiger/filmgate/internal/gates/cinemaqa"
	"github.com/tiger/filmgate/internal/gates/refqa"
	"github.com/tiger/filmgate/internal/ingest"
	"github.com/tiger/filmgate/internal/state"
)

// Gate3 validates the image prompt package: structural shot checks, the
// style anchor's quality score, the pointer back to the approved review, the
// eight-gate cinematography QA scorer, and — when a reference library is
// configured — the library QA gates.
func Gate3(store *state.Store, st *state.RunState, cfg config.Config) Report {
	loadedScript, err := ingest.Load(st, preprod.RoleShowrunner)
	if err != nil {
		return failReport("gate3", st.CurrentIteration, nil,
			"Missing script artifact.",
			"Submit the showrunner script before running gate3.")
	}
	loadedPkg, err := ingest.Load(st, preprod.RoleDanceMapping)
	if err != nil {
		return failReport("gate3", st.CurrentIteration, nil,
			"Missing image prompt package artifact.",
			"Submit the dance-mapping package before running gate3.")
	}
	script, _ := loadedScript.(preprod.Script)
	pkg, ok := loadedPkg.(preprod.ImagePromptPackage)
	if !ok {
		return failReport("gate3", st.CurrentIteration, nil,
			"Stored dance-mapping artifact is not an image prompt package.",
			"Resubmit the image prompt package.")
	}
	scriptRec, _ := st.Artifact(preprod.RoleShowrunner)

	t := cfg.Thresholds
	var reasons, fixes, warnings []string

	shotCount := len(pkg.ImagePrompts)
	if shotCount < 3 || shotCount > 10 {
		reasons = append(reasons, fmt.Sprintf("Shot count %d is outside [3, 10].", shotCount))
		fixes = append(fixes, "Plan between 3 and 10 shots.")
	}

	seen := make(map[string]bool, shotCount)
	duplicates := 0
	shortPrompts := 0
	missingNegatives := 0
	for _, shot := range pkg.ImagePrompts {
		if seen[shot.ShotID] {
			duplicates++
		}
		seen[shot.ShotID] = true
		if len(strings.TrimSpace(shot.ImagePrompt)) < 24 {
			shortPrompts++
		}
		if strings.TrimSpace(shot.NegativePrompt) == "" {
			missingNegatives++
		}
	}
	if duplicates > 0 {
		reasons = append(reasons, fmt.Sprintf("%d duplicate shot ids.", duplicates))
		fixes = append(fixes, "Give every shot a unique id.")
	}
	if shortPrompts > 0 {
		reasons = append(reasons, fmt.Sprintf("%d prompts are under 24 characters.", shortPrompts))
		fixes = append(fixes, "Describe each shot concretely enough to render.")
	}
	if missingNegatives > 0 {
		reasons = append(reasons, fmt.Sprintf("%d prompts missing a negative constraint.", missingNegatives))
		fixes = append(fixes, "Add a negative prompt to every shot.")
	}

	styleQuality := continuity.StyleAnchorQualityScore(pkg.StyleAnchor)
	if strings.TrimSpace(pkg.StyleAnchor) == "" || styleQuality < t.StyleAnchorQualityFloor {
		reasons = append(reasons, fmt.Sprintf("Style anchor quality %.1f is below floor %.0f.", styleQuality, t.StyleAnchorQualityFloor))
		fixes = append(fixes, "Write a more specific, varied style anchor phrase.")
	}

	reviewMatch := pkg.ScriptReviewID == st.LatestDirectionPackID
	if !reviewMatch {
		reasons = append(reasons, "Package references a stale script review id.")
		fixes = append(fixes, "Rebuild the package against the latest approved review.")
	}

	qa := cinemaqa.Evaluate(script, pkg, scriptRec.SHA256, st.CurrentIteration, cfg)
	if !qa.Passed {
		reasons = append(reasons, fmt.Sprintf("Cinematography QA passed %d/8 gates with overall %.1f.", qa.GatesPassed, qa.OverallScore))
		fixes = append(fixes, "Address the failing cinematography gates before resubmitting.")
	}

	metrics := map[string]any{
		"shot_count":            shotCount,
		"duplicate_shot_ids":    duplicates,
		"short_prompts":         shortPrompts,
		"missing_negatives":     missingNegatives,
		"style_anchor_quality":  round2(styleQuality),
		"review_pointer_match":  reviewMatch,
		"cinema_qa_gates":       qa.GatesPassed,
		"cinema_qa_overall":     qa.OverallScore,
		"character_identity":    qa.CharacterIdentityScore,
		"reference_identity":    qa.ReferenceIdentityScore,
	}

	report := Report{
		Gate:      "gate3",
		Iteration: st.CurrentIteration,
		Metrics:   metrics,
		CinemaQA:  &qa,
	}

	if cfg.ReferenceLibrary.Enabled {
		lib, status, err := refqa.Load(cfg.ReferenceLibrary)
		metrics["reference_library_status"] = string(status)
		switch status {
		case refqa.StatusOK:
			refResult := refqa.Evaluate(lib)
			report.RefQA = &refResult
			metrics["reference_qa_gates"] = refResult.GatesPassed
			if !refResult.Passed {
				reasons = append(reasons, fmt.Sprintf("Reference library QA passed %d/6 gates.", refResult.GatesPassed))
				fixes = append(fixes, "Repair the reference library before resubmitting.")
			}
		case refqa.StatusUnavailable:
			warnings = append(warnings, "Reference library enabled but unavailable; library gates skipped.")
		case refqa.StatusError:
			reasons = append(reasons, fmt.Sprintf("Reference library could not be loaded: %v.", err))
			fixes = append(fixes, "Fix the reference library files or disable the library.")
		}
	}

	if reasons == nil {
		reasons = []string{}
	}
	if fixes == nil {
		fixes = []string{}
	}
	report.Passed = len(reasons) == 0
	report.Reasons = reasons
	report.FixInstructions = fixes
	report.Warnings = warnings
	return report
}
