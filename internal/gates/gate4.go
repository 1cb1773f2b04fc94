package gates

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tiger/filmgate/api/preprod"
	"github.com/tiger/filmgate/internal/config"
	"github.com/tiger/filmgate/internal/continuity"
	"github.com/tiger/filmgate/internal/ingest"
	"github.com/tiger/filmgate/internal/locks"
	"github.com/tiger/filmgate/internal/state"
)

// Gate4 is final acceptance: the lock manifest must still hold, every
// rendered artifact must trace back to the locked plan, the external render
// metrics must clear their floors without regressing past the dry run, and
// the weighted final scorecard must clear its floor.
func Gate4(store *state.Store, st *state.RunState, cfg config.Config) Report {
	script, scriptOK := loadAs[preprod.Script](st, preprod.RoleShowrunner)
	pkg, pkgOK := loadAs[preprod.ImagePromptPackage](st, preprod.RoleDanceMapping)
	selected, selectedOK := loadAs[preprod.SelectedImages](st, preprod.RoleCinematograph)
	av, avOK := loadAs[preprod.AVPromptPackage](st, preprod.RoleAudio)
	final, finalOK := loadAs[preprod.FinalMetrics](st, preprod.RoleFinalMetrics)
	dryrun, dryrunOK := loadAs[preprod.DryRunMetrics](st, preprod.RoleDryRunMetrics)

	if !scriptOK || !pkgOK || !selectedOK || !avOK || !finalOK {
		return failReport("gate4", st.CurrentIteration, nil,
			"Missing one or more required artifacts for final acceptance.",
			"Submit the pre-production set plus final_metrics before running gate4.")
	}

	t := cfg.Thresholds
	var reasons, fixes, warnings []string

	lockOK := false
	if st.PreprodLockedIteration == 0 {
		reasons = append(reasons, "Pre-production was never locked.")
		fixes = append(fixes, "Complete the collection states so the lock manifest is built.")
	} else if err := locks.Verify(store, st); err != nil {
		reasons = append(reasons, fmt.Sprintf("Lock verification failed: %v.", err))
		fixes = append(fixes, "Artifacts drifted after locking; start a new run.")
	} else {
		lockOK = true
	}

	if final.SpecHash != st.LockedSpecHash {
		reasons = append(reasons, "Final metrics spec hash does not match the lock.")
		fixes = append(fixes, "Render against the locked spec and report its hash.")
	}
	if !final.OneShotRender {
		reasons = append(reasons, "Final render is not flagged one-shot.")
		fixes = append(fixes, "Re-render in a single pass; stitched renders are not accepted.")
	}

	promptIDs := make(map[string]bool, len(pkg.ImagePrompts))
	for _, shot := range pkg.ImagePrompts {
		promptIDs[shot.ShotID] = true
	}
	selectedHits := 0
	for _, id := range selected.ShotIDs() {
		if promptIDs[id] {
			selectedHits++
		}
	}
	selectedCoverage := 0.0
	if len(selected.Images) > 0 {
		selectedCoverage = float64(selectedHits) / float64(len(selected.Images)) * 100
	}
	if selectedCoverage < 100 {
		reasons = append(reasons, fmt.Sprintf("Selected images cover %.1f%% of declared prompt shots.", selectedCoverage))
		fixes = append(fixes, "Select images only for shots declared in the prompt package.")
	}

	selectedIDs := make(map[string]bool, len(selected.Images))
	for _, id := range selected.ShotIDs() {
		selectedIDs[id] = true
	}
	avCoverage := 0.0
	if len(selectedIDs) > 0 {
		covered := make(map[string]bool)
		for _, id := range av.ShotIDs() {
			if selectedIDs[id] {
				covered[id] = true
			}
		}
		avCoverage = float64(len(covered)) / float64(len(selectedIDs)) * 100
	}
	if avCoverage < 100 {
		reasons = append(reasons, fmt.Sprintf("AV package covers %.1f%% of selected shots.", avCoverage))
		fixes = append(fixes, "Write AV prompts for every selected shot.")
	}
	if av.ImagePromptPackageID != st.LatestImagePromptPackage || av.SelectedImagesID != st.LatestSelectedImagesID {
		reasons = append(reasons, "AV package references stale identity pointers.")
		fixes = append(fixes, "Rebuild the AV package against the current prompt package and selection.")
	}

	if final.VideoScore2 < t.VideoScore2Threshold {
		reasons = append(reasons, fmt.Sprintf("Final video score %.3f is below threshold %.2f.", final.VideoScore2, t.VideoScore2Threshold))
		fixes = append(fixes, "Tune render settings and start a new run.")
	}
	if final.VBench2Physics < t.VBench2PhysicsFloor {
		reasons = append(reasons, fmt.Sprintf("Final physics score %.3f is below floor %.2f.", final.VBench2Physics, t.VBench2PhysicsFloor))
		fixes = append(fixes, "Reduce implausible motion before rendering again.")
	}
	if final.IdentityDrift > t.IdentityDriftCeiling {
		reasons = append(reasons, fmt.Sprintf("Identity drift %.3f exceeds ceiling %.2f.", final.IdentityDrift, t.IdentityDriftCeiling))
		fixes = append(fixes, "Strengthen identity continuity in the prompts.")
	}

	videoRegression := 0.0
	physicsRegression := 0.0
	if dryrunOK {
		videoRegression = dryrun.VideoScore2 - final.VideoScore2
		physicsRegression = dryrun.VBench2Physics - final.VBench2Physics
		if videoRegression > t.RegressionEpsilon || physicsRegression > t.RegressionEpsilon {
			reasons = append(reasons, fmt.Sprintf("Final metrics regressed beyond epsilon %.2f versus the dry run.", t.RegressionEpsilon))
			fixes = append(fixes, "Investigate settings drift between dry run and final render.")
		}
	} else {
		warnings = append(warnings, "No dry-run metrics submitted; regression check skipped.")
	}

	styleQuality := continuity.StyleAnchorQualityScore(pkg.StyleAnchor)
	if styleQuality < t.StyleAnchorQualityFloor {
		reasons = append(reasons, fmt.Sprintf("Style anchor quality %.1f is below floor %.0f.", styleQuality, t.StyleAnchorQualityFloor))
		fixes = append(fixes, "Improve the style anchor before final acceptance.")
	}

	anchor, found, err := continuity.LoadAnchor(store, st)
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("Story anchor could not be read: %v.", err))
		fixes = append(fixes, "Inspect the run directory for a damaged story_anchor.json.")
	} else if found {
		if t.TitleLock && !continuity.TitleMatches(anchor, script) {
			reasons = append(reasons, "Final script title does not match the locked anchor.")
			fixes = append(fixes, "Restore the locked title.")
		}
		if pct := continuity.CharacterConsistencyPct(anchor, script); pct < t.CharacterConsistencyFloor {
			reasons = append(reasons, fmt.Sprintf("Final character consistency %.1f%% is below floor %.0f%%.", pct, t.CharacterConsistencyFloor))
			fixes = append(fixes, "Keep the canonical character set.")
		}
		if pct := continuity.ScriptFaithfulnessPct(anchor, script); pct < t.BeatFaithfulnessFloor {
			reasons = append(reasons, fmt.Sprintf("Final beat faithfulness %.1f%% is below floor %.0f%%.", pct, t.BeatFaithfulnessFloor))
			fixes = append(fixes, "Preserve the anchor's must-keep beats.")
		}
		if score := continuity.NarrativeCoherenceScore(script); score < t.NarrativeCoherenceFloor {
			reasons = append(reasons, fmt.Sprintf("Final narrative coherence %.1f is below floor %.0f.", score, t.NarrativeCoherenceFloor))
			fixes = append(fixes, "Tighten the final script's structure.")
		}
	}

	scorecard := buildScorecard(
		selectedCoverage,
		avCoverage,
		final.VideoScore2*100,
		(1-final.IdentityDrift)*100,
		final.AudioSyncScore,
	)
	if scorecard.FinalScore < t.FinalScoreFloor {
		reasons = append(reasons, fmt.Sprintf("Final score %.1f is below floor %.0f.", scorecard.FinalScore, t.FinalScoreFloor))
		fixes = append(fixes, "Raise coverage or render quality; see the scorecard breakdown.")
	}

	warnings = append(warnings, identityChecklist(script, av, cfg)...)

	if reasons == nil {
		reasons = []string{}
	}
	if fixes == nil {
		fixes = []string{}
	}
	return Report{
		Gate:      "gate4",
		Iteration: st.CurrentIteration,
		Passed:    len(reasons) == 0,
		Metrics: map[string]any{
			"lock_verified":        lockOK,
			"one_shot_render":      final.OneShotRender,
			"selected_coverage":    round2(selectedCoverage),
			"av_coverage":          round2(avCoverage),
			"videoscore2":          final.VideoScore2,
			"vbench2_physics":      final.VBench2Physics,
			"identity_drift":       final.IdentityDrift,
			"video_regression":     round2(videoRegression),
			"physics_regression":   round2(physicsRegression),
			"style_anchor_quality": round2(styleQuality),
			"final_score":          scorecard.FinalScore,
		},
		Reasons:         reasons,
		FixInstructions: fixes,
		Warnings:        warnings,
		Scorecard:       &scorecard,
	}
}

func loadAs[T any](st *state.RunState, role preprod.Role) (T, bool) {
	var zero T
	loaded, err := ingest.Load(st, role)
	if err != nil {
		return zero, false
	}
	value, ok := loaded.(T)
	if !ok {
		return zero, false
	}
	return value, true
}

// identityChecklist emits the manual verification list: which characters
// appear in which AV shots, and which configured reference identities should
// be checked frame by frame. Informational only.
func identityChecklist(script preprod.Script, av preprod.AVPromptPackage, cfg config.Config) []string {
	mentions := make(map[string][]string)
	for _, shot := range av.Shots {
		text := strings.ToLower(shot.VideoPrompt + " " + shot.TTSText)
		for _, character := range script.Characters {
			if strings.Contains(text, strings.ToLower(character)) {
				mentions[character] = append(mentions[character], shot.ShotID)
			}
		}
	}

	names := make([]string, 0, len(mentions))
	for name := range mentions {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		out = append(out, fmt.Sprintf("verify identity of %s across shots %s", name, strings.Join(mentions[name], ", ")))
	}
	for _, ref := range cfg.ReferenceImages {
		out = append(out, fmt.Sprintf("compare %s against reference image %s", ref.Character, ref.Path))
	}
	return out
}
