package gates

import (
	"fmt"
	"strings"

	"github.com/tiger/filmgate/api/preprod"
	"github.com/tiger/filmgate/internal/config"
	"github.com/tiger/filmgate/internal/continuity"
	"github.com/tiger/filmgate/internal/gates/storyqa"
	"github.com/tiger/filmgate/internal/ingest"
	"github.com/tiger/filmgate/internal/state"
)

// Gate1 is the script quality gate: structural completeness, duration
// window, speaker declarations, concept coverage, narrative coherence, the
// fourteen-criterion story QA scorer, and on retry iterations a continuity
// check against the story anchor. Render-friendliness issues are recorded
// as warnings unless strict mode turns them into blockers.
func Gate1(store *state.Store, st *state.RunState, cfg config.Config) Report {
	loaded, err := ingest.Load(st, preprod.RoleShowrunner)
	if err != nil {
		return failReport("gate1", st.CurrentIteration, nil,
			"Missing script artifact.",
			"Submit the showrunner script before running gate1.")
	}
	script, ok := loaded.(preprod.Script)
	if !ok {
		return failReport("gate1", st.CurrentIteration, nil,
			"Stored showrunner artifact is not a script.",
			"Resubmit the showrunner script.")
	}
	rec, _ := st.Artifact(preprod.RoleShowrunner)

	t := cfg.Thresholds
	var reasons, fixes, warnings []string

	duration := script.TotalDurationS()
	durationOK := duration >= t.DurationMinS && duration <= t.DurationMaxS
	if !durationOK {
		reasons = append(reasons, fmt.Sprintf("Estimated duration %.2fs is outside [%.0f, %.0f].", duration, t.DurationMinS, t.DurationMaxS))
		fixes = append(fixes, "Adjust line pacing so the estimated duration fits the target window.")
	}

	undeclared := undeclaredSpeakers(script)
	if len(undeclared) > 0 {
		reasons = append(reasons, fmt.Sprintf("Dialogue speakers not declared as characters: %s.", strings.Join(undeclared, ", ")))
		fixes = append(fixes, "Declare every dialogue speaker in the character list.")
	}

	placeholders := 0
	for _, line := range script.Lines {
		if hasPlaceholder(line.Text) {
			placeholders++
		}
	}
	if placeholders > 0 {
		reasons = append(reasons, fmt.Sprintf("%d lines still contain placeholder markers.", placeholders))
		fixes = append(fixes, "Replace TODO/TBD/template markers with final prose.")
	}

	if len(script.Lines) < t.MinLineCount {
		reasons = append(reasons, fmt.Sprintf("Script has %d lines, minimum is %d.", len(script.Lines), t.MinLineCount))
		fixes = append(fixes, "Expand the script to the minimum line count.")
	}

	actions, dialogues := countKinds(script)
	structureOK := true
	if strings.TrimSpace(script.Title) == "" || strings.TrimSpace(script.Logline) == "" || strings.TrimSpace(script.Theme) == "" {
		structureOK = false
		reasons = append(reasons, "Title, logline and theme must all be non-empty.")
		fixes = append(fixes, "Fill in the missing framing fields.")
	}
	if len(script.Locations) < 2 {
		structureOK = false
		reasons = append(reasons, "Script declares fewer than two locations.")
		fixes = append(fixes, "Declare at least two locations.")
	}
	if actions == 0 {
		structureOK = false
		reasons = append(reasons, "Script has no action lines.")
		fixes = append(fixes, "Add stage action so the film has something to show.")
	}
	if dialogues == 0 {
		structureOK = false
		reasons = append(reasons, "Script has no dialogue lines.")
		fixes = append(fixes, "Add dialogue so the film has something to say.")
	}

	coverage := conceptCoveragePct(script, cfg.CoreConcepts)
	if coverage < t.ConceptCoveragePct {
		reasons = append(reasons, fmt.Sprintf("Core concept coverage %.1f%% is below %.0f%%.", coverage, t.ConceptCoveragePct))
		fixes = append(fixes, "Work the missing core concepts into the script text.")
	}

	coherence := continuity.NarrativeCoherenceScore(script)
	if coherence < t.NarrativeCoherenceFloor {
		reasons = append(reasons, fmt.Sprintf("Narrative coherence %.1f is below floor %.0f.", coherence, t.NarrativeCoherenceFloor))
		fixes = append(fixes, "Reduce placeholders and chained actions; tighten scene structure.")
	}

	sceneIssues := sceneCoherenceIssues(script)
	if len(sceneIssues) > 0 {
		reasons = append(reasons, fmt.Sprintf("%d location changes lack a transition or movement marker.", len(sceneIssues)))
		fixes = append(fixes, "Explain each scene change with movement or an explicit transition.")
	}

	metrics := map[string]any{
		"estimated_duration_s":  round2(duration),
		"duration_ok":           durationOK,
		"undeclared_speakers":   len(undeclared),
		"placeholder_lines":     placeholders,
		"line_count":            len(script.Lines),
		"action_lines":          actions,
		"dialogue_lines":        dialogues,
		"structure_ok":          structureOK,
		"concept_coverage_pct":  round2(coverage),
		"narrative_coherence":   round2(coherence),
		"scene_coherence_flags": len(sceneIssues),
	}

	// Continuity against the anchor only applies on retries; iteration 1 is
	// the anchor's own source.
	if st.CurrentIteration > 1 {
		anchor, found, err := continuity.LoadAnchor(store, st)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("Story anchor could not be read: %v.", err))
			fixes = append(fixes, "Inspect the run directory for a damaged story_anchor.json.")
		} else if found {
			titleOK := !t.TitleLock || continuity.TitleMatches(anchor, script)
			charPct := continuity.CharacterConsistencyPct(anchor, script)
			beatPct := continuity.ScriptFaithfulnessPct(anchor, script)
			metrics["title_locked"] = titleOK
			metrics["character_consistency_pct"] = round2(charPct)
			metrics["beat_faithfulness_pct"] = round2(beatPct)

			if !titleOK {
				reasons = append(reasons, fmt.Sprintf("Title %q does not match locked anchor title %q.", script.Title, anchor.Title))
				fixes = append(fixes, "Restore the original title; title is locked after iteration 1.")
			}
			if charPct < t.CharacterConsistencyFloor {
				reasons = append(reasons, fmt.Sprintf("Character consistency %.1f%% is below floor %.0f%%.", charPct, t.CharacterConsistencyFloor))
				fixes = append(fixes, "Keep the canonical character set from the first accepted script.")
			}
			if beatPct < t.BeatFaithfulnessFloor {
				reasons = append(reasons, fmt.Sprintf("Beat faithfulness %.1f%% is below floor %.0f%%.", beatPct, t.BeatFaithfulnessFloor))
				fixes = append(fixes, "Preserve the must-keep beats from the anchor.")
			}
		}
	}

	qa := storyqa.Evaluate(script, rec.SHA256, st.CurrentIteration, t.StoryQAOverallFloor, t.MinStoryQACriterionScore)
	metrics["story_qa_overall"] = qa.OverallScore
	metrics["story_qa_passed"] = qa.Passed
	if !qa.Passed {
		reasons = append(reasons, fmt.Sprintf("Story QA overall %.1f with %d blocking issues.", qa.OverallScore, len(qa.BlockingIssues)))
		fixes = append(fixes, "Address the flagged story criteria before resubmitting.")
	}

	mavis := evaluateMAViS(script)
	metrics["multi_action_lines"] = mavis.MultiActionLines
	metrics["repeated_backdrops"] = mavis.RepeatedBackdrops
	metrics["tight_transitions"] = mavis.TightTransitions
	metrics["detail_heavy_lines"] = mavis.DetailHeavyLines
	warnings = append(warnings, mavis.Issues...)
	if t.StrictMAViS {
		type limit struct {
			name  string
			count int
			max   int
		}
		for _, l := range []limit{
			{"multi-action lines", mavis.MultiActionLines, t.MaxMultiActionLines},
			{"repeated backdrops", mavis.RepeatedBackdrops, t.MaxRepeatedBackgrounds},
			{"tight transitions", mavis.TightTransitions, t.MaxTightTransitions},
			{"detail-heavy lines", mavis.DetailHeavyLines, t.MaxDetailHeavyLines},
		} {
			if l.count > l.max {
				reasons = append(reasons, fmt.Sprintf("Strict mode: %d %s exceed limit %d.", l.count, l.name, l.max))
				fixes = append(fixes, fmt.Sprintf("Reduce %s to at most %d.", l.name, l.max))
			}
		}
	}

	if reasons == nil {
		reasons = []string{}
	}
	if fixes == nil {
		fixes = []string{}
	}
	return Report{
		Gate:            "gate1",
		Iteration:       st.CurrentIteration,
		Passed:          len(reasons) == 0,
		Metrics:         metrics,
		Reasons:         reasons,
		FixInstructions: fixes,
		Warnings:        warnings,
		StoryQA:         &qa,
	}
}
