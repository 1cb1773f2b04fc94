package gates

import (
	"fmt"
	"strings"

	"github.com/tiger/filmgate/api/preprod"
	"github.com/tiger/filmgate/internal/config"
	"github.com/tiger/filmgate/internal/ingest"
	"github.com/tiger/filmgate/internal/state"
)

// Gate2 is the script-review gate: every declared character must be approved,
// nothing may be left unresolved, and the story facts must be locked.
func Gate2(store *state.Store, st *state.RunState, cfg config.Config) Report {
	loadedScript, err := ingest.Load(st, preprod.RoleShowrunner)
	if err != nil {
		return failReport("gate2", st.CurrentIteration, nil,
			"Missing script artifact.",
			"Submit the showrunner script before running gate2.")
	}
	loadedReview, err := ingest.Load(st, preprod.RoleDirection)
	if err != nil {
		return failReport("gate2", st.CurrentIteration, nil,
			"Missing script review artifact.",
			"Submit the direction review before running gate2.")
	}
	script, _ := loadedScript.(preprod.Script)
	review, ok := loadedReview.(preprod.ScriptReview)
	if !ok {
		return failReport("gate2", st.CurrentIteration, nil,
			"Stored direction artifact is not a script review.",
			"Resubmit the direction review.")
	}

	var reasons, fixes []string

	// Approved entries may be bare names or "Name: description".
	approved := make(map[string]bool, len(review.ApprovedCharacters))
	for _, entry := range review.ApprovedCharacters {
		name := entry
		if idx := strings.Index(entry, ":"); idx >= 0 {
			name = entry[:idx]
		}
		approved[strings.ToLower(strings.TrimSpace(name))] = true
	}

	var unapproved []string
	for _, character := range script.Characters {
		if !approved[strings.ToLower(strings.TrimSpace(character))] {
			unapproved = append(unapproved, character)
		}
	}
	registryPct := 100.0
	if len(script.Characters) > 0 {
		registryPct = float64(len(script.Characters)-len(unapproved)) / float64(len(script.Characters)) * 100
	}
	if len(unapproved) > 0 {
		reasons = append(reasons, fmt.Sprintf("Characters missing from the approved registry: %s.", strings.Join(unapproved, ", ")))
		fixes = append(fixes, "Approve or rename every declared character in the review.")
	}

	if len(review.UnresolvedItems) > 0 {
		reasons = append(reasons, fmt.Sprintf("Review lists %d unresolved items.", len(review.UnresolvedItems)))
		fixes = append(fixes, "Resolve every open item before locking story facts.")
	}

	notesDirty := hasPlaceholder(review.Notes) || strings.Contains(review.Notes, "??")
	if notesDirty {
		reasons = append(reasons, "Review notes still contain TODO/TBD/?? markers.")
		fixes = append(fixes, "Clean up the review notes.")
	}

	if !review.LockStoryFacts {
		reasons = append(reasons, "Story facts are not locked (lock_story_facts is false).")
		fixes = append(fixes, "Set lock_story_facts once the review is final.")
	}

	hashHintOK := true
	if hint := strings.TrimSpace(review.ScriptHash); hint != "" && len(hint) < 8 {
		hashHintOK = false
		reasons = append(reasons, "Script hash hint is too short to identify a script.")
		fixes = append(fixes, "Use at least 8 characters of the script hash, or omit it.")
	}

	if reasons == nil {
		reasons = []string{}
	}
	if fixes == nil {
		fixes = []string{}
	}
	return Report{
		Gate:      "gate2",
		Iteration: st.CurrentIteration,
		Passed:    len(reasons) == 0,
		Metrics: map[string]any{
			"character_registry_pct": round2(registryPct),
			"unapproved_characters":  len(unapproved),
			"unresolved_items":       len(review.UnresolvedItems),
			"notes_clean":            !notesDirty,
			"lock_story_facts":       review.LockStoryFacts,
			"hash_hint_ok":           hashHintOK,
		},
		Reasons:         reasons,
		FixInstructions: fixes,
	}
}
