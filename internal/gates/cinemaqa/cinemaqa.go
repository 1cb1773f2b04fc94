// Package cinemaqa scores an image prompt package against eight visual
// production gates plus two character-identity consistency checks. Like the
// story scorer, everything is keyword heuristics over the prompt text.
package cinemaqa

import (
	"fmt"
	"strings"

	"github.com/tiger/filmgate/api/preprod"
	"github.com/tiger/filmgate/internal/config"
)

// GateCheck is one scored visual gate.
type GateCheck struct {
	Name     string   `json:"name"`
	Score    float64  `json:"score"`
	Passed   bool     `json:"passed"`
	Notes    string   `json:"notes"`
	Evidence []string `json:"evidence,omitempty"`
}

// Result aggregates the eight gates and the identity checks.
type Result struct {
	ScriptHash string      `json:"script_hash"`
	Iteration  int         `json:"iteration"`
	Gates      []GateCheck `json:"gates"`

	CharacterIdentityScore  float64  `json:"character_identity_score"`
	CharacterIdentityIssues []string `json:"character_identity_issues,omitempty"`
	ReferenceIdentityScore  float64  `json:"reference_identity_score"`
	ReferenceIdentityIssues []string `json:"reference_identity_issues,omitempty"`

	GatesPassed    int      `json:"gates_passed"`
	OverallScore   float64  `json:"overall_score"`
	BlockingIssues []string `json:"blocking_issues"`
	Passed         bool     `json:"passed"`
}

// Gate returns a named gate check, or a zero check if absent.
func (r Result) Gate(name string) GateCheck {
	for _, g := range r.Gates {
		if g.Name == name {
			return g
		}
	}
	return GateCheck{}
}

// Evaluate runs the eight visual gates and both identity checks over an
// image prompt package.
func Evaluate(script preprod.Script, pkg preprod.ImagePromptPackage, scriptHash string, iteration int, cfg config.Config) Result {
	shots := pkg.ImagePrompts
	t := cfg.Thresholds

	gates := []GateCheck{
		checkStorySupport(shots),
		checkGeographicClarity(shots, script.Locations),
		checkSuspenseEscalation(shots),
		checkInformationControl(shots),
		checkStyleConsistency(shots),
		checkTechnicalFeasibility(shots),
		checkContinuityProgression(shots, script.Locations),
		checkReviewFriendliness(shots),
	}

	charScore, charIssues := checkCharacterIdentity(shots, script.Characters)
	refScore, refIssues := checkReferenceIdentity(shots, cfg.ReferenceImages)

	passed := 0
	total := 0.0
	for _, g := range gates {
		if g.Passed {
			passed++
		}
		total += g.Score
	}
	overall := total / float64(len(gates))

	var blocking []string
	for _, g := range gates {
		if !g.Passed {
			blocking = append(blocking, fmt.Sprintf("%s: %s", g.Name, g.Notes))
		}
	}

	charOK := charScore >= t.MinCharacterIdentityScore
	if !charOK {
		blocking = append(blocking, fmt.Sprintf("character identity: %d shots missing continuity notes", len(charIssues)))
	}
	refOK := true
	if t.RequireIdentityTokens && len(refIssues) > 0 {
		refOK = refScore >= 70
		if !refOK {
			blocking = append(blocking, fmt.Sprintf("reference identity: %d shots missing identity tokens", len(refIssues)))
		}
	}

	result := Result{
		ScriptHash:              scriptHash,
		Iteration:               iteration,
		Gates:                   gates,
		CharacterIdentityScore:  charScore,
		CharacterIdentityIssues: head(charIssues, 5),
		ReferenceIdentityScore:  refScore,
		ReferenceIdentityIssues: head(refIssues, 5),
		GatesPassed:             passed,
		OverallScore:            round2(overall),
		BlockingIssues:          blocking,
	}
	result.Passed = passed >= t.CinematographyMinGates &&
		overall >= t.CinematographyAverageFloor &&
		charOK && refOK
	return result
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func checkStorySupport(shots []preprod.ImagePromptShot) GateCheck {
	intentionMarkers := []string{
		"reveal", "discover", "realize", "decide", "choose",
		"react", "respond", "confront", "escape", "arrive",
		"goal", "obstacle", "tension", "conflict",
	}

	withIntention := 0
	var decorative []string
	for _, shot := range shots {
		text := strings.ToLower(shot.Intent + " " + shot.ImagePrompt)
		if containsAny(text, intentionMarkers) {
			withIntention++
		} else {
			decorative = append(decorative, shot.ShotID)
		}
	}

	ratio := float64(withIntention) / float64(max(len(shots), 1))
	return GateCheck{
		Name:     "story_support",
		Score:    round2(ratio * 100),
		Passed:   len(decorative) == 0 || ratio >= 0.8,
		Notes:    fmt.Sprintf("%d/%d shots have clear intention", withIntention, len(shots)),
		Evidence: head(decorative, 5),
	}
}

func extractLocation(text string, locations []string) string {
	for _, loc := range locations {
		if strings.Contains(text, strings.ToLower(loc)) {
			return strings.ToLower(loc)
		}
	}
	return "unknown"
}

func checkGeographicClarity(shots []preprod.ImagePromptShot, locations []string) GateCheck {
	establishingMarkers := []string{"wide", "overhead", "establishing", "geography", "layout"}

	hasEstablishing := false
	var unclear []string
	prevLocation := ""
	for _, shot := range shots {
		text := strings.ToLower(shot.ImagePrompt)
		if containsAny(text, establishingMarkers) {
			hasEstablishing = true
		}
		current := extractLocation(text, locations)
		if prevLocation != "" && current != prevLocation && !containsAny(text, establishingMarkers) {
			unclear = append(unclear, shot.ShotID)
		}
		prevLocation = current
	}

	score := 50.0
	if hasEstablishing {
		score = 80
	}
	score = clampScore(score - float64(len(unclear))*10)
	return GateCheck{
		Name:     "geographic_clarity",
		Score:    round2(score),
		Passed:   hasEstablishing && len(unclear) <= 1,
		Notes:    fmt.Sprintf("establishing shots: %t, unclear transitions: %d", hasEstablishing, len(unclear)),
		Evidence: head(unclear, 3),
	}
}

var escalationMoves = []struct {
	name    string
	markers []string
}{
	{"tighter framing", []string{"close", "tight", "macro", "detail"}},
	{"reduced fill", []string{"shadow", "contrast", "dark", "dim"}},
	{"longer holds", []string{"hold", "pause", "static", "still"}},
	{"obstructed sightlines", []string{"through", "obstruct", "partial", "blocked"}},
	{"negative space", []string{"isolated", "alone", "empty", "negative"}},
	{"telephoto feel", []string{"telephoto", "compressed", "distant", "surveillance"}},
	{"unstable movement", []string{"handheld", "shake", "unstable", "drift"}},
	{"emergency accents", []string{"red", "alarm", "emergency", "alert"}},
}

func checkSuspenseEscalation(shots []preprod.ImagePromptShot) GateCheck {
	seen := make(map[string]bool)
	var moves []string
	for _, shot := range shots {
		text := strings.ToLower(shot.ImagePrompt)
		for _, move := range escalationMoves {
			if seen[move.name] || !containsAny(text, move.markers) {
				continue
			}
			seen[move.name] = true
			moves = append(moves, fmt.Sprintf("%s: %s", move.name, shot.ShotID))
		}
	}

	count := len(moves)
	return GateCheck{
		Name:     "suspense_escalation",
		Score:    round2(min(100, float64(count)*20)),
		Passed:   count >= 3,
		Notes:    fmt.Sprintf("%d escalation moves in visual language", count),
		Evidence: head(moves, 6),
	}
}

func checkInformationControl(shots []preprod.ImagePromptShot) GateCheck {
	controlMarkers := []string{"shadow", "silhouette", "partial", "hidden", "obscured", "backlit"}
	evenMarkers := []string{"bright", "evenly lit", "flat light", "fill light"}

	var controlled, evenlyLit []string
	for _, shot := range shots {
		text := strings.ToLower(shot.ImagePrompt)
		switch {
		case containsAny(text, controlMarkers):
			controlled = append(controlled, shot.ShotID)
		case containsAny(text, evenMarkers):
			evenlyLit = append(evenlyLit, shot.ShotID)
		}
	}

	ratio := float64(len(controlled)) / float64(max(len(shots), 1))
	score := clampScore(50 + ratio*50 - float64(len(evenlyLit))*5)
	return GateCheck{
		Name:     "information_control",
		Score:    round2(score),
		Passed:   len(controlled) >= 2 || len(evenlyLit) <= len(shots)/3,
		Notes:    fmt.Sprintf("%d controlled, %d evenly lit shots", len(controlled), len(evenlyLit)),
		Evidence: head(controlled, 5),
	}
}

func checkStyleConsistency(shots []preprod.ImagePromptShot) GateCheck {
	driftMarkers := []string{
		"cyberpunk", "neon", "glitch", "vhs", "vignette",
		"teal and orange", "lut", "filter", "preset",
	}

	var violations []string
	for _, shot := range shots {
		if containsAny(strings.ToLower(shot.ImagePrompt), driftMarkers) {
			violations = append(violations, shot.ShotID)
		}
	}

	return GateCheck{
		Name:     "style_consistency",
		Score:    round2(clampScore(100 - float64(len(violations))*15)),
		Passed:   len(violations) == 0,
		Notes:    fmt.Sprintf("%d off-style prompts", len(violations)),
		Evidence: head(violations, 3),
	}
}

func checkTechnicalFeasibility(shots []preprod.ImagePromptShot) GateCheck {
	infeasibilityMarkers := []string{
		"while simultaneously", "at the same time doing",
		"multiple characters doing different things",
		"impossible angle", "through solid",
	}
	busyMarkers := []string{"and and", "multiple actions", "everything", "chaotic mess"}

	var infeasible []string
	for _, shot := range shots {
		text := strings.ToLower(shot.ImagePrompt)
		if len(shot.ImagePrompt) > 500 {
			infeasible = append(infeasible, fmt.Sprintf("%s: prompt too long (%d chars)", shot.ShotID, len(shot.ImagePrompt)))
		} else if containsAny(text, infeasibilityMarkers) || containsAny(text, busyMarkers) {
			infeasible = append(infeasible, shot.ShotID)
		}
	}

	return GateCheck{
		Name:     "technical_feasibility",
		Score:    round2(clampScore(100 - float64(len(infeasible))*20)),
		Passed:   len(infeasible) == 0,
		Notes:    fmt.Sprintf("%d potentially unrenderable prompts", len(infeasible)),
		Evidence: head(infeasible, 3),
	}
}

func checkContinuityProgression(shots []preprod.ImagePromptShot, locations []string) GateCheck {
	continuityMarkers := []string{"same", "continuing", "still wearing", "previous", "as before"}
	progressionMarkers := []string{"now", "changed", "damaged", "wet", "dirty", "stained"}

	// A location jump with neither a continuity nor a progression note is a
	// gap; implicit continuity within the same location is allowed.
	var gaps []string
	prevLocation := ""
	for _, shot := range shots {
		text := strings.ToLower(shot.ImagePrompt)
		current := extractLocation(text, locations)
		if prevLocation != "" && current != prevLocation &&
			!containsAny(text, continuityMarkers) && !containsAny(text, progressionMarkers) {
			gaps = append(gaps, shot.ShotID)
		}
		prevLocation = current
	}

	return GateCheck{
		Name:     "continuity_progression",
		Score:    round2(clampScore(80 - float64(len(gaps))*15)),
		Passed:   len(gaps) <= 1,
		Notes:    fmt.Sprintf("%d continuity gaps across location changes", len(gaps)),
		Evidence: head(gaps, 3),
	}
}

func checkReviewFriendliness(shots []preprod.ImagePromptShot) GateCheck {
	clarityMarkers := []string{"shot", "angle", "light", "camera", "frame", "subject"}
	vagueMarkers := []string{"somehow", "maybe", "perhaps", "something like", "etc"}

	var vague []string
	for _, shot := range shots {
		text := strings.ToLower(shot.ImagePrompt)
		if containsAny(text, vagueMarkers) {
			vague = append(vague, shot.ShotID)
			continue
		}
		clarity := 0
		for _, m := range clarityMarkers {
			if strings.Contains(text, m) {
				clarity++
			}
		}
		if clarity < 2 && len(shot.ImagePrompt) < 50 {
			vague = append(vague, shot.ShotID)
		}
	}

	return GateCheck{
		Name:     "review_friendliness",
		Score:    round2(clampScore(100 - float64(len(vague))*15)),
		Passed:   len(vague) <= 1,
		Notes:    fmt.Sprintf("%d vague prompts", len(vague)),
		Evidence: head(vague, 3),
	}
}

var identityMarkers = []string{
	"same outfit", "same clothes", "still wearing", "consistent",
	"as before", "unchanged", "her signature", "his usual",
	"same appearance", "continuing", "matching earlier",
	"identical to", "same as before", "same costume",
}

// checkCharacterIdentity flags shots where a declared character reappears
// without an explicit identity continuity marker. Scored 100 minus 10 per
// flagged reappearance.
func checkCharacterIdentity(shots []preprod.ImagePromptShot, characters []string) (float64, []string) {
	declared := make(map[string]bool)
	for _, c := range characters {
		if trimmed := strings.ToLower(strings.TrimSpace(c)); trimmed != "" {
			declared[trimmed] = true
		}
	}

	var missing []string
	seen := make(map[string]bool)
	for _, shot := range shots {
		text := strings.ToLower(shot.ImagePrompt)
		hasNote := containsAny(text, identityMarkers)
		for char := range declared {
			if !strings.Contains(text, char) {
				continue
			}
			if seen[char] && !hasNote {
				missing = append(missing, fmt.Sprintf("%s: %q reappears without identity continuity note", shot.ShotID, char))
			}
			seen[char] = true
		}
	}

	score := 100 - float64(len(missing))*10
	if score < 0 {
		score = 0
	}
	return score, missing
}

// checkReferenceIdentity verifies that prompts mentioning a character with a
// configured identity token carry that token verbatim. Scored 100 minus 15
// per miss; 100 when no tokens are configured.
func checkReferenceIdentity(shots []preprod.ImagePromptShot, refs []config.ReferenceImage) (float64, []string) {
	tokens := make(map[string]string)
	for _, ref := range refs {
		if ref.Character != "" && ref.IdentityToken != "" {
			tokens[strings.ToLower(ref.Character)] = ref.IdentityToken
		}
	}
	if len(tokens) == 0 {
		return 100, nil
	}

	var issues []string
	for _, shot := range shots {
		text := strings.ToLower(shot.ImagePrompt)
		for char, token := range tokens {
			if strings.Contains(text, char) && !strings.Contains(text, strings.ToLower(token)) {
				issues = append(issues, fmt.Sprintf("%s: %q missing identity token %q", shot.ShotID, char, token))
			}
		}
	}

	score := 100 - float64(len(issues))*15
	if score < 0 {
		score = 0
	}
	return score, issues
}
