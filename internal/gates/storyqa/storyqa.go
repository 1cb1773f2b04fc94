// Package storyqa scores a script against fourteen storytelling criteria.
// Every criterion is a keyword or structural heuristic over the script text,
// so a reported score can be traced back to the exact lines that produced it.
package storyqa

import (
	"fmt"
	"strings"

	"github.com/tiger/filmgate/api/preprod"
)

// CriterionNames lists the fourteen criteria in report order.
var CriterionNames = []string{
	"dramatic_question",
	"cause_effect",
	"conflict",
	"stakes_escalation",
	"information_control",
	"agency",
	"thematic_consistency",
	"motif_callback",
	"surprise_balance",
	"promise_payoff",
	"pacing_texture",
	"dialog_quality",
	"economy_focus",
	"causal_finale",
}

// Criterion is one scored storytelling check.
type Criterion struct {
	Name     string   `json:"name"`
	Score    float64  `json:"score"`
	Notes    string   `json:"notes"`
	Evidence []string `json:"evidence,omitempty"`
}

// Result aggregates all fourteen criteria for one script.
type Result struct {
	ScriptHash      string      `json:"script_hash"`
	Iteration       int         `json:"iteration"`
	Criteria        []Criterion `json:"criteria"`
	OverallScore    float64     `json:"overall_score"`
	BlockingIssues  []string    `json:"blocking_issues"`
	Recommendations []string    `json:"recommendations"`
	Passed          bool        `json:"passed"`
}

// Score returns the score for a named criterion, or 0 if absent.
func (r Result) Score(name string) float64 {
	for _, c := range r.Criteria {
		if c.Name == name {
			return c.Score
		}
	}
	return 0
}

// Evaluate analyzes a script against all fourteen criteria. minCriterion is
// the per-criterion floor below which an issue becomes blocking; overall
// pass requires the mean score at or above overallFloor with no blocking
// issues.
func Evaluate(script preprod.Script, scriptHash string, iteration int, overallFloor, minCriterion float64) Result {
	lines := script.Lines
	var dialogue []preprod.ScriptLine
	for _, line := range lines {
		if line.Kind == preprod.LineDialogue {
			dialogue = append(dialogue, line)
		}
	}

	criteria := []Criterion{
		checkDramaticQuestion(script),
		checkCauseEffect(lines),
		checkConflict(lines, script.Locations),
		checkStakesEscalation(lines),
		checkInformationControl(lines),
		checkAgency(lines),
		checkThematicConsistency(script),
		checkMotifs(lines),
		checkSurpriseBalance(lines),
		checkPromisePayoff(script, lines),
		checkPacing(lines),
		checkDialogQuality(dialogue),
		checkEconomy(lines),
		checkCausalFinale(lines),
	}

	total := 0.0
	for _, c := range criteria {
		total += c.Score
	}
	overall := total / float64(len(criteria))

	var blocking, recommendations []string
	blockers := map[string]string{
		"dramatic_question": "Add clear stakes or a driving question within the first few lines",
		"cause_effect":      "Ensure each scene forces the next rather than merely following it",
		"conflict":          "Add an obstacle or opposition in each location",
		"agency":            "Add a moment where the protagonist chooses despite cost",
		"causal_finale":     "Ensure the finale results from earlier setup",
	}
	for _, c := range criteria {
		if c.Score >= minCriterion {
			continue
		}
		if fix, ok := blockers[c.Name]; ok {
			blocking = append(blocking, fmt.Sprintf("%s: %s", c.Name, c.Notes))
			recommendations = append(recommendations, fix)
		}
	}

	passed := overall >= overallFloor && len(blocking) == 0
	for _, c := range criteria {
		if c.Score < minCriterion {
			passed = false
		}
	}

	return Result{
		ScriptHash:      scriptHash,
		Iteration:       iteration,
		Criteria:        criteria,
		OverallScore:    round2(overall),
		BlockingIssues:  blocking,
		Recommendations: recommendations,
		Passed:          passed,
	}
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

func checkDramaticQuestion(script preprod.Script) Criterion {
	logline := strings.ToLower(script.Logline)
	questionMarkers := []string{"will", "can", "does", "what if", "whether", "how"}
	stakeMarkers := []string{"must", "need", "survive", "escape", "discover", "reveal", "find", "save"}

	hasQuestion := containsAny(logline, questionMarkers)
	hasStakes := containsAny(logline, stakeMarkers)

	score := 40.0
	switch {
	case hasQuestion && hasStakes:
		score = 85
	case hasStakes:
		score = 70
	case hasQuestion:
		score = 60
	}
	return Criterion{
		Name:  "dramatic_question",
		Score: score,
		Notes: fmt.Sprintf("question markers: %t, stake markers: %t", hasQuestion, hasStakes),
	}
}

func checkCauseEffect(lines []preprod.ScriptLine) Criterion {
	causalMarkers := []string{"because", "therefore", "so", "then", "after", "leads to", "causes"}
	transitionMarkers := []string{"cut to", "meanwhile", "later", "suddenly"}

	var breaks []string
	for i := 1; i < len(lines); i++ {
		text := strings.ToLower(lines[i].Text)
		prev := strings.ToLower(lines[i-1].Text)
		if !containsAny(text, transitionMarkers) {
			continue
		}
		if !containsAny(text+prev, causalMarkers) && strings.Contains(text, "cut to") {
			breaks = append(breaks, lines[i].LineID)
		}
	}

	ratio := float64(len(breaks)) / float64(max(len(lines), 1))
	score := 100 - ratio*200
	if score < 0 {
		score = 0
	}
	return Criterion{
		Name:     "cause_effect",
		Score:    round2(score),
		Notes:    fmt.Sprintf("%d potential chain breaks", len(breaks)),
		Evidence: head(breaks, 5),
	}
}

func checkConflict(lines []preprod.ScriptLine, locations []string) Criterion {
	conflictMarkers := []string{
		"against", "despite", "struggle", "fight", "resist", "refuse",
		"block", "stop", "prevent", "challenge", "confront", "oppose",
		"tension", "alarm", "panic", "angry", "hostile",
	}

	withConflict := 0
	covered := make(map[string]bool, len(locations))
	for _, line := range lines {
		text := strings.ToLower(line.Text)
		if !containsAny(text, conflictMarkers) {
			continue
		}
		withConflict++
		for _, loc := range locations {
			if strings.Contains(text, strings.ToLower(loc)) {
				covered[loc] = true
			}
		}
	}

	var missing []string
	for _, loc := range locations {
		if !covered[loc] {
			missing = append(missing, loc)
		}
	}

	conflictRatio := float64(withConflict) / float64(max(len(lines), 1))
	coverage := float64(len(locations)-len(missing)) / float64(max(len(locations), 1))
	score := (conflictRatio*50 + coverage*50) * 1.5
	if score > 100 {
		score = 100
	}
	return Criterion{
		Name:     "conflict",
		Score:    round2(score),
		Notes:    fmt.Sprintf("%d lines with conflict markers, missing in %v", withConflict, missing),
		Evidence: missing,
	}
}

var stakeLevels = []struct {
	name    string
	markers []string
}{
	{"curiosity", []string{"look", "notice", "see", "wonder"}},
	{"confusion", []string{"confused", "lost", "strange", "weird"}},
	{"discomfort", []string{"uncomfortable", "uneasy", "tense"}},
	{"threat", []string{"alarm", "emergency", "danger", "warning", "red"}},
	{"action", []string{"remove", "extract", "escape", "flee", "run"}},
	{"resolution", []string{"calm", "relief", "done", "safe", "okay"}},
}

func checkStakesEscalation(lines []preprod.ScriptLine) Criterion {
	var progression []string
	seen := make(map[string]bool)
	current := 0
	escalating := true

	for _, line := range lines {
		text := strings.ToLower(line.Text)
		for i, level := range stakeLevels {
			if !containsAny(text, level.markers) {
				continue
			}
			if !seen[level.name] {
				seen[level.name] = true
				progression = append(progression, level.name)
			}
			if i < current {
				escalating = false
			}
			if i > current {
				current = i
			}
		}
	}

	var score float64
	if escalating {
		score = min(100, float64(len(progression))*20)
	} else {
		score = max(40, float64(len(progression))*15)
	}
	return Criterion{
		Name:     "stakes_escalation",
		Score:    round2(score),
		Notes:    fmt.Sprintf("escalating: %t across %d stake levels", escalating, len(progression)),
		Evidence: progression,
	}
}

func checkInformationControl(lines []preprod.ScriptLine) Criterion {
	revealMarkers := []string{"realize", "discover", "reveal", "truth", "actually", "really"}
	ironyMarkers := []string{"doesn't know", "unaware", "hidden", "secret"}
	mysteryMarkers := []string{"mystery", "question", "who", "why", "what"}

	technique := "none"
	var reveals []string
	for _, line := range lines {
		text := strings.ToLower(line.Text)
		switch {
		case containsAny(text, revealMarkers):
			reveals = append(reveals, line.LineID)
			technique = "reframe"
		case technique == "none" && containsAny(text, ironyMarkers):
			technique = "dramatic_irony"
		case technique == "none" && containsAny(text, mysteryMarkers):
			technique = "mystery"
		}
	}

	score := 40.0
	if technique != "none" {
		score = 60
	}
	if len(reveals) > 0 {
		score = 75
	}
	return Criterion{
		Name:     "information_control",
		Score:    score,
		Notes:    fmt.Sprintf("technique: %s, %d reveal moments", technique, len(reveals)),
		Evidence: head(reveals, 5),
	}
}

func checkAgency(lines []preprod.ScriptLine) Criterion {
	decisionMarkers := []string{"decide", "choose", "step", "reach", "touch", "help", "enter"}
	passiveMarkers := []string{"forced", "pushed", "pulled", "taken", "removed", "extracted"}

	var decisions, passive []string
	for _, line := range lines {
		text := strings.ToLower(line.Text)
		if containsAny(text, decisionMarkers) {
			decisions = append(decisions, line.LineID)
		}
		if containsAny(text, passiveMarkers) {
			passive = append(passive, line.LineID)
		}
	}

	ratio := float64(len(decisions)) / float64(max(len(decisions)+len(passive), 1))
	score := max(40, ratio*100)
	return Criterion{
		Name:     "agency",
		Score:    round2(score),
		Notes:    fmt.Sprintf("%d active decisions, %d passive moments", len(decisions), len(passive)),
		Evidence: head(decisions, 5),
	}
}

func checkThematicConsistency(script preprod.Script) Criterion {
	var themes []string
	for _, word := range strings.Fields(strings.ToLower(script.Theme)) {
		if len(word) > 4 {
			themes = append(themes, word)
		}
		if len(themes) == 3 {
			break
		}
	}

	var manifestations []string
	for _, line := range script.Lines {
		if containsAny(strings.ToLower(line.Text), themes) {
			manifestations = append(manifestations, line.LineID)
		}
	}

	score := 40.0
	switch {
	case len(manifestations) >= 3:
		score = 80
	case len(manifestations) >= 1:
		score = 60
	}
	return Criterion{
		Name:     "thematic_consistency",
		Score:    score,
		Notes:    fmt.Sprintf("theme words %v manifest in %d lines", themes, len(manifestations)),
		Evidence: head(manifestations, 5),
	}
}

func checkMotifs(lines []preprod.ScriptLine) Criterion {
	visualWords := []string{"shimmer", "metallic", "red", "light", "pulse", "trace", "stain", "mark"}
	occurrences := make(map[string][]string)
	for _, line := range lines {
		text := strings.ToLower(line.Text)
		for _, word := range visualWords {
			if strings.Contains(text, word) {
				occurrences[word] = append(occurrences[word], line.LineID)
			}
		}
	}

	var motifs []string
	callbacks := 0
	for _, word := range visualWords {
		if len(occurrences[word]) >= 2 {
			motifs = append(motifs, word)
			if len(motifs) <= 3 {
				callbacks++
			}
		}
	}

	score := max(50, min(100, float64(len(motifs))*25+float64(callbacks)*15))
	return Criterion{
		Name:     "motif_callback",
		Score:    round2(score),
		Notes:    fmt.Sprintf("%d recurring visual elements", len(motifs)),
		Evidence: motifs,
	}
}

func checkSurpriseBalance(lines []preprod.ScriptLine) Criterion {
	surpriseMarkers := []string{"suddenly", "unexpected", "surprise", "shock", "snap", "abrupt"}
	setupMarkers := []string{"wait", "prepare", "ready", "build", "approach"}

	surprising, predictable := 0, 0
	for _, line := range lines {
		text := strings.ToLower(line.Text)
		if containsAny(text, surpriseMarkers) {
			surprising++
		}
		if containsAny(text, setupMarkers) {
			predictable++
		}
	}

	total := surprising + predictable
	score := 50.0
	if total > 0 {
		ratio := float64(surprising) / float64(total)
		deviation := ratio - 0.3
		if deviation < 0 {
			deviation = -deviation
		}
		score = 100 - deviation*150
	}
	score = max(40, min(100, score))
	return Criterion{
		Name:  "surprise_balance",
		Score: round2(score),
		Notes: fmt.Sprintf("%d surprises, %d setups", surprising, predictable),
	}
}

func checkPromisePayoff(script preprod.Script, lines []preprod.ScriptLine) Criterion {
	openingLines := lines
	if len(openingLines) > 5 {
		openingLines = openingLines[:5]
	}
	var opening strings.Builder
	opening.WriteString(strings.ToLower(script.Logline))
	for _, line := range openingLines {
		opening.WriteString(" " + strings.ToLower(line.Text))
	}

	endingLines := lines
	if len(endingLines) > 5 {
		endingLines = endingLines[len(endingLines)-5:]
	}
	var ending strings.Builder
	ending.WriteString(strings.ToLower(script.Theme))
	for _, line := range endingLines {
		ending.WriteString(" " + strings.ToLower(line.Text))
	}

	resolutionMarkers := []string{"done", "calm", "relief", "safe", "resolved"}
	mysteryMarkers := []string{"strange", "hidden", "secret", "must", "mystery"}

	promiseSet := containsAny(opening.String(), mysteryMarkers)
	payoffSet := containsAny(ending.String(), resolutionMarkers)

	score := 50.0
	switch {
	case promiseSet && payoffSet:
		score = 85
	case payoffSet:
		score = 70
	}
	return Criterion{
		Name:  "promise_payoff",
		Score: score,
		Notes: fmt.Sprintf("opening promise: %t, ending payoff: %t", promiseSet, payoffSet),
	}
}

func checkPacing(lines []preprod.ScriptLine) Criterion {
	fastMarkers := []string{"cut", "snap", "suddenly", "quick", "flash"}
	slowMarkers := []string{"slowly", "calm", "pause", "hold", "steady"}

	fast, slow := 0, 0
	for _, line := range lines {
		text := strings.ToLower(line.Text)
		if containsAny(text, fastMarkers) {
			fast++
		}
		if containsAny(text, slowMarkers) {
			slow++
		}
	}

	rhythm := "neutral"
	switch {
	case fast > slow*2 && fast > 0:
		rhythm = "punchy throughout"
	case slow > fast*2 && slow > 0:
		rhythm = "slow-burn"
	case fast > 0 && slow > 0:
		rhythm = "waves"
	}

	score := 60.0
	if fast > 0 && slow > 0 {
		score = 80
	}
	return Criterion{
		Name:  "pacing_texture",
		Score: score,
		Notes: fmt.Sprintf("rhythm %s: %d fast, %d slow moments", rhythm, fast, slow),
	}
}

func checkDialogQuality(dialogue []preprod.ScriptLine) Criterion {
	if len(dialogue) == 0 {
		return Criterion{
			Name:  "dialog_quality",
			Score: 60,
			Notes: "no dialogue; acceptable for action-heavy scripts",
		}
	}

	speakers := make(map[string]bool)
	for _, line := range dialogue {
		if line.Speaker != "" {
			speakers[line.Speaker] = true
		}
	}
	distinctVoices := len(speakers) >= 2

	directMarkers := []string{"i want", "i need", "you must", "do this"}
	subtext := 0
	for _, line := range dialogue {
		if !containsAny(strings.ToLower(line.Text), directMarkers) {
			subtext++
		}
	}
	hasSubtext := float64(subtext) > float64(len(dialogue))*0.5

	score := 50.0
	if distinctVoices {
		score += 25
	}
	if hasSubtext {
		score += 25
	}
	return Criterion{
		Name:  "dialog_quality",
		Score: score,
		Notes: fmt.Sprintf("%d speakers, %d/%d lines with subtext", len(speakers), subtext, len(dialogue)),
	}
}

func checkEconomy(lines []preprod.ScriptLine) Criterion {
	fillerMarkers := []string{"meanwhile", "also", "in addition", "furthermore"}

	var filler []string
	for _, line := range lines {
		if containsAny(strings.ToLower(line.Text), fillerMarkers) {
			filler = append(filler, line.LineID)
		}
	}

	ratio := float64(len(lines)-len(filler)) / float64(max(len(lines), 1))
	return Criterion{
		Name:     "economy_focus",
		Score:    round2(ratio * 100),
		Notes:    fmt.Sprintf("%d potential filler lines", len(filler)),
		Evidence: head(filler, 5),
	}
}

func checkCausalFinale(lines []preprod.ScriptLine) Criterion {
	if len(lines) < 5 {
		return Criterion{
			Name:  "causal_finale",
			Score: 40,
			Notes: "script too short to evaluate finale",
		}
	}

	firstHalf := lines[:len(lines)/2]
	finale := lines[len(lines)-5:]

	setupWords := longWords(firstHalf)
	payoffWords := longWords(finale)

	overlap := 0
	for word := range payoffWords {
		if setupWords[word] {
			overlap++
		}
	}
	unique := 0
	for word := range payoffWords {
		if !setupWords[word] {
			unique++
		}
	}

	inevitable := overlap >= 3
	surprising := unique >= 2

	score := 50.0
	if inevitable {
		score += 25
	}
	if surprising {
		score += 25
	}
	return Criterion{
		Name:  "causal_finale",
		Score: score,
		Notes: fmt.Sprintf("%d setup payoffs, %d new elements", overlap, unique),
	}
}

func longWords(lines []preprod.ScriptLine) map[string]bool {
	out := make(map[string]bool)
	for _, line := range lines {
		for _, word := range strings.Fields(strings.ToLower(line.Text)) {
			if len(word) > 4 {
				out[word] = true
			}
		}
	}
	return out
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
