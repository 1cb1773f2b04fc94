// Package continuity derives and scores the story anchor: the immutable
// narrative reference captured from the first accepted script. Scoring is
// deliberately keyword-based rather than semantic, so every number a gate
// reports can be reproduced by hand from the artifact bytes.
package continuity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tiger/filmgate/api/preprod"
	"github.com/tiger/filmgate/internal/hashing"
	"github.com/tiger/filmgate/internal/state"
)

const anchorFilename = "story_anchor.json"

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "in": {}, "into": {}, "is": {}, "it": {},
	"its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"their": {}, "them": {}, "this": {}, "to": {}, "with": {},
}

var wordPattern = regexp.MustCompile(`[a-zA-Z0-9']+`)

func tokens(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

func keywordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokens(text) {
		if len(tok) < 4 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

func clamp(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

func isPlaceholder(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "todo") || strings.Contains(lower, "tbd") ||
		(strings.Contains(text, "<") && strings.Contains(text, ">"))
}

func deriveStyleAnchor(script preprod.Script) string {
	source := strings.TrimSpace(script.Theme)
	if source == "" {
		source = strings.TrimSpace(script.Logline)
	}
	if source == "" {
		source = strings.TrimSpace(script.Title)
	}
	words := tokens(source)
	if len(words) == 0 {
		return "grounded cinematic continuity"
	}
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}

func mustKeepBeats(script preprod.Script) []string {
	const limit = 6
	var beats []string
	for _, line := range script.Lines {
		text := strings.TrimSpace(line.Text)
		if text == "" || isPlaceholder(text) {
			continue
		}
		beats = append(beats, text)
		if len(beats) >= limit {
			break
		}
	}
	if len(beats) > 0 {
		return beats
	}
	fallback := strings.TrimSpace(script.Logline)
	if fallback == "" {
		fallback = strings.TrimSpace(script.Title)
	}
	if fallback == "" {
		fallback = "core story beat"
	}
	return []string{fallback}
}

// BuildAnchor derives the story anchor from a script. sourceSHA256 is the
// canonical hash of the script; when empty it is computed here.
func BuildAnchor(script preprod.Script, sourceIteration int, sourceSHA256 string) (preprod.StoryAnchor, error) {
	if sourceSHA256 == "" {
		var err error
		sourceSHA256, err = hashing.SHA256JSON(script)
		if err != nil {
			return preprod.StoryAnchor{}, err
		}
	}
	characters := make([]string, 0, len(script.Characters))
	for _, c := range script.Characters {
		if trimmed := strings.TrimSpace(c); trimmed != "" {
			characters = append(characters, trimmed)
		}
	}
	return preprod.StoryAnchor{
		Title:               strings.TrimSpace(script.Title),
		CanonicalCharacters: characters,
		MustKeepBeats:       mustKeepBeats(script),
		StyleAnchor:         deriveStyleAnchor(script),
		SourceIteration:     sourceIteration,
		SourceScriptSHA256:  sourceSHA256,
	}, nil
}

func anchorPath(store *state.Store, runID string) string {
	return filepath.Join(store.ArtifactDir(runID, 1), anchorFilename)
}

// EnsureAnchor persists the anchor for a run exactly once. Later calls
// return the stored anchor untouched even if the source script was
// overwritten in a retry iteration.
func EnsureAnchor(store *state.Store, st *state.RunState, script preprod.Script, scriptSHA256 string) (preprod.StoryAnchor, error) {
	path := anchorPath(store, st.RunID)
	if anchor, err := readAnchor(path); err == nil {
		return anchor, nil
	} else if !os.IsNotExist(err) {
		return preprod.StoryAnchor{}, err
	}

	anchor, err := BuildAnchor(script, 1, scriptSHA256)
	if err != nil {
		return preprod.StoryAnchor{}, err
	}
	canonical, err := hashing.CanonicalJSON(anchor)
	if err != nil {
		return preprod.StoryAnchor{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return preprod.StoryAnchor{}, fmt.Errorf("persist story anchor: %w", err)
	}
	if err := os.WriteFile(path, append(canonical, '\n'), 0o644); err != nil {
		return preprod.StoryAnchor{}, fmt.Errorf("persist story anchor: %w", err)
	}
	return anchor, nil
}

// LoadAnchor returns the persisted anchor for a run, rebuilding it from the
// first iteration's script when the anchor file predates this version of
// the layout. The second return is false when no anchor source exists yet.
func LoadAnchor(store *state.Store, st *state.RunState) (preprod.StoryAnchor, bool, error) {
	path := anchorPath(store, st.RunID)
	anchor, err := readAnchor(path)
	if err == nil {
		return anchor, true, nil
	}
	if !os.IsNotExist(err) {
		return preprod.StoryAnchor{}, false, err
	}

	rec, ok := st.Iterations[state.IterationKey(1)]
	if !ok {
		return preprod.StoryAnchor{}, false, nil
	}
	item, ok := rec.Artifacts[preprod.RoleShowrunner]
	if !ok {
		return preprod.StoryAnchor{}, false, nil
	}
	raw, err := os.ReadFile(item.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return preprod.StoryAnchor{}, false, nil
		}
		return preprod.StoryAnchor{}, false, err
	}
	var script preprod.Script
	if err := json.Unmarshal(raw, &script); err != nil {
		return preprod.StoryAnchor{}, false, fmt.Errorf("decode anchor script: %w", err)
	}
	anchor, err = BuildAnchor(script, 1, item.SHA256)
	if err != nil {
		return preprod.StoryAnchor{}, false, err
	}
	return anchor, true, nil
}

func readAnchor(path string) (preprod.StoryAnchor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return preprod.StoryAnchor{}, err
	}
	var anchor preprod.StoryAnchor
	if err := json.Unmarshal(raw, &anchor); err != nil {
		return preprod.StoryAnchor{}, fmt.Errorf("decode story anchor: %w", err)
	}
	return anchor, nil
}

// TitleMatches reports exact case-insensitive equality between the anchor
// title and the script title.
func TitleMatches(anchor preprod.StoryAnchor, script preprod.Script) bool {
	return strings.EqualFold(strings.TrimSpace(anchor.Title), strings.TrimSpace(script.Title))
}

// CharacterConsistencyPct is the percentage of anchor characters still
// declared by the script.
func CharacterConsistencyPct(anchor preprod.StoryAnchor, script preprod.Script) float64 {
	expected := make(map[string]struct{})
	for _, c := range anchor.CanonicalCharacters {
		if trimmed := strings.ToLower(strings.TrimSpace(c)); trimmed != "" {
			expected[trimmed] = struct{}{}
		}
	}
	if len(expected) == 0 {
		return 100
	}
	current := make(map[string]struct{})
	for _, c := range script.Characters {
		if trimmed := strings.ToLower(strings.TrimSpace(c)); trimmed != "" {
			current[trimmed] = struct{}{}
		}
	}
	hits := 0
	for c := range expected {
		if _, ok := current[c]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(expected)) * 100
}

// ScriptFaithfulnessPct is the percentage of must-keep beats whose keyword
// sets intersect the script's full text.
func ScriptFaithfulnessPct(anchor preprod.StoryAnchor, script preprod.Script) float64 {
	if len(anchor.MustKeepBeats) == 0 {
		return 100
	}
	var parts []string
	parts = append(parts, script.Title, script.Logline, script.Theme)
	for _, line := range script.Lines {
		parts = append(parts, line.Text)
	}
	haystack := keywordSet(strings.Join(parts, " "))
	if len(haystack) == 0 {
		return 0
	}
	hits := 0
	for _, beat := range anchor.MustKeepBeats {
		beatTerms := keywordSet(beat)
		if len(beatTerms) == 0 {
			continue
		}
		for term := range beatTerms {
			if _, ok := haystack[term]; ok {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(anchor.MustKeepBeats)) * 100
}

var chainedPattern = regexp.MustCompile(`\b(and then|while|before|after)\b`)

// NarrativeCoherenceScore is 100 minus weighted penalties for sparse,
// incomplete, placeholder-ridden, or over-chained scripts.
func NarrativeCoherenceScore(script preprod.Script) float64 {
	penalty := 0.0
	if len(script.Lines) < 10 {
		penalty += 20
	}

	hasAction, hasDialogue := false, false
	for _, line := range script.Lines {
		switch line.Kind {
		case preprod.LineAction:
			hasAction = true
		case preprod.LineDialogue:
			hasDialogue = true
		}
	}
	if !hasAction {
		penalty += 20
	}
	if !hasDialogue {
		penalty += 20
	}

	if strings.TrimSpace(script.Title) == "" || strings.TrimSpace(script.Logline) == "" || strings.TrimSpace(script.Theme) == "" {
		penalty += 12
	}

	locations := 0
	for _, loc := range script.Locations {
		if strings.TrimSpace(loc) != "" {
			locations++
		}
	}
	if locations < 2 {
		penalty += 10
	}

	placeholders := 0
	for _, line := range script.Lines {
		if isPlaceholder(line.Text) {
			placeholders++
		}
	}
	if placeholders > 0 {
		penalty += min(28, float64(placeholders)*12)
	}

	chained := 0
	for _, line := range script.Lines {
		if chainedPattern.MatchString(strings.ToLower(line.Text)) {
			chained++
		}
	}
	if chained > 0 {
		penalty += min(18, float64(chained)*3)
	}

	return clamp(100 - penalty)
}

// StyleAnchorQualityScore scores a style anchor on length, lexical
// diversity, and a specificity bonus, clamped to [0,100].
func StyleAnchorQualityScore(value string) float64 {
	toks := tokens(value)
	if len(toks) == 0 {
		return 0
	}
	lengthScore := min(70, float64(len(toks))*14)
	unique := make(map[string]struct{}, len(toks))
	for _, tok := range toks {
		unique[tok] = struct{}{}
	}
	diversity := float64(len(unique)) / float64(len(toks)) * 20
	bonus := 0.0
	if len(toks) >= 3 {
		bonus = 10
	}
	return clamp(lengthScore + diversity + bonus)
}
