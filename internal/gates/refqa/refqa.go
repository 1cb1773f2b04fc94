// Package refqa audits an external cinematographic reference library: a set
// of reference entries, the beat cards that cite them, and an optional
// per-run selection pack. Six pass/fail gates check variety, drift guards,
// utility, redundancy, renderability and pack discipline.
package refqa

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tiger/filmgate/internal/config"
)

// Constraints captures generation limits for one reference.
type Constraints struct {
	HardParts     []string `json:"hard_parts,omitempty"`
	AIFeasibility string   `json:"ai_feasibility"`
}

// Reference is one library entry. Anti-references describe looks the run
// must avoid and are flagged rather than carrying hook metadata.
type Reference struct {
	RefID            string      `json:"ref_id"`
	Type             string      `json:"type"`
	ShortDescription string      `json:"short_description"`
	HookType         string      `json:"hook_type"`
	TensionTool      string      `json:"tension_tool"`
	VisualFunction   string      `json:"visual_function"`
	MoodTags         []string    `json:"mood_tags,omitempty"`
	AntiTags         []string    `json:"anti_tags,omitempty"`
	Constraints      Constraints `json:"constraints"`
	IsAntiRef        bool        `json:"is_anti_ref,omitempty"`
}

// BeatCard is a narrative beat pattern citing example references.
type BeatCard struct {
	BeatID      string   `json:"beat_id"`
	Name        string   `json:"name"`
	ExampleRefs []string `json:"example_refs,omitempty"`
}

// SelectedRef assigns one reference to a story phase for a run.
type SelectedRef struct {
	RefID       string   `json:"ref_id"`
	RoleInStory string   `json:"role_in_story"`
	MappedShots []string `json:"mapped_shot_ids,omitempty"`
	Guidance    string   `json:"guidance,omitempty"`
}

// Pack is the per-run reference selection.
type Pack struct {
	RunID             string        `json:"run_id"`
	AestheticEnvelope string        `json:"aesthetic_envelope"`
	SelectedRefs      []SelectedRef `json:"selected_refs"`
	AntiRefIDs        []string      `json:"anti_ref_ids,omitempty"`
	AntiGuidance      string        `json:"anti_guidance,omitempty"`
}

// Library bundles everything the gates inspect.
type Library struct {
	Refs      []Reference
	BeatCards []BeatCard
	Pack      *Pack
}

// LibraryStatus reports whether the configured library could be loaded.
type LibraryStatus string

const (
	StatusOK          LibraryStatus = "ok"
	StatusUnavailable LibraryStatus = "unavailable"
	StatusError       LibraryStatus = "error"
)

// Load reads the configured library files. A disabled config or a missing
// refs file yields StatusUnavailable; unreadable JSON yields StatusError.
// A missing pack file is tolerated and simply leaves Pack nil.
func Load(cfg config.ReferenceLibrary) (Library, LibraryStatus, error) {
	if !cfg.Enabled || cfg.RefsFile == "" {
		return Library{}, StatusUnavailable, nil
	}

	raw, err := os.ReadFile(cfg.RefsFile)
	if os.IsNotExist(err) {
		return Library{}, StatusUnavailable, nil
	}
	if err != nil {
		return Library{}, StatusError, fmt.Errorf("read refs: %w", err)
	}
	var lib Library
	if err := json.Unmarshal(raw, &lib.Refs); err != nil {
		return Library{}, StatusError, fmt.Errorf("decode refs %s: %w", cfg.RefsFile, err)
	}

	if cfg.BeatCardsFile != "" {
		raw, err := os.ReadFile(cfg.BeatCardsFile)
		if err != nil && !os.IsNotExist(err) {
			return Library{}, StatusError, fmt.Errorf("read beat cards: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(raw, &lib.BeatCards); err != nil {
				return Library{}, StatusError, fmt.Errorf("decode beat cards %s: %w", cfg.BeatCardsFile, err)
			}
		}
	}

	if cfg.PackFile != "" {
		raw, err := os.ReadFile(cfg.PackFile)
		if err != nil && !os.IsNotExist(err) {
			return Library{}, StatusError, fmt.Errorf("read reference pack: %w", err)
		}
		if err == nil {
			var pack Pack
			if err := json.Unmarshal(raw, &pack); err != nil {
				return Library{}, StatusError, fmt.Errorf("decode reference pack %s: %w", cfg.PackFile, err)
			}
			lib.Pack = &pack
		}
	}

	return lib, StatusOK, nil
}

// Check is one pass/fail library gate.
type Check struct {
	Name    string   `json:"name"`
	Passed  bool     `json:"passed"`
	Notes   string   `json:"notes"`
	Details []string `json:"details,omitempty"`
}

// Result aggregates the six library gates.
type Result struct {
	LibraryStatus   LibraryStatus `json:"library_status"`
	PackID          string        `json:"pack_id,omitempty"`
	Checks          []Check       `json:"checks"`
	GatesPassed     int           `json:"gates_passed"`
	Passed          bool          `json:"passed"`
	BlockingIssues  []string      `json:"blocking_issues"`
	Recommendations []string      `json:"recommendations,omitempty"`
}

// Check returns a named check, or a zero check if absent.
func (r Result) Check(name string) Check {
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	return Check{}
}

// Evaluate runs all six gates over a loaded library.
func Evaluate(lib Library) Result {
	checks := []Check{
		checkCoverage(lib.Refs),
		checkCoherence(lib.Refs),
		checkUtility(lib.Refs, lib.BeatCards),
		checkRedundancy(lib.Refs),
		checkRenderability(lib.Refs),
		checkPackDiscipline(lib.Pack),
	}

	passed := 0
	var blocking, recommendations []string
	for _, c := range checks {
		if c.Passed {
			passed++
			continue
		}
		blocking = append(blocking, fmt.Sprintf("%s: %s", c.Name, c.Notes))
		if len(c.Details) > 0 {
			recommendations = append(recommendations, fmt.Sprintf("%s: review %s", c.Name, strings.Join(c.Details, ", ")))
		}
	}

	res := Result{
		LibraryStatus:   StatusOK,
		Checks:          checks,
		GatesPassed:     passed,
		Passed:          passed == len(checks),
		BlockingIssues:  blocking,
		Recommendations: recommendations,
	}
	if lib.Pack != nil {
		res.PackID = lib.Pack.RunID
	}
	return res
}

// checkCoverage wants at least six distinct hook types and six distinct
// tension tools across the positive references.
func checkCoverage(refs []Reference) Check {
	hooks := make(map[string]bool)
	tools := make(map[string]bool)
	for _, r := range refs {
		if r.HookType != "" {
			hooks[r.HookType] = true
		}
		if r.TensionTool != "" {
			tools[r.TensionTool] = true
		}
	}

	return Check{
		Name:   "coverage",
		Passed: len(hooks) >= 6 && len(tools) >= 6,
		Notes:  fmt.Sprintf("%d hook types and %d tension tools, need 6 of each", len(hooks), len(tools)),
	}
}

// checkCoherence wants at least four anti-references to block style drift.
func checkCoherence(refs []Reference) Check {
	var antiIDs []string
	for _, r := range refs {
		if r.IsAntiRef {
			antiIDs = append(antiIDs, r.RefID)
		}
	}
	sort.Strings(antiIDs)

	return Check{
		Name:    "coherence",
		Passed:  len(antiIDs) >= 4,
		Notes:   fmt.Sprintf("%d anti-references present, need 4", len(antiIDs)),
		Details: antiIDs,
	}
}

// checkUtility wants every reference cited by at least one beat card.
func checkUtility(refs []Reference, cards []BeatCard) Check {
	cited := make(map[string]bool)
	for _, card := range cards {
		for _, id := range card.ExampleRefs {
			cited[id] = true
		}
	}

	var orphans []string
	for _, r := range refs {
		if !cited[r.RefID] {
			orphans = append(orphans, r.RefID)
		}
	}

	pct := 100.0
	if len(refs) > 0 {
		pct = float64(len(refs)-len(orphans)) / float64(len(refs)) * 100
	}
	return Check{
		Name:    "utility",
		Passed:  len(refs) > 0 && len(orphans) == 0,
		Notes:   fmt.Sprintf("%.1f%% of references linked to beat cards, need 100%%", pct),
		Details: orphans,
	}
}

// checkRedundancy flags near-duplicate pairs: same visual function and more
// than half the smaller mood-tag set shared. Under 10%% of references may be
// involved in such pairs.
func checkRedundancy(refs []Reference) Check {
	dupRefs := make(map[string]bool)
	var pairs []string
	for i, a := range refs {
		for _, b := range refs[i+1:] {
			if a.VisualFunction != b.VisualFunction {
				continue
			}
			overlap := tagOverlap(a.MoodTags, b.MoodTags)
			if overlap > 0.5 {
				pairs = append(pairs, a.RefID+"/"+b.RefID)
				dupRefs[a.RefID] = true
				dupRefs[b.RefID] = true
			}
		}
	}

	pct := 0.0
	if len(refs) > 0 {
		pct = float64(len(dupRefs)) / float64(len(refs)) * 100
	}
	return Check{
		Name:    "redundancy",
		Passed:  pct < 10,
		Notes:   fmt.Sprintf("%d near-duplicate pairs, %.1f%% of references involved", len(pairs), pct),
		Details: pairs,
	}
}

func tagOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	shared := 0
	for _, t := range b {
		if set[t] {
			shared++
		}
	}
	return float64(shared) / float64(min(len(a), len(b)))
}

// checkRenderability wants at least 70%% of references feasible for
// single-frame generation (high or medium feasibility).
func checkRenderability(refs []Reference) Check {
	feasible := 0
	var low []string
	for _, r := range refs {
		switch r.Constraints.AIFeasibility {
		case "high", "medium":
			feasible++
		default:
			low = append(low, r.RefID)
		}
	}

	pct := 0.0
	if len(refs) > 0 {
		pct = float64(feasible) / float64(len(refs)) * 100
	}
	return Check{
		Name:    "renderability",
		Passed:  pct >= 70,
		Notes:   fmt.Sprintf("%.1f%% feasible (%d/%d), need 70%%", pct, feasible, len(refs)),
		Details: low,
	}
}

var storyPhases = []string{"hook", "escalation", "peak", "ending"}

// checkPackDiscipline wants a pack of at most twelve selections that covers
// every story phase.
func checkPackDiscipline(pack *Pack) Check {
	if pack == nil {
		return Check{
			Name:    "pack_discipline",
			Passed:  false,
			Notes:   "no reference pack provided",
			Details: storyPhases,
		}
	}

	roles := make(map[string]bool)
	for _, sel := range pack.SelectedRefs {
		roles[sel.RoleInStory] = true
	}
	var missing []string
	for _, phase := range storyPhases {
		if !roles[phase] {
			missing = append(missing, phase)
		}
	}

	count := len(pack.SelectedRefs)
	notes := fmt.Sprintf("%d references selected covering all phases", count)
	if len(missing) > 0 {
		notes = fmt.Sprintf("%d references selected, missing phases: %s", count, strings.Join(missing, ", "))
	} else if count > 12 {
		notes = fmt.Sprintf("%d references selected, limit is 12", count)
	}
	return Check{
		Name:    "pack_discipline",
		Passed:  count <= 12 && len(missing) == 0,
		Notes:   notes,
		Details: missing,
	}
}
