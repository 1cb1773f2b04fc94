package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tiger/filmgate/api/preprod"
	"github.com/tiger/filmgate/internal/config"
	"github.com/tiger/filmgate/internal/gates/storyqa"
	"github.com/tiger/filmgate/internal/state"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ModelCandidates = []config.ModelCandidate{
		{Name: "nova-2", WeightedScore: 0.91, Physics: 0.8, HumanFidelity: 0.75, Identity: 0.82},
	}
	return cfg
}

func newOrchestrator(t *testing.T, cfg config.Config) (*Orchestrator, *state.Store, *state.RunState) {
	t.Helper()

	store := state.NewStore(t.TempDir())
	store.Now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	o := New(store, cfg)
	st, err := o.CreateRun("config.yaml")
	if err != nil {
		t.Fatal(err)
	}
	return o, store, st
}

func submit(t *testing.T, o *Orchestrator, st *state.RunState, role preprod.Role, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Submit(st, role, raw); err != nil {
		t.Fatalf("submit %s: %v", role, err)
	}
}

func validate(t *testing.T, o *Orchestrator, st *state.RunState, gate string, wantPass bool) {
	t.Helper()

	report, err := o.ValidateGate(st, gate)
	if err != nil {
		t.Fatalf("validate %s: %v", gate, err)
	}
	if report.Passed != wantPass {
		t.Fatalf("%s passed = %t, want %t; reasons %v", gate, report.Passed, wantPass, report.Reasons)
	}
}

func readEvents(t *testing.T, store *state.Store, runID string) []string {
	t.Helper()

	raw, err := os.ReadFile(store.EventsPath(runID))
	if err != nil {
		t.Fatal(err)
	}
	var kinds []string
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var entry struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode event line %q: %v", line, err)
		}
		kinds = append(kinds, entry.Event)
	}
	return kinds
}

func hasKind(kinds []string, want string) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// poolScript is a 25-line script that clears gate1 with default thresholds.
func poolScript() preprod.Script {
	action := func(id, text string) preprod.ScriptLine {
		return preprod.ScriptLine{LineID: id, Kind: preprod.LineAction, Text: text, DurationS: 3.8}
	}
	dialogue := func(id, speaker, text string) preprod.ScriptLine {
		return preprod.ScriptLine{LineID: id, Kind: preprod.LineDialogue, Speaker: speaker, Text: text, DurationS: 3.8}
	}
	return preprod.Script{
		Title:      "The Night Pool",
		Logline:    "A lifeguard must discover what is wrong with the pool she closed.",
		Theme:      "trust rebuilt under pressure",
		Characters: []string{"Mara", "Iris"},
		Locations:  []string{"pool", "hallway"},
		Lines: []preprod.ScriptLine{
			action("L01", "Mara notices a strange pulse under the pool water."),
			dialogue("L02", "Mara", "Something is wrong with the filtration light."),
			action("L03", "She waits, uneasy, as the pulse grows against the dark tiles."),
			dialogue("L04", "Iris", "Why would the light come back tonight?"),
			action("L05", "Mara decides to enter the pump room despite the warning sign."),
			action("L06", "An alarm sounds and emergency lights flood the pool deck."),
			dialogue("L07", "Mara", "Hold steady and keep the deck clear."),
			dialogue("L08", "Iris", "The pump is angry tonight."),
			action("L09", "Mara walks into the hallway, following the red glow."),
			action("L10", "The hallway hums, its old light flickering against the paint."),
			dialogue("L11", "Iris", "You should not trust that old wiring."),
			dialogue("L12", "Mara", "Trust is earned one repair at a time."),
			action("L13", "She reaches the breaker box and touches the warm metal."),
			action("L14", "A quick spark snaps across the panel."),
			action("L15", "Mara returns to the pool with the spare sensor."),
			dialogue("L16", "Mara", "The pulse is really just a failing sensor, not a ghost."),
			action("L17", "She removes the cracked sensor from the water."),
			dialogue("L18", "Iris", "You found it ahead of the morning swim."),
			action("L19", "Mara steps back and watches the water settle."),
			dialogue("L20", "Mara", "We rebuild trust one small repair at a time."),
			action("L21", "The faint pulse fades slowly from the deep end."),
			action("L22", "Calm water reflects the steady overhead light."),
			dialogue("L23", "Iris", "The pool is safe for the morning crowd."),
			action("L24", "Mara locks the pump room and writes the repair report."),
			dialogue("L25", "Mara", "We are done here, and the water is calm."),
		},
	}
}

func approvedReview() preprod.ScriptReview {
	return preprod.ScriptReview{
		ApprovedCharacters: []string{"Mara: night lifeguard at the pool", "Iris"},
		ApprovedStoryFacts: []string{"the pulse is a failing sensor, not a ghost"},
		UnresolvedItems:    []string{},
		Notes:              "Clean pass on the final act.",
		LockStoryFacts:     true,
	}
}

func promptPackage(reviewID string) preprod.ImagePromptPackage {
	return preprod.ImagePromptPackage{
		ScriptReviewID: reviewID,
		StyleAnchor:    "muted teal dawn, film grain",
		ImagePrompts: []preprod.ImagePromptShot{
			{
				ShotID:         "s1",
				Intent:         "establish the goal",
				ImagePrompt:    "Wide establishing shot of the pool deck, Mara at the edge, low camera angle, soft light.",
				NegativePrompt: "text, watermark",
			},
			{
				ShotID:         "s2",
				Intent:         "reveal the obstacle",
				ImagePrompt:    "Close shot through the hallway window, Mara still wearing her red jacket half in shadow, camera holds.",
				NegativePrompt: "text, watermark",
			},
			{
				ShotID:         "s3",
				Intent:         "confront the alarm",
				ImagePrompt:    "Tight shot in the hallway, Mara in the same outfit, silhouette against emergency light, handheld camera.",
				NegativePrompt: "text, watermark",
			},
			{
				ShotID:         "s4",
				Intent:         "she decides to act",
				ImagePrompt:    "Overhead shot of the pool, Mara unchanged from before, calm water, camera static in a wide frame.",
				NegativePrompt: "text, watermark",
			},
		},
	}
}

func selectedImages(st *state.RunState) preprod.SelectedImages {
	return preprod.SelectedImages{
		ImagePromptPackageID: st.LatestImagePromptPackage,
		Images: []preprod.SelectedImage{
			{ShotID: "s1", ImagePath: "renders/s1/take3.png"},
			{ShotID: "s2", ImagePath: "renders/s2/take1.png"},
			{ShotID: "s3", ImagePath: "renders/s3/take2.png"},
		},
	}
}

func avPackage(st *state.RunState) preprod.AVPromptPackage {
	return preprod.AVPromptPackage{
		ImagePromptPackageID: st.LatestImagePromptPackage,
		SelectedImagesID:     st.LatestSelectedImagesID,
		GlobalNegative:       "text, watermark, extra fingers",
		Shots: []preprod.AVPromptShot{
			{
				ShotID:      "s1",
				VideoPrompt: "Slow push toward Mara at the pool edge, water barely moving.",
				AudioPrompt: "low room tone, distant hum",
			},
			{
				ShotID:      "s2",
				VideoPrompt: "Mara turns through the hallway shadow, camera holds on her face.",
				TTSText:     "Something is wrong with the filtration light.",
				TTSSpeaker:  "Mara",
			},
			{
				ShotID:      "s3",
				VideoPrompt: "Handheld drift as Mara reaches the breaker box in silhouette.",
			},
		},
	}
}

func TestGate0PassOpensCollection(t *testing.T) {
	t.Parallel()

	o, store, st := newOrchestrator(t, testConfig())

	report, err := o.RunGate0(st)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Passed {
		t.Fatalf("expected pass, got reasons %v", report.Reasons)
	}
	if st.CurrentState != preprod.StateCollectShowrunner {
		t.Fatalf("state = %s, want COLLECT_SHOWRUNNER", st.CurrentState)
	}
	if st.GateStatus["gate0"] != preprod.GatePassed {
		t.Fatalf("gate0 status = %s", st.GateStatus["gate0"])
	}

	// The transition is persisted, not just in memory.
	reloaded, err := store.Load(st.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.CurrentState != preprod.StateCollectShowrunner {
		t.Fatalf("persisted state = %s", reloaded.CurrentState)
	}

	// Gate0 cannot run again once collection is open.
	if _, err := o.RunGate0(st); !IsIllegalStateTransition(err) {
		t.Fatalf("rerun error = %v, want IllegalStateTransition", err)
	}
}

func TestGate0WithoutCandidatesFailsRun(t *testing.T) {
	t.Parallel()

	o, _, st := newOrchestrator(t, config.Default())

	report, err := o.RunGate0(st)
	if err != nil {
		t.Fatal(err)
	}
	if report.Passed {
		t.Fatal("expected fail without model candidates")
	}
	if st.CurrentState != preprod.StateFailed {
		t.Fatalf("state = %s, want FAILED", st.CurrentState)
	}

	raw, _ := json.Marshal(poolScript())
	if _, err := o.Submit(st, preprod.RoleShowrunner, raw); !IsIllegalStateTransition(err) {
		t.Fatalf("submit after failure = %v, want IllegalStateTransition", err)
	}
}

func TestFullLifecycleReachesComplete(t *testing.T) {
	t.Parallel()

	o, store, st := newOrchestrator(t, testConfig())
	if _, err := o.RunGate0(st); err != nil {
		t.Fatal(err)
	}

	submit(t, o, st, preprod.RoleShowrunner, poolScript())
	if st.CurrentState != preprod.StateGate1 {
		t.Fatalf("state after script = %s, want GATE1", st.CurrentState)
	}
	anchorFile := filepath.Join(store.ArtifactDir(st.RunID, 1), "story_anchor.json")
	if _, err := os.Stat(anchorFile); err != nil {
		t.Fatalf("story anchor not persisted: %v", err)
	}

	validate(t, o, st, "gate1", true)
	if st.CurrentState != preprod.StateCollectDirection {
		t.Fatalf("state after gate1 = %s, want COLLECT_DIRECTION", st.CurrentState)
	}

	submit(t, o, st, preprod.RoleDirection, approvedReview())
	validate(t, o, st, "gate2", true)
	if st.CurrentState != preprod.StateCollectDanceMapping {
		t.Fatalf("state after gate2 = %s", st.CurrentState)
	}

	submit(t, o, st, preprod.RoleDanceMapping, promptPackage(st.LatestDirectionPackID))
	validate(t, o, st, "gate3", true)
	if st.CurrentState != preprod.StateCollectCinematograph {
		t.Fatalf("state after gate3 = %s", st.CurrentState)
	}

	submit(t, o, st, preprod.RoleCinematograph, selectedImages(st))
	if st.CurrentState != preprod.StateCollectAudio {
		t.Fatalf("state after selected images = %s", st.CurrentState)
	}

	submit(t, o, st, preprod.RoleAudio, avPackage(st))
	if st.CurrentState != preprod.StateFinalRender {
		t.Fatalf("state after audio = %s, want FINAL_RENDER", st.CurrentState)
	}
	if st.PreprodLockedIteration != 1 {
		t.Fatalf("locked iteration = %d, want 1", st.PreprodLockedIteration)
	}
	if st.LockedSpecHash == "" {
		t.Fatal("spec hash not recorded at lock time")
	}
	lockedHash := st.LockedSpecHash

	submit(t, o, st, preprod.RoleFinalMetrics, preprod.FinalMetrics{
		VideoScore2:    0.82,
		VBench2Physics: 0.78,
		IdentityDrift:  0.1,
		AudioSyncScore: 88,
		SpecHash:       st.LockedSpecHash,
		OneShotRender:  true,
	})
	validate(t, o, st, "gate4", true)
	if st.CurrentState != preprod.StateComplete {
		t.Fatalf("final state = %s, want COMPLETE", st.CurrentState)
	}
	for _, gate := range preprod.GateNames {
		if st.GateStatus[gate] != preprod.GatePassed {
			t.Fatalf("gate %s status = %s, want passed", gate, st.GateStatus[gate])
		}
	}
	if st.PreprodLockedIteration != 1 || st.LockedSpecHash != lockedHash {
		t.Fatal("lock fields changed after locking")
	}

	kinds := readEvents(t, store, st.RunID)
	for _, want := range []string{"run_created", "artifact_submitted", "gate_validated", "preprod_locked"} {
		if !hasKind(kinds, want) {
			t.Fatalf("event log %v missing %q", kinds, want)
		}
	}
}

func TestIllegalSubmissionDoesNotMutateRun(t *testing.T) {
	t.Parallel()

	o, store, st := newOrchestrator(t, testConfig())
	if _, err := o.RunGate0(st); err != nil {
		t.Fatal(err)
	}

	before, err := store.Load(st.RunID)
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := json.Marshal(approvedReview())
	_, err = o.Submit(st, preprod.RoleDirection, raw)
	if !IsIllegalStateTransition(err) {
		t.Fatalf("error = %v, want IllegalStateTransition", err)
	}

	after, err := store.Load(st.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatal("rejected submission changed the persisted run document")
	}

	entries, err := os.ReadDir(store.ArtifactDir(st.RunID, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected submission wrote files: %v", entries)
	}
}

func TestGate1FailureStartsFreshIteration(t *testing.T) {
	t.Parallel()

	script := poolScript()
	for i := range script.Lines {
		script.Lines[i].Kind = preprod.LineAction
		script.Lines[i].Speaker = ""
	}

	o, _, st := newOrchestrator(t, testConfig())
	if _, err := o.RunGate0(st); err != nil {
		t.Fatal(err)
	}
	submit(t, o, st, preprod.RoleShowrunner, script)

	validate(t, o, st, "gate1", false)
	if st.CurrentState != preprod.StateCollectShowrunner {
		t.Fatalf("state = %s, want COLLECT_SHOWRUNNER", st.CurrentState)
	}
	if st.CurrentIteration != 2 {
		t.Fatalf("iteration = %d, want 2", st.CurrentIteration)
	}
	if st.RetryCounts["gate1"] != 1 {
		t.Fatalf("gate1 retries = %d, want 1", st.RetryCounts["gate1"])
	}
	// A gate1 retry starts from nothing: the new iteration has no artifacts.
	if _, ok := st.Artifact(preprod.RoleShowrunner); ok {
		t.Fatal("failed script carried into the new iteration")
	}
	if st.GateStatus["gate1"] != preprod.GatePending {
		t.Fatalf("gate1 status = %s, want pending for the retry", st.GateStatus["gate1"])
	}
}

func TestGate2RetryExhaustionFailsRun(t *testing.T) {
	t.Parallel()

	o, _, st := newOrchestrator(t, testConfig())
	if _, err := o.RunGate0(st); err != nil {
		t.Fatal(err)
	}
	submit(t, o, st, preprod.RoleShowrunner, poolScript())
	validate(t, o, st, "gate1", true)

	unlocked := approvedReview()
	unlocked.LockStoryFacts = false

	// Failures one through three spend retries and roll back to
	// COLLECT_DIRECTION with the script carried forward.
	for attempt := 1; attempt <= 3; attempt++ {
		submit(t, o, st, preprod.RoleDirection, unlocked)
		validate(t, o, st, "gate2", false)

		if st.CurrentState != preprod.StateCollectDirection {
			t.Fatalf("attempt %d: state = %s, want COLLECT_DIRECTION", attempt, st.CurrentState)
		}
		if st.CurrentIteration != attempt+1 {
			t.Fatalf("attempt %d: iteration = %d, want %d", attempt, st.CurrentIteration, attempt+1)
		}
		if st.RetryCounts["gate2"] != attempt {
			t.Fatalf("attempt %d: gate2 retries = %d", attempt, st.RetryCounts["gate2"])
		}
		if _, ok := st.Artifact(preprod.RoleShowrunner); !ok {
			t.Fatalf("attempt %d: script missing after carry-forward", attempt)
		}
	}

	// The fourth failure exceeds the limit and the run is dead.
	submit(t, o, st, preprod.RoleDirection, unlocked)
	validate(t, o, st, "gate2", false)
	if st.CurrentState != preprod.StateFailed {
		t.Fatalf("state = %s, want FAILED", st.CurrentState)
	}
	if st.CurrentIteration != 4 {
		t.Fatalf("iteration = %d, want 4 (no new iteration after terminal failure)", st.CurrentIteration)
	}

	if _, err := o.ValidateGate(st, "gate2"); !IsIllegalStateTransition(err) {
		t.Fatalf("validate on FAILED run = %v, want IllegalStateTransition", err)
	}
}

func TestGate3FailureCarriesArtifactsForward(t *testing.T) {
	t.Parallel()

	o, _, st := newOrchestrator(t, testConfig())
	if _, err := o.RunGate0(st); err != nil {
		t.Fatal(err)
	}
	submit(t, o, st, preprod.RoleShowrunner, poolScript())
	validate(t, o, st, "gate1", true)
	submit(t, o, st, preprod.RoleDirection, approvedReview())
	validate(t, o, st, "gate2", true)

	bad := preprod.ImagePromptPackage{
		ScriptReviewID: st.LatestDirectionPackID,
		StyleAnchor:    "muted teal dawn, film grain",
		ImagePrompts: []preprod.ImagePromptShot{
			{ShotID: "S01", Intent: "open", ImagePrompt: "Wide establishing shot of the pool deck at dawn.", NegativePrompt: "text"},
			{ShotID: "S01", Intent: "open again", ImagePrompt: "Another wide shot of the pool deck at dawn, camera low.", NegativePrompt: "text"},
			{ShotID: "S02", Intent: "close", ImagePrompt: "Close shot of Mara in the hallway, same outfit as before.", NegativePrompt: "text"},
		},
	}
	submit(t, o, st, preprod.RoleDanceMapping, bad)

	prev := st.Iterations[state.IterationKey(1)]
	validate(t, o, st, "gate3", false)

	if st.CurrentState != preprod.StateCollectDanceMapping {
		t.Fatalf("state = %s, want COLLECT_DANCE_MAPPING", st.CurrentState)
	}
	if st.CurrentIteration != 2 {
		t.Fatalf("iteration = %d, want 2", st.CurrentIteration)
	}

	// Carried copies are byte-identical to the originals.
	for _, role := range []preprod.Role{preprod.RoleShowrunner, preprod.RoleDirection, preprod.RoleDanceMapping} {
		carried, ok := st.Artifact(role)
		if !ok {
			t.Fatalf("%s not carried forward", role)
		}
		original := prev.Artifacts[role]
		if carried.SHA256 != original.SHA256 {
			t.Fatalf("%s hash changed across carry-forward", role)
		}
		want, err := os.ReadFile(original.Path)
		if err != nil {
			t.Fatal(err)
		}
		got, err := os.ReadFile(carried.Path)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(want, got) {
			t.Fatalf("%s bytes changed across carry-forward", role)
		}
	}
}

func TestGate4FailureIsTerminal(t *testing.T) {
	t.Parallel()

	o, _, st := newOrchestrator(t, testConfig())
	if _, err := o.RunGate0(st); err != nil {
		t.Fatal(err)
	}
	submit(t, o, st, preprod.RoleShowrunner, poolScript())
	validate(t, o, st, "gate1", true)
	submit(t, o, st, preprod.RoleDirection, approvedReview())
	validate(t, o, st, "gate2", true)
	submit(t, o, st, preprod.RoleDanceMapping, promptPackage(st.LatestDirectionPackID))
	validate(t, o, st, "gate3", true)
	submit(t, o, st, preprod.RoleCinematograph, selectedImages(st))
	submit(t, o, st, preprod.RoleAudio, avPackage(st))

	submit(t, o, st, preprod.RoleFinalMetrics, preprod.FinalMetrics{
		VideoScore2:    0.82,
		VBench2Physics: 0.78,
		IdentityDrift:  0.1,
		AudioSyncScore: 88,
		SpecHash:       st.LockedSpecHash,
		OneShotRender:  false,
	})
	validate(t, o, st, "gate4", false)
	if st.CurrentState != preprod.StateFailed {
		t.Fatalf("state = %s, want FAILED (gate4 has no retries)", st.CurrentState)
	}
	if st.CurrentIteration != 1 {
		t.Fatalf("iteration = %d, want 1", st.CurrentIteration)
	}
}

func TestStoryQAStandalonePersistsResult(t *testing.T) {
	t.Parallel()

	o, store, st := newOrchestrator(t, testConfig())
	if _, err := o.RunGate0(st); err != nil {
		t.Fatal(err)
	}

	if _, err := o.StoryQA(st); err == nil {
		t.Fatal("expected error without a script")
	}

	submit(t, o, st, preprod.RoleShowrunner, poolScript())

	result, err := o.StoryQA(st)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Passed {
		t.Fatalf("story QA failed: %v", result.BlockingIssues)
	}
	if len(result.Criteria) != len(storyqa.CriterionNames) {
		t.Fatalf("criteria count = %d", len(result.Criteria))
	}

	raw, err := os.ReadFile(storyqa.ResultPath(store, st))
	if err != nil {
		t.Fatalf("result not persisted: %v", err)
	}
	var reread storyqa.Result
	if err := json.Unmarshal(raw, &reread); err != nil {
		t.Fatal(err)
	}
	if reread.OverallScore != result.OverallScore {
		t.Fatalf("persisted overall = %v, want %v", reread.OverallScore, result.OverallScore)
	}

	if !hasKind(readEvents(t, store, st.RunID), "story_qa_evaluated") {
		t.Fatal("story_qa_evaluated event not logged")
	}
}

func TestStatusSnapshot(t *testing.T) {
	t.Parallel()

	o, _, st := newOrchestrator(t, testConfig())
	if _, err := o.RunGate0(st); err != nil {
		t.Fatal(err)
	}
	submit(t, o, st, preprod.RoleShowrunner, poolScript())
	validate(t, o, st, "gate1", true)
	submit(t, o, st, preprod.RoleDirection, approvedReview())

	status := o.Status(st)
	if status.State != preprod.StateGate2 {
		t.Fatalf("state = %s, want GATE2", status.State)
	}
	if status.Iteration != 1 {
		t.Fatalf("iteration = %d", status.Iteration)
	}
	if !reflect.DeepEqual(status.SubmittedRoles, []preprod.Role{preprod.RoleShowrunner, preprod.RoleDirection}) {
		t.Fatalf("submitted = %v", status.SubmittedRoles)
	}
	if len(status.MissingRoles) != 3 {
		t.Fatalf("missing = %v", status.MissingRoles)
	}
	if status.LatestDirectionPack == "" {
		t.Fatal("direction pointer not surfaced")
	}
	if status.PreprodLockedIteration != 0 {
		t.Fatalf("locked iteration = %d before lock", status.PreprodLockedIteration)
	}
}
