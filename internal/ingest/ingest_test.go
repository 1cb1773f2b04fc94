package ingest

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/tiger/filmgate/api/preprod"
	"github.com/tiger/filmgate/internal/artifacts"
	"github.com/tiger/filmgate/internal/config"
	"github.com/tiger/filmgate/internal/state"
)

func newRun(t *testing.T) (*state.Store, *state.RunState) {
	t.Helper()
	store := state.NewStore(t.TempDir())
	store.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	st, err := store.CreateRun("run.yaml", config.Default())
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return store, st
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func testScript() preprod.Script {
	return preprod.Script{
		Title:      "Night Swim",
		Logline:    "A lifeguard must reopen the pool she closed.",
		Theme:      "trust under pressure",
		Characters: []string{"Mara", "Iris"},
		Locations:  []string{"pool", "office"},
		Lines: []preprod.ScriptLine{
			{LineID: "L1", Kind: preprod.LineAction, Text: "Mara unlocks the gate.", DurationS: 4},
			{LineID: "L2", Kind: preprod.LineDialogue, Speaker: "Mara", Text: "We open at dawn.", DurationS: 3},
		},
	}
}

func testReview() preprod.ScriptReview {
	return preprod.ScriptReview{
		ApprovedCharacters: []string{"Mara", "Iris"},
		ApprovedStoryFacts: []string{"the pool was closed after an accident"},
		UnresolvedItems:    []string{},
		LockStoryFacts:     true,
	}
}

func testPromptPackage(reviewID string) preprod.ImagePromptPackage {
	return preprod.ImagePromptPackage{
		ScriptReviewID: reviewID,
		StyleAnchor:    "muted teal dawn light, grainy 16mm texture",
		ImagePrompts: []preprod.ImagePromptShot{
			{ShotID: "S01", Intent: "establish the empty pool", ImagePrompt: "wide establishing shot of an empty outdoor pool at dawn", NegativePrompt: "no people"},
			{ShotID: "S02", Intent: "introduce Mara", ImagePrompt: "medium shot of Mara at the chained gate, keys in hand", NegativePrompt: "no crowds"},
			{ShotID: "S03", Intent: "tension", ImagePrompt: "close-up of the cracked pool tiles under Mara's torch", NegativePrompt: "no daylight"},
		},
	}
}

func testSelected(packageID string) preprod.SelectedImages {
	return preprod.SelectedImages{
		ImagePromptPackageID: packageID,
		Images: []preprod.SelectedImage{
			{ShotID: "S01", ImagePath: "renders/s01.png"},
			{ShotID: "S02", ImagePath: "renders/s02.png"},
			{ShotID: "S03", ImagePath: "renders/s03.png"},
		},
	}
}

func testAVPackage(packageID, selectedID string) preprod.AVPromptPackage {
	return preprod.AVPromptPackage{
		ImagePromptPackageID: packageID,
		SelectedImagesID:     selectedID,
		Shots: []preprod.AVPromptShot{
			{ShotID: "S01", VideoPrompt: "slow push-in over the still water"},
			{ShotID: "S02", VideoPrompt: "Mara turns the key, gate swings open", TTSText: "We open at dawn.", TTSSpeaker: "Mara"},
			{ShotID: "S03", VideoPrompt: "torchlight sweeps across cracked tiles"},
		},
	}
}

func TestSubmitShowrunnerAdvancesToGate1(t *testing.T) {
	t.Parallel()

	store, st := newRun(t)
	st.CurrentState = preprod.StateCollectShowrunner

	res, err := Submit(store, st, preprod.RoleShowrunner, mustJSON(t, testScript()))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.NextState != preprod.StateGate1 {
		t.Fatalf("next state: %s", res.NextState)
	}
	if st.CurrentState != preprod.StateGate1 {
		t.Fatalf("run state: %s", st.CurrentState)
	}
	rec, ok := st.Artifact(preprod.RoleShowrunner)
	if !ok {
		t.Fatal("artifact record missing")
	}
	if rec.SHA256 != res.SHA256 {
		t.Fatalf("record hash %s != result hash %s", rec.SHA256, res.SHA256)
	}
	raw, err := os.ReadFile(rec.Path)
	if err != nil {
		t.Fatalf("read persisted artifact: %v", err)
	}
	if !strings.HasPrefix(string(raw), `{"characters":`) {
		t.Fatalf("artifact not canonicalized: %s", raw[:40])
	}
}

func TestSubmitDirectionSetsContentAddressedPointer(t *testing.T) {
	t.Parallel()

	store, st := newRun(t)
	st.CurrentState = preprod.StateCollectDirection

	if _, err := Submit(store, st, preprod.RoleDirection, mustJSON(t, testReview())); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if st.LatestDirectionPackID == "" {
		t.Fatal("direction pointer not set")
	}
	if st.CurrentState != preprod.StateGate2 {
		t.Fatalf("run state: %s", st.CurrentState)
	}

	// Same payload with shuffled key order must produce the same identity.
	other := newRunState(t, store)
	other.CurrentState = preprod.StateCollectDirection
	reordered := []byte(`{"lock_story_facts":true,"unresolved_items":[],"approved_story_facts":["the pool was closed after an accident"],"approved_characters":["Mara","Iris"]}`)
	if _, err := Submit(store, other, preprod.RoleDirection, reordered); err != nil {
		t.Fatalf("submit reordered: %v", err)
	}
	if other.LatestDirectionPackID != st.LatestDirectionPackID {
		t.Fatalf("pointer not key-order stable: %s vs %s", other.LatestDirectionPackID, st.LatestDirectionPackID)
	}
}

func newRunState(t *testing.T, store *state.Store) *state.RunState {
	t.Helper()
	st, err := store.CreateRun("run.yaml", config.Default())
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return st
}

func TestSubmitRejectsStaleReviewPointer(t *testing.T) {
	t.Parallel()

	store, st := newRun(t)
	st.CurrentState = preprod.StateCollectDirection
	if _, err := Submit(store, st, preprod.RoleDirection, mustJSON(t, testReview())); err != nil {
		t.Fatalf("submit review: %v", err)
	}
	st.CurrentState = preprod.StateCollectDanceMapping

	before := st.CurrentState
	_, err := Submit(store, st, preprod.RoleDanceMapping, mustJSON(t, testPromptPackage("stale-id")))
	if !IsReferentialIntegrityError(err) {
		t.Fatalf("expected referential integrity error, got %v", err)
	}
	if st.CurrentState != before {
		t.Fatalf("state mutated on rejected submission: %s", st.CurrentState)
	}
	if _, ok := st.Artifact(preprod.RoleDanceMapping); ok {
		t.Fatal("rejected artifact was recorded")
	}
}

func TestSubmitRejectsPackageBeforeReview(t *testing.T) {
	t.Parallel()

	store, st := newRun(t)
	st.CurrentState = preprod.StateCollectDanceMapping

	_, err := Submit(store, st, preprod.RoleDanceMapping, mustJSON(t, testPromptPackage("anything")))
	if !IsReferentialIntegrityError(err) {
		t.Fatalf("expected referential integrity error, got %v", err)
	}
}

func TestSubmitSchemaErrorLeavesRunUntouched(t *testing.T) {
	t.Parallel()

	store, st := newRun(t)
	st.CurrentState = preprod.StateCollectShowrunner

	_, err := Submit(store, st, preprod.RoleShowrunner, []byte(`{"title": 42}`))
	if !artifacts.IsSchemaError(err) {
		t.Fatalf("expected schema error, got %v", err)
	}
	if st.CurrentState != preprod.StateCollectShowrunner {
		t.Fatalf("state mutated: %s", st.CurrentState)
	}
}

func TestFullCollectionChain(t *testing.T) {
	t.Parallel()

	store, st := newRun(t)
	st.CurrentState = preprod.StateCollectShowrunner

	if _, err := Submit(store, st, preprod.RoleShowrunner, mustJSON(t, testScript())); err != nil {
		t.Fatalf("showrunner: %v", err)
	}
	st.CurrentState = preprod.StateCollectDirection
	if _, err := Submit(store, st, preprod.RoleDirection, mustJSON(t, testReview())); err != nil {
		t.Fatalf("direction: %v", err)
	}
	st.CurrentState = preprod.StateCollectDanceMapping
	if _, err := Submit(store, st, preprod.RoleDanceMapping, mustJSON(t, testPromptPackage(st.LatestDirectionPackID))); err != nil {
		t.Fatalf("dance mapping: %v", err)
	}
	if st.CurrentState != preprod.StateGate3 {
		t.Fatalf("after dance mapping: %s", st.CurrentState)
	}
	st.CurrentState = preprod.StateCollectCinematograph
	if _, err := Submit(store, st, preprod.RoleCinematograph, mustJSON(t, testSelected(st.LatestImagePromptPackage))); err != nil {
		t.Fatalf("cinematography: %v", err)
	}
	if st.CurrentState != preprod.StateCollectAudio {
		t.Fatalf("after cinematography: %s", st.CurrentState)
	}
	res, err := Submit(store, st, preprod.RoleAudio, mustJSON(t, testAVPackage(st.LatestImagePromptPackage, st.LatestSelectedImagesID)))
	if err != nil {
		t.Fatalf("audio: %v", err)
	}
	if res.NextState != preprod.StateLockPreprod {
		t.Fatalf("after audio: %s", res.NextState)
	}
	if len(Missing(st)) != 0 {
		t.Fatalf("missing after full chain: %v", Missing(st))
	}
}

func TestSubmitAudioRejectsWrongSelectedImagesID(t *testing.T) {
	t.Parallel()

	store, st := newRun(t)
	st.CurrentState = preprod.StateCollectDirection
	if _, err := Submit(store, st, preprod.RoleDirection, mustJSON(t, testReview())); err != nil {
		t.Fatalf("direction: %v", err)
	}
	st.CurrentState = preprod.StateCollectDanceMapping
	if _, err := Submit(store, st, preprod.RoleDanceMapping, mustJSON(t, testPromptPackage(st.LatestDirectionPackID))); err != nil {
		t.Fatalf("dance mapping: %v", err)
	}
	st.CurrentState = preprod.StateCollectCinematograph
	if _, err := Submit(store, st, preprod.RoleCinematograph, mustJSON(t, testSelected(st.LatestImagePromptPackage))); err != nil {
		t.Fatalf("cinematography: %v", err)
	}

	_, err := Submit(store, st, preprod.RoleAudio, mustJSON(t, testAVPackage(st.LatestImagePromptPackage, "wrong")))
	if !IsReferentialIntegrityError(err) {
		t.Fatalf("expected referential integrity error, got %v", err)
	}
}

func TestLoadRoundTripsTypedArtifact(t *testing.T) {
	t.Parallel()

	store, st := newRun(t)
	st.CurrentState = preprod.StateCollectShowrunner
	if _, err := Submit(store, st, preprod.RoleShowrunner, mustJSON(t, testScript())); err != nil {
		t.Fatalf("submit: %v", err)
	}

	artifact, err := Load(st, preprod.RoleShowrunner)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	script, ok := artifact.(preprod.Script)
	if !ok {
		t.Fatalf("expected script, got %T", artifact)
	}
	if script.Title != "Night Swim" {
		t.Fatalf("title: %s", script.Title)
	}
}

func TestMissingListsPipelineOrder(t *testing.T) {
	t.Parallel()

	store, st := newRun(t)
	st.CurrentState = preprod.StateCollectShowrunner
	if _, err := Submit(store, st, preprod.RoleShowrunner, mustJSON(t, testScript())); err != nil {
		t.Fatalf("submit: %v", err)
	}
	missing := Missing(st)
	want := []preprod.Role{preprod.RoleDirection, preprod.RoleDanceMapping, preprod.RoleCinematograph, preprod.RoleAudio}
	if len(missing) != len(want) {
		t.Fatalf("missing: %v", missing)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Fatalf("missing[%d]: got %s want %s", i, missing[i], want[i])
		}
	}
}
