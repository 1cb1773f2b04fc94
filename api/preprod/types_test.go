package preprod

import (
	"strings"
	"testing"
)

func validScript() Script {
	return Script{
		Title:      "Night Swim",
		Logline:    "A lifeguard must face the pool she closed.",
		Theme:      "trust under pressure",
		Characters: []string{"Mara", "Theo"},
		Locations:  []string{"pool", "hallway"},
		Lines: []ScriptLine{
			{LineID: "L1", Kind: LineAction, Text: "Mara unlocks the pool gate.", DurationS: 3},
			{LineID: "L2", Kind: LineDialogue, Speaker: "Mara", Text: "We open at dawn.", DurationS: 2.5},
		},
	}
}

func TestScriptValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Script)
		wantErr string
	}{
		{name: "valid", mutate: func(*Script) {}},
		{name: "missing title", mutate: func(s *Script) { s.Title = "  " }, wantErr: "title"},
		{name: "no characters", mutate: func(s *Script) { s.Characters = nil }, wantErr: "character"},
		{name: "no lines", mutate: func(s *Script) { s.Lines = nil }, wantErr: "line"},
		{name: "dialogue without speaker", mutate: func(s *Script) { s.Lines[1].Speaker = "" }, wantErr: "speaker"},
		{name: "bad kind", mutate: func(s *Script) { s.Lines[0].Kind = "montage" }, wantErr: "kind"},
		{name: "non-positive duration", mutate: func(s *Script) { s.Lines[0].DurationS = 0 }, wantErr: "duration"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			script := validScript()
			tc.mutate(&script)
			err := script.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestScriptTotalDuration(t *testing.T) {
	t.Parallel()

	script := validScript()
	if got := script.TotalDurationS(); got != 5.5 {
		t.Fatalf("expected 5.5s total, got %v", got)
	}
}

func TestSelectedImagesBounds(t *testing.T) {
	t.Parallel()

	base := SelectedImages{
		ImagePromptPackageID: "abc123",
		Images: []SelectedImage{
			{ShotID: "S01", ImagePath: "s01.png"},
			{ShotID: "S02", ImagePath: "s02.png"},
			{ShotID: "S03", ImagePath: "s03.png"},
		},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	tooFew := base
	tooFew.Images = base.Images[:2]
	if err := tooFew.Validate(); err == nil {
		t.Fatal("expected error for fewer than 3 images")
	}

	tooMany := base
	for i := 0; i < 8; i++ {
		tooMany.Images = append(tooMany.Images, SelectedImage{ShotID: "SX", ImagePath: "x.png"})
	}
	if err := tooMany.Validate(); err == nil {
		t.Fatal("expected error for more than 10 images")
	}
}

func TestAVPromptPackageRequiresPointers(t *testing.T) {
	t.Parallel()

	pkg := AVPromptPackage{
		ImagePromptPackageID: "ipp",
		SelectedImagesID:     "sel",
		Shots:                []AVPromptShot{{ShotID: "S01", VideoPrompt: "slow push in"}},
	}
	if err := pkg.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	pkg.SelectedImagesID = ""
	if err := pkg.Validate(); err == nil {
		t.Fatal("expected error for missing selected_images_id")
	}
}

func TestFinalMetricsValidate(t *testing.T) {
	t.Parallel()

	metrics := FinalMetrics{VideoScore2: 0.8, VBench2Physics: 0.7, IdentityDrift: 0.1, AudioSyncScore: 90, SpecHash: "deadbeef", OneShotRender: true}
	if err := metrics.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	metrics.AudioSyncScore = 120
	if err := metrics.Validate(); err == nil {
		t.Fatal("expected error for out-of-range audiosync_score")
	}
}

func TestStateTerminal(t *testing.T) {
	t.Parallel()

	if !StateFailed.IsTerminal() || !StateComplete.IsTerminal() {
		t.Fatal("COMPLETE and FAILED must be terminal")
	}
	if StateGate1.IsTerminal() {
		t.Fatal("GATE1 must not be terminal")
	}
}
