package preprod

import (
	"fmt"
	"strings"
)

// LineKind tags a script line as stage action or spoken dialogue.
type LineKind string

const (
	LineAction   LineKind = "action"
	LineDialogue LineKind = "dialogue"
)

// ScriptLine is one timed line of the script.
type ScriptLine struct {
	LineID    string   `json:"line_id"`
	Kind      LineKind `json:"kind"`
	Speaker   string   `json:"speaker,omitempty"`
	Text      string   `json:"text"`
	DurationS float64  `json:"duration_s"`
}

// Script is the showrunner artifact: the narrative source of truth for a run.
type Script struct {
	Title      string       `json:"title"`
	Logline    string       `json:"logline"`
	Theme      string       `json:"theme"`
	Characters []string     `json:"characters"`
	Locations  []string     `json:"locations"`
	Lines      []ScriptLine `json:"lines"`
}

// Validate enforces the structural schema for a script.
func (s Script) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(s.Characters) < 1 {
		return fmt.Errorf("at least one character is required")
	}
	if len(s.Lines) < 1 {
		return fmt.Errorf("at least one line is required")
	}
	for i, line := range s.Lines {
		if strings.TrimSpace(line.LineID) == "" {
			return fmt.Errorf("lines[%d]: line_id is required", i)
		}
		if line.Kind != LineAction && line.Kind != LineDialogue {
			return fmt.Errorf("lines[%d]: kind must be action or dialogue, got %q", i, line.Kind)
		}
		if line.Kind == LineDialogue && strings.TrimSpace(line.Speaker) == "" {
			return fmt.Errorf("lines[%d]: dialogue line requires a speaker", i)
		}
		if line.DurationS <= 0 {
			return fmt.Errorf("lines[%d]: duration_s must be positive", i)
		}
	}
	return nil
}

// TotalDurationS sums the per-line duration estimates.
func (s Script) TotalDurationS() float64 {
	total := 0.0
	for _, line := range s.Lines {
		total += line.DurationS
	}
	return total
}

// ScriptReview is the direction artifact: the doctor's approval record for the
// current script. Its canonical hash becomes the direction-pack identity
// pointer that later artifacts must reference.
type ScriptReview struct {
	ScriptHash         string   `json:"script_hash,omitempty"`
	ApprovedCharacters []string `json:"approved_characters"`
	ApprovedStoryFacts []string `json:"approved_story_facts"`
	UnresolvedItems    []string `json:"unresolved_items"`
	Notes              string   `json:"notes,omitempty"`
	LockStoryFacts     bool     `json:"lock_story_facts"`
}

// Validate enforces the structural schema for a script review.
func (r ScriptReview) Validate() error {
	if len(r.ApprovedCharacters) < 1 {
		return fmt.Errorf("approved_characters must not be empty")
	}
	return nil
}

// ImagePromptShot is one per-shot still-image prompt.
type ImagePromptShot struct {
	ShotID         string `json:"shot_id"`
	Intent         string `json:"intent"`
	ImagePrompt    string `json:"image_prompt"`
	NegativePrompt string `json:"negative_prompt"`
}

// ImagePromptPackage is the dance-mapping artifact: the shot-by-shot image
// prompt plan built against an approved script review.
type ImagePromptPackage struct {
	ScriptReviewID string            `json:"script_review_id"`
	StyleAnchor    string            `json:"style_anchor"`
	ImagePrompts   []ImagePromptShot `json:"image_prompts"`
}

// Validate enforces the structural schema for an image prompt package.
func (p ImagePromptPackage) Validate() error {
	if strings.TrimSpace(p.ScriptReviewID) == "" {
		return fmt.Errorf("script_review_id is required")
	}
	if len(p.ImagePrompts) < 1 {
		return fmt.Errorf("at least one image prompt is required")
	}
	for i, shot := range p.ImagePrompts {
		if strings.TrimSpace(shot.ShotID) == "" {
			return fmt.Errorf("image_prompts[%d]: shot_id is required", i)
		}
		if strings.TrimSpace(shot.ImagePrompt) == "" {
			return fmt.Errorf("image_prompts[%d]: image_prompt is required", i)
		}
	}
	return nil
}

// ShotIDs returns the declared shot ids in order, duplicates included.
func (p ImagePromptPackage) ShotIDs() []string {
	ids := make([]string, 0, len(p.ImagePrompts))
	for _, shot := range p.ImagePrompts {
		ids = append(ids, shot.ShotID)
	}
	return ids
}

// SelectedImage is one chosen still referencing a prompt shot id.
type SelectedImage struct {
	ShotID    string `json:"shot_id"`
	ImagePath string `json:"image_path"`
	Note      string `json:"note,omitempty"`
}

// SelectedImages is the cinematography artifact: the 3-10 stills chosen for
// animation, referencing the image prompt package they were rendered from.
type SelectedImages struct {
	ImagePromptPackageID string          `json:"image_prompt_package_id"`
	Images               []SelectedImage `json:"images"`
}

// Validate enforces the structural schema for a selected-images set.
func (s SelectedImages) Validate() error {
	if strings.TrimSpace(s.ImagePromptPackageID) == "" {
		return fmt.Errorf("image_prompt_package_id is required")
	}
	if len(s.Images) < 3 || len(s.Images) > 10 {
		return fmt.Errorf("images must contain between 3 and 10 entries, got %d", len(s.Images))
	}
	for i, img := range s.Images {
		if strings.TrimSpace(img.ShotID) == "" {
			return fmt.Errorf("images[%d]: shot_id is required", i)
		}
		if strings.TrimSpace(img.ImagePath) == "" {
			return fmt.Errorf("images[%d]: image_path is required", i)
		}
	}
	return nil
}

// ShotIDs returns the selected shot ids in order.
func (s SelectedImages) ShotIDs() []string {
	ids := make([]string, 0, len(s.Images))
	for _, img := range s.Images {
		ids = append(ids, img.ShotID)
	}
	return ids
}

// AVPromptShot carries the per-shot video, ambient-audio, and TTS text.
type AVPromptShot struct {
	ShotID      string `json:"shot_id"`
	VideoPrompt string `json:"video_prompt"`
	AudioPrompt string `json:"audio_prompt,omitempty"`
	TTSText     string `json:"tts_text,omitempty"`
	TTSSpeaker  string `json:"tts_speaker,omitempty"`
}

// AVPromptPackage is the audio artifact: motion and sound prompts for every
// selected shot, pinned to both upstream identity pointers.
type AVPromptPackage struct {
	ImagePromptPackageID string         `json:"image_prompt_package_id"`
	SelectedImagesID     string         `json:"selected_images_id"`
	GlobalNegative       string         `json:"global_negative,omitempty"`
	Shots                []AVPromptShot `json:"shots"`
}

// Validate enforces the structural schema for an AV prompt package.
func (p AVPromptPackage) Validate() error {
	if strings.TrimSpace(p.ImagePromptPackageID) == "" {
		return fmt.Errorf("image_prompt_package_id is required")
	}
	if strings.TrimSpace(p.SelectedImagesID) == "" {
		return fmt.Errorf("selected_images_id is required")
	}
	if len(p.Shots) < 1 {
		return fmt.Errorf("at least one shot is required")
	}
	for i, shot := range p.Shots {
		if strings.TrimSpace(shot.ShotID) == "" {
			return fmt.Errorf("shots[%d]: shot_id is required", i)
		}
		if strings.TrimSpace(shot.VideoPrompt) == "" {
			return fmt.Errorf("shots[%d]: video_prompt is required", i)
		}
	}
	return nil
}

// ShotIDs returns the covered shot ids in order.
func (p AVPromptPackage) ShotIDs() []string {
	ids := make([]string, 0, len(p.Shots))
	for _, shot := range p.Shots {
		ids = append(ids, shot.ShotID)
	}
	return ids
}

// DryRunMetrics carries externally measured scores from cheap dry-run renders.
type DryRunMetrics struct {
	VideoScore2    float64 `json:"videoscore2"`
	VBench2Physics float64 `json:"vbench2_physics"`
	IdentityDrift  float64 `json:"identity_drift"`
	BlockingIssues int     `json:"blocking_issues"`
}

// Validate enforces the structural schema for dry-run metrics.
func (m DryRunMetrics) Validate() error {
	if m.VideoScore2 < 0 || m.VBench2Physics < 0 || m.IdentityDrift < 0 {
		return fmt.Errorf("scores must be non-negative")
	}
	if m.BlockingIssues < 0 {
		return fmt.Errorf("blocking_issues must be non-negative")
	}
	return nil
}

// FinalMetrics carries externally measured scores from the final one-shot
// render, plus the spec hash proving which lock manifest it was rendered
// against.
type FinalMetrics struct {
	VideoScore2    float64 `json:"videoscore2"`
	VBench2Physics float64 `json:"vbench2_physics"`
	IdentityDrift  float64 `json:"identity_drift"`
	AudioSyncScore float64 `json:"audiosync_score"`
	SpecHash       string  `json:"spec_hash"`
	OneShotRender  bool    `json:"one_shot_render"`
}

// Validate enforces the structural schema for final metrics.
func (m FinalMetrics) Validate() error {
	if m.VideoScore2 < 0 || m.VBench2Physics < 0 || m.IdentityDrift < 0 {
		return fmt.Errorf("scores must be non-negative")
	}
	if m.AudioSyncScore < 0 || m.AudioSyncScore > 100 {
		return fmt.Errorf("audiosync_score must be within [0,100]")
	}
	if strings.TrimSpace(m.SpecHash) == "" {
		return fmt.Errorf("spec_hash is required")
	}
	return nil
}

// StoryAnchor is the immutable reference narrative derived once from the
// first accepted script. It is never resubmitted or recomputed.
type StoryAnchor struct {
	Title               string   `json:"title"`
	CanonicalCharacters []string `json:"canonical_characters"`
	MustKeepBeats       []string `json:"must_keep_beats"`
	StyleAnchor         string   `json:"style_anchor"`
	SourceIteration     int      `json:"source_iteration"`
	SourceScriptSHA256  string   `json:"source_script_sha256"`
}
