// Package config loads and validates the run configuration: project
// identity, model candidates for gate0, scoring thresholds, retry limits,
// and reference-image identity declarations. The configuration is hashed
// once at run creation and the hash is pinned on the run state, so any
// later edit to the file is detectable.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tiger/filmgate/internal/hashing"
)

// ModelCandidate is one render-model option scored ahead of time for gate0.
type ModelCandidate struct {
	Name          string  `yaml:"name" json:"name"`
	WeightedScore float64 `yaml:"weighted_score" json:"weighted_score"`
	Physics       float64 `yaml:"physics" json:"physics"`
	HumanFidelity float64 `yaml:"human_fidelity" json:"human_fidelity"`
	Identity      float64 `yaml:"identity" json:"identity"`
}

// ReferenceImage declares a curated reference asset for a character. When
// IdentityToken is set, cinematography prompts that mention the character
// are expected to carry the token verbatim.
type ReferenceImage struct {
	Character     string `yaml:"character" json:"character"`
	Path          string `yaml:"path" json:"path"`
	IdentityToken string `yaml:"identity_token,omitempty" json:"identity_token,omitempty"`
}

// Thresholds collects every numeric knob consumed by the gate evaluators.
type Thresholds struct {
	Gate0PhysicsFloor       float64 `yaml:"gate0_physics_floor" json:"gate0_physics_floor"`
	Gate0HumanFidelityFloor float64 `yaml:"gate0_human_fidelity_floor" json:"gate0_human_fidelity_floor"`
	Gate0IdentityFloor      float64 `yaml:"gate0_identity_floor" json:"gate0_identity_floor"`

	VideoScore2Threshold float64 `yaml:"videoscore2_threshold" json:"videoscore2_threshold"`
	VBench2PhysicsFloor  float64 `yaml:"vbench2_physics_floor" json:"vbench2_physics_floor"`
	IdentityDriftCeiling float64 `yaml:"identity_drift_ceiling" json:"identity_drift_ceiling"`
	RegressionEpsilon    float64 `yaml:"regression_epsilon" json:"regression_epsilon"`

	DurationMinS float64 `yaml:"duration_min_s" json:"duration_min_s"`
	DurationMaxS float64 `yaml:"duration_max_s" json:"duration_max_s"`
	MinLineCount int     `yaml:"min_line_count" json:"min_line_count"`

	ConceptCoveragePct      float64 `yaml:"concept_coverage_pct" json:"concept_coverage_pct"`
	NarrativeCoherenceFloor float64 `yaml:"narrative_coherence_floor" json:"narrative_coherence_floor"`

	StoryQAOverallFloor      float64 `yaml:"story_qa_overall_floor" json:"story_qa_overall_floor"`
	MinStoryQACriterionScore float64 `yaml:"min_story_qa_criterion_score" json:"min_story_qa_criterion_score"`

	TitleLock                 bool    `yaml:"title_lock" json:"title_lock"`
	CharacterConsistencyFloor float64 `yaml:"character_consistency_floor" json:"character_consistency_floor"`
	BeatFaithfulnessFloor     float64 `yaml:"beat_faithfulness_floor" json:"beat_faithfulness_floor"`

	StrictMAViS            bool `yaml:"strict_mavis" json:"strict_mavis"`
	MaxMultiActionLines    int  `yaml:"max_multi_action_lines" json:"max_multi_action_lines"`
	MaxRepeatedBackgrounds int  `yaml:"max_repeated_backgrounds" json:"max_repeated_backgrounds"`
	MaxTightTransitions    int  `yaml:"max_tight_transitions" json:"max_tight_transitions"`
	MaxDetailHeavyLines    int  `yaml:"max_detail_heavy_lines" json:"max_detail_heavy_lines"`

	StyleAnchorQualityFloor    float64 `yaml:"style_anchor_quality_floor" json:"style_anchor_quality_floor"`
	CinematographyAverageFloor float64 `yaml:"cinematography_average_floor" json:"cinematography_average_floor"`
	CinematographyMinGates     int     `yaml:"cinematography_min_gates" json:"cinematography_min_gates"`
	MinCharacterIdentityScore  float64 `yaml:"min_character_identity_score" json:"min_character_identity_score"`
	RequireIdentityTokens      bool    `yaml:"require_identity_tokens" json:"require_identity_tokens"`

	FinalScoreFloor float64 `yaml:"final_score_floor" json:"final_score_floor"`
}

// RetryLimits bounds how many times each gate may fail before the run is
// marked FAILED.
type RetryLimits struct {
	Gate1 int `yaml:"gate1" json:"gate1"`
	Gate2 int `yaml:"gate2" json:"gate2"`
	Gate3 int `yaml:"gate3" json:"gate3"`
}

// Limit returns the retry limit for a gate name, or -1 for gates that do
// not retry.
func (r RetryLimits) Limit(gate string) int {
	switch gate {
	case "gate1":
		return r.Gate1
	case "gate2":
		return r.Gate2
	case "gate3":
		return r.Gate3
	default:
		return -1
	}
}

// ReferenceLibrary points at the curated visual reference corpus evaluated
// by the reference QA gates. Disabled libraries skip those gates entirely.
type ReferenceLibrary struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	RefsFile      string `yaml:"refs_file,omitempty" json:"refs_file,omitempty"`
	BeatCardsFile string `yaml:"beat_cards_file,omitempty" json:"beat_cards_file,omitempty"`
	PackFile      string `yaml:"pack_file,omitempty" json:"pack_file,omitempty"`
}

// Config is the full run configuration document.
type Config struct {
	ProjectName      string           `yaml:"project_name" json:"project_name"`
	DurationTargetS  float64          `yaml:"duration_target_s" json:"duration_target_s"`
	CoreConcepts     []string         `yaml:"core_concepts" json:"core_concepts"`
	ModelCandidates  []ModelCandidate `yaml:"model_candidates" json:"model_candidates"`
	ReferenceImages  []ReferenceImage `yaml:"reference_images" json:"reference_images"`
	ReferenceLibrary ReferenceLibrary `yaml:"reference_library" json:"reference_library"`
	Thresholds       Thresholds       `yaml:"thresholds" json:"thresholds"`
	RetryLimits      RetryLimits      `yaml:"retry_limits" json:"retry_limits"`
	Seed             int              `yaml:"seed" json:"seed"`
	Resolution       string           `yaml:"resolution" json:"resolution"`
	FPS              int              `yaml:"fps" json:"fps"`
}

// Default returns the configuration used when a field is absent from the
// YAML document.
func Default() Config {
	return Config{
		ProjectName:     "filmgate",
		DurationTargetS: 95,
		Thresholds: Thresholds{
			Gate0PhysicsFloor:       0.6,
			Gate0HumanFidelityFloor: 0.6,
			Gate0IdentityFloor:      0.6,

			VideoScore2Threshold: 0.6,
			VBench2PhysicsFloor:  0.6,
			IdentityDriftCeiling: 0.25,
			RegressionEpsilon:    0.1,

			DurationMinS: 90,
			DurationMaxS: 105,
			MinLineCount: 20,

			ConceptCoveragePct:      75,
			NarrativeCoherenceFloor: 60,

			StoryQAOverallFloor:      70,
			MinStoryQACriterionScore: 40,

			TitleLock:                 true,
			CharacterConsistencyFloor: 60,
			BeatFaithfulnessFloor:     50,

			StyleAnchorQualityFloor:    60,
			CinematographyAverageFloor: 70,
			CinematographyMinGates:     6,
			MinCharacterIdentityScore:  70,

			FinalScoreFloor: 70,
		},
		RetryLimits: RetryLimits{Gate1: 3, Gate2: 3, Gate3: 2},
		Seed:        42,
		Resolution:  "1920x1080",
		FPS:         24,
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that would make gate decisions
// meaningless.
func (c Config) Validate() error {
	if c.ProjectName == "" {
		return fmt.Errorf("project_name is required")
	}
	if c.Thresholds.DurationMinS <= 0 || c.Thresholds.DurationMaxS <= c.Thresholds.DurationMinS {
		return fmt.Errorf("duration window [%v,%v] is invalid", c.Thresholds.DurationMinS, c.Thresholds.DurationMaxS)
	}
	if c.Thresholds.IdentityDriftCeiling < 0 || c.Thresholds.IdentityDriftCeiling > 1 {
		return fmt.Errorf("identity_drift_ceiling %v outside [0,1]", c.Thresholds.IdentityDriftCeiling)
	}
	if c.RetryLimits.Gate1 < 0 || c.RetryLimits.Gate2 < 0 || c.RetryLimits.Gate3 < 0 {
		return fmt.Errorf("retry limits must be non-negative")
	}
	seen := make(map[string]struct{}, len(c.ModelCandidates))
	for _, cand := range c.ModelCandidates {
		if cand.Name == "" {
			return fmt.Errorf("model candidate with empty name")
		}
		if _, dup := seen[cand.Name]; dup {
			return fmt.Errorf("duplicate model candidate %q", cand.Name)
		}
		seen[cand.Name] = struct{}{}
	}
	for _, ref := range c.ReferenceImages {
		if ref.Character == "" || ref.Path == "" {
			return fmt.Errorf("reference image entries require character and path")
		}
	}
	return nil
}

// Hash returns the canonical content hash of the configuration. Stored on
// the run state and inside the lock manifest.
func (c Config) Hash() (string, error) {
	return hashing.SHA256JSON(c)
}
