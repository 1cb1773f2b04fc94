package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "project_name: demo\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ProjectName != "demo" {
		t.Fatalf("project name: got %q", cfg.ProjectName)
	}
	if cfg.RetryLimits.Gate1 != 3 || cfg.RetryLimits.Gate3 != 2 {
		t.Fatalf("retry defaults: %+v", cfg.RetryLimits)
	}
	if cfg.Thresholds.MinStoryQACriterionScore != 40 {
		t.Fatalf("story qa criterion default: %v", cfg.Thresholds.MinStoryQACriterionScore)
	}
	if !cfg.Thresholds.TitleLock {
		t.Fatal("title lock should default on")
	}
}

func TestLoadOverridesNested(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, strings.Join([]string{
		"project_name: demo",
		"thresholds:",
		"  identity_drift_ceiling: 0.1",
		"retry_limits:",
		"  gate2: 5",
		"model_candidates:",
		"  - name: alpha",
		"    weighted_score: 0.9",
		"    physics: 0.8",
		"    human_fidelity: 0.7",
		"    identity: 0.9",
	}, "\n")+"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Thresholds.IdentityDriftCeiling != 0.1 {
		t.Fatalf("override lost: %v", cfg.Thresholds.IdentityDriftCeiling)
	}
	if cfg.Thresholds.VideoScore2Threshold != 0.6 {
		t.Fatalf("sibling default lost: %v", cfg.Thresholds.VideoScore2Threshold)
	}
	if cfg.RetryLimits.Gate2 != 5 || cfg.RetryLimits.Gate1 != 3 {
		t.Fatalf("retry merge: %+v", cfg.RetryLimits)
	}
	if len(cfg.ModelCandidates) != 1 || cfg.ModelCandidates[0].Name != "alpha" {
		t.Fatalf("candidates: %+v", cfg.ModelCandidates)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	if _, err := Load(writeConfig(t, "project_name: demo\nmystery_knob: 1\n")); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsBadWindow(t *testing.T) {
	t.Parallel()

	body := "project_name: demo\nthresholds:\n  duration_min_s: 100\n  duration_max_s: 90\n"
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for inverted duration window")
	}
}

func TestHashStableAcrossLoads(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "project_name: demo\n")
	first, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	second, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	h1, err := first.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := second.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("config hash not stable: %s vs %s", h1, h2)
	}
}

func TestRetryLimitLookup(t *testing.T) {
	t.Parallel()

	limits := RetryLimits{Gate1: 3, Gate2: 4, Gate3: 2}
	if got := limits.Limit("gate2"); got != 4 {
		t.Fatalf("gate2 limit: %d", got)
	}
	if got := limits.Limit("gate4"); got != -1 {
		t.Fatalf("gate4 should not retry: %d", got)
	}
}
