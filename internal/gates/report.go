// Package gates implements the five gate evaluators. Every gate is a pure
// function of persisted artifacts plus configuration: no network, no
// randomness, so re-running a gate on an unchanged iteration yields an
// identical report.
package gates

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tiger/filmgate/internal/gates/cinemaqa"
	"github.com/tiger/filmgate/internal/gates/refqa"
	"github.com/tiger/filmgate/internal/gates/storyqa"
	"github.com/tiger/filmgate/internal/hashing"
	"github.com/tiger/filmgate/internal/state"
)

// Report is one gate evaluation: pass/fail, the numeric evidence behind the
// decision, and operator-facing reasons and fix instructions.
type Report struct {
	Gate            string         `json:"gate"`
	Iteration       int            `json:"iteration"`
	Passed          bool           `json:"passed"`
	Metrics         map[string]any `json:"metrics"`
	Reasons         []string       `json:"reasons"`
	FixInstructions []string       `json:"fix_instructions"`
	Warnings        []string       `json:"warnings,omitempty"`

	StoryQA   *storyqa.Result  `json:"story_qa,omitempty"`
	CinemaQA  *cinemaqa.Result `json:"cinematography_qa,omitempty"`
	RefQA     *refqa.Result    `json:"reference_qa,omitempty"`
	Scorecard *FinalScorecard  `json:"final_scorecard,omitempty"`
}

// ReportPath returns the on-disk location for a gate report.
func ReportPath(store *state.Store, runID, gate string, iteration int) string {
	return filepath.Join(store.GateReportsDir(runID), fmt.Sprintf("%s.%s.json", gate, state.IterationKey(iteration)))
}

// WriteReport persists a report as canonical JSON, overwriting any previous
// report for the same gate and iteration.
func WriteReport(store *state.Store, runID string, report Report) (string, error) {
	raw, err := hashing.CanonicalJSON(report)
	if err != nil {
		return "", fmt.Errorf("encode gate report: %w", err)
	}
	out := ReportPath(store, runID, report.Gate, report.Iteration)
	if err := os.WriteFile(out, append(raw, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write gate report: %w", err)
	}
	return out, nil
}

// ReadReport loads a previously written report.
func ReadReport(store *state.Store, runID, gate string, iteration int) (Report, error) {
	raw, err := os.ReadFile(ReportPath(store, runID, gate, iteration))
	if err != nil {
		return Report{}, fmt.Errorf("read gate report: %w", err)
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return Report{}, fmt.Errorf("decode gate report: %w", err)
	}
	return report, nil
}

func failReport(gate string, iteration int, metrics map[string]any, reason, fix string) Report {
	if metrics == nil {
		metrics = map[string]any{}
	}
	return Report{
		Gate:            gate,
		Iteration:       iteration,
		Passed:          false,
		Metrics:         metrics,
		Reasons:         []string{reason},
		FixInstructions: []string{fix},
	}
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
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
