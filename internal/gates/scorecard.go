package gates

// FinalScorecard is the weighted acceptance score computed by gate4. Weights
// favor coverage of the approved shot plan over the softer render metrics.
type FinalScorecard struct {
	SelectedCoverage float64 `json:"selected_coverage"`
	AVCoverage       float64 `json:"av_coverage"`
	CinematicQuality float64 `json:"cinematic_quality"`
	Consistency      float64 `json:"consistency"`
	AudioSync        float64 `json:"audio_sync"`
	FinalScore       float64 `json:"final_score"`
}

func buildScorecard(selectedCoverage, avCoverage, cinematicQuality, consistency, audioSync float64) FinalScorecard {
	selectedCoverage = clampScore(selectedCoverage)
	avCoverage = clampScore(avCoverage)
	cinematicQuality = clampScore(cinematicQuality)
	consistency = clampScore(consistency)
	audioSync = clampScore(audioSync)

	final := clampScore(0.35*selectedCoverage +
		0.25*avCoverage +
		0.20*cinematicQuality +
		0.10*consistency +
		0.10*audioSync)

	return FinalScorecard{
		SelectedCoverage: round2(selectedCoverage),
		AVCoverage:       round2(avCoverage),
		CinematicQuality: round2(cinematicQuality),
		Consistency:      round2(consistency),
		AudioSync:        round2(audioSync),
		FinalScore:       round2(final),
	}
}
