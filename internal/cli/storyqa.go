package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiger/filmgate/internal/gates/storyqa"
)

func newStoryQACmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "story-qa",
		Short: "Score the current script against the storytelling criteria",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, store, st, release, err := openRun(cmd, runID)
			if err != nil {
				return err
			}
			defer release()

			result, err := o.StoryQA(st)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			verdict := "PASS"
			if !result.Passed {
				verdict = "FAIL"
			}
			fmt.Fprintf(out, "story QA %s: overall %.2f\n", verdict, result.OverallScore)
			for _, criterion := range result.Criteria {
				fmt.Fprintf(out, "  %-22s %6.2f  %s\n", criterion.Name, criterion.Score, criterion.Notes)
			}
			for _, issue := range result.BlockingIssues {
				fmt.Fprintf(out, "  blocking: %s\n", issue)
			}
			for _, rec := range result.Recommendations {
				fmt.Fprintf(out, "  recommend: %s\n", rec)
			}
			fmt.Fprintf(out, "written: %s\n", storyqa.ResultPath(store, st))
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run identifier")
	return cmd
}
