package gates

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tiger/filmgate/api/preprod"
)

var placeholderPattern = regexp.MustCompile(`(?i)\btodo\b|\btbd\b|<[^>]+>`)

func hasPlaceholder(text string) bool {
	return placeholderPattern.MatchString(text)
}

var transitionMarkers = []string{
	"walk", "run", "enter", "exit", "cross", "move", "follow",
	"arrive", "leave", "return", "step", "later", "meanwhile", "cut to",
}

func lineLocation(text string, locations []string) string {
	lower := strings.ToLower(text)
	for _, loc := range locations {
		if strings.Contains(lower, strings.ToLower(loc)) {
			return strings.ToLower(loc)
		}
	}
	return ""
}

func hasTransitionMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range transitionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// sceneCoherenceIssues flags lines where the named location changes without
// any transition or movement marker explaining how we got there.
func sceneCoherenceIssues(script preprod.Script) []string {
	var issues []string
	prev := ""
	for _, line := range script.Lines {
		current := lineLocation(line.Text, script.Locations)
		if current == "" {
			continue
		}
		if prev != "" && current != prev && !hasTransitionMarker(line.Text) {
			issues = append(issues, fmt.Sprintf("%s: location change %s -> %s without transition", line.LineID, prev, current))
		}
		prev = current
	}
	return issues
}

// mavisCounts tallies the render-friendliness issues the video models choke
// on: overloaded action lines, static repeated backdrops, spatial jumps with
// no time in between, and lines too detail-dense to stage in one shot.
type mavisCounts struct {
	MultiActionLines  int
	RepeatedBackdrops int
	TightTransitions  int
	DetailHeavyLines  int
	Issues            []string
}

var actionConnector = regexp.MustCompile(`(?i)\b(and then|then|while|as)\b`)

func evaluateMAViS(script preprod.Script) mavisCounts {
	var counts mavisCounts

	prevLoc := ""
	prevDuration := 0.0
	streak := 0
	for _, line := range script.Lines {
		if line.Kind == preprod.LineAction && len(actionConnector.FindAllString(line.Text, -1)) >= 2 {
			counts.MultiActionLines++
			counts.Issues = append(counts.Issues, fmt.Sprintf("%s: multiple chained actions in one line", line.LineID))
		}
		if len(strings.Fields(line.Text)) >= 25 || strings.Count(line.Text, ",") >= 4 {
			counts.DetailHeavyLines++
			counts.Issues = append(counts.Issues, fmt.Sprintf("%s: detail density too high for a single shot", line.LineID))
		}

		loc := lineLocation(line.Text, script.Locations)
		if loc != "" {
			if loc == prevLoc {
				streak++
				if streak >= 3 {
					counts.RepeatedBackdrops++
					counts.Issues = append(counts.Issues, fmt.Sprintf("%s: repeated backdrop %q", line.LineID, loc))
				}
			} else {
				if prevLoc != "" && prevDuration < 2.0 {
					counts.TightTransitions++
					counts.Issues = append(counts.Issues, fmt.Sprintf("%s: spatial jump after %.1fs line", line.LineID, prevDuration))
				}
				streak = 1
			}
			prevLoc = loc
		}
		prevDuration = line.DurationS
	}
	return counts
}

// undeclaredSpeakers lists dialogue speakers absent from the character list.
func undeclaredSpeakers(script preprod.Script) []string {
	declared := make(map[string]bool, len(script.Characters))
	for _, c := range script.Characters {
		declared[strings.ToLower(strings.TrimSpace(c))] = true
	}

	seen := make(map[string]bool)
	var out []string
	for _, line := range script.Lines {
		if line.Kind != preprod.LineDialogue {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line.Speaker))
		if key == "" || declared[key] || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line.Speaker)
	}
	return out
}

// conceptCoveragePct is the share of configured core concepts appearing
// anywhere in the script text.
func conceptCoveragePct(script preprod.Script, concepts []string) float64 {
	if len(concepts) == 0 {
		return 100
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(script.Logline))
	b.WriteString(" ")
	b.WriteString(strings.ToLower(script.Theme))
	for _, line := range script.Lines {
		b.WriteString(" ")
		b.WriteString(strings.ToLower(line.Text))
	}
	text := b.String()

	hits := 0
	for _, concept := range concepts {
		if strings.Contains(text, strings.ToLower(concept)) {
			hits++
		}
	}
	return float64(hits) / float64(len(concepts)) * 100
}

func countKinds(script preprod.Script) (actions, dialogues int) {
	for _, line := range script.Lines {
		switch line.Kind {
		case preprod.LineAction:
			actions++
		case preprod.LineDialogue:
			dialogues++
		}
	}
	return actions, dialogues
}
