package assessment

import (
	"strconv"
	"strings"
	"time"

	"github.com/SolaceWell/solace-mvp/pkg/fn"
)

// neutralScore stands in for the average when no answer is numeric.
const neutralScore = 5.0

const maxInsights = 3

// scaleAnswers extracts the responses that parse as a float in [1,10],
// whatever their declared response type.
func scaleAnswers(responses []Response) []float64 {
	return fn.FilterMap(responses, func(r Response) (float64, bool) {
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Answer), 64)
		return v, err == nil && v >= 1 && v <= 10
	})
}

// averageScore is the mean of the scale answers, or neutralScore when none
// of the responses were numeric.
func averageScore(scales []float64) float64 {
	if len(scales) == 0 {
		return neutralScore
	}
	var sum float64
	for _, v := range scales {
		sum += v
	}
	return sum / float64(len(scales))
}

// analysisFor buckets the average score into a qualitative summary.
func analysisFor(avg float64) string {
	switch {
	case avg <= 3:
		return "Your answers point to a period of real difficulty. Please consider reaching out to a mental health professional who can support you directly."
	case avg <= 6:
		return "Your answers suggest you are carrying a moderate amount of strain. Small steady routines and talking things through with someone you trust can help."
	default:
		return "Your answers suggest you are coping reasonably well right now. Keep doing what works for you and check in with yourself regularly."
	}
}

// insightsFor derives up to maxInsights observations from answer patterns
// and session pacing.
func insightsFor(scales []float64, responseCount int, duration time.Duration, opts Options) []string {
	var insights []string

	if n := len(scales); n > 0 {
		high, low := 0, 0
		for _, v := range scales {
			if v >= 7 {
				high++
			}
			if v <= 3 {
				low++
			}
		}
		switch {
		case float64(high)/float64(n) >= opts.PatternRatio:
			insights = append(insights, "Most of your ratings were 7 or higher, which suggests what you described is weighing on you heavily right now.")
		case float64(low)/float64(n) >= opts.PatternRatio:
			insights = append(insights, "Most of your ratings were 3 or lower, which suggests things feel fairly settled at the moment.")
		}
	} else if responseCount > 0 {
		insights = append(insights, "You answered in your own words rather than with numbers, which gives useful context beyond a score.")
	}

	switch {
	case duration < opts.ShortSession:
		insights = append(insights, "You moved through the questions quickly. If anything felt skipped over, a slower retake can surface more detail.")
	case duration > opts.LongSession:
		insights = append(insights, "You took your time with these questions, which often means they touched on something worth exploring further.")
	}

	if len(insights) > maxInsights {
		insights = insights[:maxInsights]
	}
	return insights
}
