// Package problemnlp extracts mental-health concern mentions from
// unstructured text using regex patterns and a topic lexicon. No external
// dependencies.
package problemnlp

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// ProblemMatch represents an extracted concern mention.
type ProblemMatch struct {
	Category     string  // e.g. "Anxiety"
	Topic        string  // e.g. "panic attacks" ("" if not found)
	Severity     float64 // 0.0-1.0, 0 when no cue found
	DurationDays int     // approximate, 0 if not found
	Confidence   float64 // 0.0-1.0
	Span         string  // the matched text fragment
}

// categoryAliases maps surface forms to canonical category names.
var categoryAliases = map[string]string{
	"anxiety":       "Anxiety",
	"anxious":       "Anxiety",
	"panic":         "Anxiety",
	"worry":         "Anxiety",
	"worried":       "Anxiety",
	"worrying":      "Anxiety",
	"nervous":       "Anxiety",
	"on edge":       "Anxiety",
	"depression":    "Depression",
	"depressed":     "Depression",
	"hopeless":      "Depression",
	"hopelessness":  "Depression",
	"low mood":      "Depression",
	"sadness":       "Depression",
	"insomnia":      "Sleep",
	"sleep":         "Sleep",
	"sleepless":     "Sleep",
	"sleeplessness": "Sleep",
	"stress":        "Stress",
	"stressed":      "Stress",
	"burnout":       "Stress",
	"burned out":    "Stress",
	"burnt out":     "Stress",
	"overwhelmed":   "Stress",
	"relationship":  "Relationships",
	"relationships": "Relationships",
	"marriage":      "Relationships",
	"divorce":       "Relationships",
	"breakup":       "Relationships",
	"lonely":        "Relationships",
	"loneliness":    "Relationships",
	"isolated":      "Relationships",
	"isolation":     "Relationships",
	"grief":         "Grief",
	"grieving":      "Grief",
	"bereavement":   "Grief",
	"mourning":      "Grief",
	"trauma":        "Trauma",
	"traumatic":     "Trauma",
	"ptsd":          "Trauma",
	"self-esteem":   "Self-esteem",
	"self esteem":   "Self-esteem",
	"self-worth":    "Self-esteem",
	"worthless":     "Self-esteem",
	"confidence":    "Self-esteem",
	"anger":         "Anger",
	"angry":         "Anger",
	"rage":          "Anger",
	"irritable":     "Anger",
	"irritability":  "Anger",
	"focus":         "Focus",
	"concentration": "Focus",
	"concentrate":   "Focus",
	"adhd":          "Focus",
	"distracted":    "Focus",
}

// categoryTopics maps canonical category to its recognizable sub-topics.
var categoryTopics = map[string][]string{
	"Anxiety":       {"panic attacks", "panic attack", "social anxiety", "health anxiety", "generalized worry", "racing thoughts", "phobia"},
	"Depression":    {"low mood", "loss of interest", "hopelessness", "fatigue", "withdrawal", "crying spells"},
	"Sleep":         {"trouble falling asleep", "waking at night", "waking up at night", "nightmares", "oversleeping", "racing mind at night"},
	"Stress":        {"work pressure", "deadline pressure", "financial stress", "exam stress", "family pressure", "caregiver strain"},
	"Relationships": {"conflict with partner", "breakup", "family conflict", "social isolation", "trust issues"},
	"Grief":         {"loss of a loved one", "pet loss", "anticipatory grief"},
	"Trauma":        {"flashbacks", "avoidance", "hypervigilance", "nightmares", "intrusive memories"},
	"Self-esteem":   {"negative self-talk", "body image", "imposter feelings", "perfectionism"},
	"Anger":         {"outbursts", "resentment", "road rage"},
	"Focus":         {"procrastination", "distractibility", "restlessness", "brain fog"},
}

// severityCues maps intensity words to a 0-1 severity estimate. Multi-word
// cues are matched before single words.
var severityCues = map[string]float64{
	"a little":     0.2,
	"slightly":     0.2,
	"mild":         0.25,
	"somewhat":     0.4,
	"moderate":     0.5,
	"often":        0.6,
	"frequent":     0.6,
	"frequently":   0.6,
	"constant":     0.8,
	"constantly":   0.8,
	"severe":       0.9,
	"overwhelming": 0.9,
	"unbearable":   1.0,
	"crippling":    1.0,
	"debilitating": 1.0,
}

// uniqueTopics maps topics distinctive enough to identify a category alone.
var uniqueTopics map[string]string // topic_lower -> canonical category

// topicsByCategory maps category_lower -> topic_lower -> canonical topic.
var topicsByCategory map[string]map[string]string

// categoryRe is a regex alternation of all aliases, longest first.
var categoryRe *regexp.Regexp

// severityRe matches any severity cue, longest first.
var severityRe *regexp.Regexp

// durationRe matches spans like "3 weeks" or "for 2 months".
var durationRe = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(day|week|month|year)s?\b`)

// wordDurationRe matches "a week", "a few months" style spans.
var wordDurationRe = regexp.MustCompile(`(?i)\ba(?:\s+(few|couple(?:\s+of)?))?\s+(day|week|month|year)s?\b`)

func init() {
	uniqueTopics = make(map[string]string)
	topicsByCategory = make(map[string]map[string]string)

	topicCount := make(map[string]int)
	for cat, topics := range categoryTopics {
		lower := strings.ToLower(cat)
		topicsByCategory[lower] = make(map[string]string)
		for _, tp := range topics {
			tl := strings.ToLower(tp)
			topicsByCategory[lower][tl] = tp
			topicCount[tl]++
		}
	}
	// Topics unique to one category.
	for cat, topics := range categoryTopics {
		for _, tp := range topics {
			tl := strings.ToLower(tp)
			if topicCount[tl] == 1 {
				uniqueTopics[tl] = cat
			}
		}
	}

	categoryRe = regexp.MustCompile(`(?i)\b(` + alternation(keysOf(categoryAliases)) + `)\b`)
	severityRe = regexp.MustCompile(`(?i)\b(` + alternation(keysOf(severityCues)) + `)\b`)
}

func keysOf[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// alternation quotes and joins patterns, longest first so greedy alternation
// prefers multi-word forms.
func alternation(words []string) string {
	sort.Slice(words, func(i, j int) bool {
		if len(words[i]) != len(words[j]) {
			return len(words[i]) > len(words[j])
		}
		return words[i] < words[j]
	})
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(quoted, "|")
}

// Extract finds all concern mentions in text. Returns matches sorted by
// confidence descending.
func Extract(text string) []ProblemMatch {
	if text == "" {
		return nil
	}
	var matches []ProblemMatch

	// Find all category mentions, then look nearby for topic, severity,
	// and duration.
	catLocs := categoryRe.FindAllStringSubmatchIndex(text, -1)
	used := make(map[string]bool) // dedup by category+topic+duration

	for _, loc := range catLocs {
		catStr := text[loc[2]:loc[3]]
		canonical := categoryAliases[strings.ToLower(catStr)]
		if canonical == "" {
			continue
		}

		// Topic can sit before or after the category word, e.g.
		// "social anxiety" or "anxiety with panic attacks".
		winStart := max(0, loc[0]-30)
		winEnd := min(loc[1]+50, len(text))
		window := text[winStart:winEnd]

		topic := findTopic(canonical, window)
		duration := findDuration(window)
		severity := findSeverity(window)

		conf := 0.0
		switch {
		case topic != "" && duration > 0:
			conf = 0.95
		case topic != "":
			conf = 0.80
		case duration > 0:
			conf = 0.70
		default:
			conf = 0.60
		}

		key := fmt.Sprintf("%s|%s|%d", canonical, topic, duration)
		if used[key] {
			continue
		}
		used[key] = true

		matches = append(matches, ProblemMatch{
			Category:     canonical,
			Topic:        topic,
			Severity:     severity,
			DurationDays: duration,
			Confidence:   conf,
			Span:         strings.TrimSpace(window),
		})
	}

	// Standalone distinctive topics with no category word nearby.
	matches = append(matches, findStandaloneTopics(text, used)...)

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	return matches
}

// ExtractBest returns the single highest-confidence match, or nil.
func ExtractBest(text string) *ProblemMatch {
	matches := Extract(text)
	if len(matches) == 0 {
		return nil
	}
	return &matches[0]
}

// Categories returns the canonical category names, sorted.
func Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range categoryAliases {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// findTopic looks for a known topic of the category inside the window.
// Longest topics win, so "panic attacks" beats "panic attack".
func findTopic(category, window string) string {
	topics, ok := topicsByCategory[strings.ToLower(category)]
	if !ok {
		return ""
	}

	type entry struct{ lower, canonical string }
	sorted := make([]entry, 0, len(topics))
	for tl, tc := range topics {
		sorted = append(sorted, entry{tl, tc})
	}
	sort.Slice(sorted, func(i, j int) bool {
		return len(sorted[i].lower) > len(sorted[j].lower)
	})

	lower := strings.ToLower(window)
	for _, e := range sorted {
		idx := strings.Index(lower, e.lower)
		if idx < 0 {
			continue
		}
		if !wordBounded(lower, idx, idx+len(e.lower)) {
			continue
		}
		return e.canonical
	}
	return ""
}

// findDuration converts the first duration mention to approximate days.
func findDuration(s string) int {
	if m := durationRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.ParseFloat(m[1], 64)
		return int(n * float64(unitDays(m[2])))
	}
	if m := wordDurationRe.FindStringSubmatch(s); m != nil {
		mult := 1
		switch {
		case strings.HasPrefix(strings.ToLower(m[1]), "few"):
			mult = 3
		case strings.HasPrefix(strings.ToLower(m[1]), "couple"):
			mult = 2
		}
		return mult * unitDays(m[2])
	}
	return 0
}

func unitDays(unit string) int {
	switch strings.ToLower(unit) {
	case "day":
		return 1
	case "week":
		return 7
	case "month":
		return 30
	case "year":
		return 365
	}
	return 0
}

// findSeverity returns the strongest severity cue in the window, or 0.
func findSeverity(s string) float64 {
	best := 0.0
	for _, m := range severityRe.FindAllString(strings.ToLower(s), -1) {
		if v, ok := severityCues[m]; ok && v > best {
			best = v
		}
	}
	return best
}

// wordBounded reports whether s[start:end] sits on word boundaries.
func wordBounded(s string, start, end int) bool {
	if start > 0 {
		prev := rune(s[start-1])
		if unicode.IsLetter(prev) || unicode.IsDigit(prev) {
			return false
		}
	}
	if end < len(s) {
		next := rune(s[end])
		if unicode.IsLetter(next) || unicode.IsDigit(next) {
			return false
		}
	}
	return true
}

func findStandaloneTopics(text string, used map[string]bool) []ProblemMatch {
	var matches []ProblemMatch
	lower := strings.ToLower(text)

	for topicLower, category := range uniqueTopics {
		// Very short topics cause false positives standalone.
		if len(topicLower) < 5 {
			continue
		}

		idx := strings.Index(lower, topicLower)
		if idx < 0 {
			continue
		}
		end := idx + len(topicLower)
		if !wordBounded(lower, idx, end) {
			continue
		}

		canonical := topicLower
		if byCat, ok := topicsByCategory[strings.ToLower(category)]; ok {
			if tc, ok := byCat[topicLower]; ok {
				canonical = tc
			}
		}

		nearStart := max(0, idx-30)
		nearEnd := min(end+30, len(text))
		window := text[nearStart:nearEnd]
		duration := findDuration(window)
		severity := findSeverity(window)

		conf := 0.50
		if duration > 0 {
			conf = 0.75
		}

		key := fmt.Sprintf("%s|%s|%d", category, canonical, duration)
		if used[key] {
			continue
		}
		used[key] = true

		matches = append(matches, ProblemMatch{
			Category:     category,
			Topic:        canonical,
			Severity:     severity,
			DurationDays: duration,
			Confidence:   conf,
			Span:         strings.TrimSpace(window),
		})
	}
	return matches
}
