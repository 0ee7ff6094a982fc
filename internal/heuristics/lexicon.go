package heuristics

import (
	"strings"
	"unicode"
)

// #region topic-cues

// topicCues maps a topic to the word stems that suggest the user needs help
// with it. Matching is by token prefix.
var topicCues = map[string][]string{
	"focus":      {"focus", "distract", "procrastinat", "concentrat", "stuck", "scattered", "unfocused", "deadline"},
	"sleep":      {"sleep", "tired", "insomnia", "exhaust", "awake", "nap", "bedtime", "drowsy"},
	"stress":     {"overwhelm", "stress", "anxious", "anxiety", "pressure", "panic", "tense", "burnout"},
	"movement":   {"sedentary", "exercise", "walk", "gym", "workout", "sitting", "stretch", "run"},
	"connection": {"lonely", "alone", "isolated", "friend", "family", "disconnected"},
	"mood":       {"sad", "down", "low", "unmotivated", "bored", "numb", "hopeless"},
}

// #endregion topic-cues

// #region affect-cues

var (
	frustrationCues = []string{"stuck", "frustrat", "annoy", "again", "ugh", "keep", "cant", "can't", "useless"}
	distressCues    = []string{"overwhelm", "anxious", "panic", "hopeless", "scared", "afraid", "crying", "desperate"}
	momentumCues    = []string{"done", "finish", "progress", "started", "shipped", "better", "managed", "completed"}
)

// #endregion affect-cues

// #region tone-cues

// Phrase cues are matched against the lowercased message text.
var (
	directCues = []string{
		"just tell me",
		"be direct",
		"be blunt",
		"straight answer",
		"no fluff",
		"get to the point",
		"what should i do",
	}
	supportiveCues = []string{
		"be gentle",
		"hard day",
		"rough day",
		"need support",
		"go easy",
		"i'm struggling",
		"i am struggling",
	}
	likeCues    = []string{"i like", "i love", "i enjoy", "helps me", "works for me"}
	dislikeCues = []string{"i hate", "i don't like", "i do not like", "doesn't work", "never works"}
)

// #endregion tone-cues

// #region helpers

// tokenize splits text into lowercase word tokens, keeping apostrophes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// countPrefixHits counts tokens that start with any of the stems.
func countPrefixHits(tokens []string, stems []string) int {
	n := 0
	for _, tok := range tokens {
		for _, s := range stems {
			if strings.HasPrefix(tok, s) {
				n++
				break
			}
		}
	}
	return n
}

// matchPhrases returns the phrases contained in lower, in cue order.
func matchPhrases(lower string, phrases []string) []string {
	var found []string
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			found = append(found, p)
		}
	}
	return found
}

// saturate maps a hit count onto [0,1): 1 hit ~0.33, 3 hits ~0.7.
func saturate(hits int, scale float64) float64 {
	if hits <= 0 {
		return 0
	}
	v := float64(hits) / (float64(hits) + scale)
	return round3(v)
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}

// #endregion helpers
