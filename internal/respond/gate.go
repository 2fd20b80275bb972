package respond

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// MinWords is the shortest utterance, in words, that is answered without
// being a question, a greeting or addressed to the agent.
const MinWords = 3

var (
	questionPhrases = []string{"what", "how", "why", "when", "where", "who", "can you"}
	greetingPhrases = []string{"hello", "hi", "hey", "good morning", "good afternoon"}
)

// ShouldRespond is the local turn-taking gate. It reports true when text
// names the agent, asks a question, greets, or has at least MinWords
// whitespace-separated words. Phrases match on whole words, so "hi" does not
// fire inside "this".
func (g *Generator) ShouldRespond(text string) bool {
	words := tokenize(text)
	if len(words) == 0 {
		return false
	}
	if g.names.Addressed(words, g.AgentName()) {
		return true
	}
	if strings.Contains(text, "?") || containsAny(words, questionPhrases) {
		return true
	}
	if containsAny(words, greetingPhrases) {
		return true
	}
	return len(strings.Fields(text)) >= MinWords
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func containsAny(words, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(words, strings.Fields(p)) {
			return true
		}
	}
	return false
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(words) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(words); i++ {
		for j, p := range phrase {
			if words[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}

// NameMatcher decides whether an utterance addresses the agent. Speech
// recognition often misspells names, so besides exact matches it accepts
// word windows that share a Double Metaphone code with every name token and
// score at least Threshold on Jaro-Winkler similarity.
type NameMatcher struct {
	Threshold float64
}

// DefaultNameThreshold is the Jaro-Winkler score a phonetic candidate needs.
const DefaultNameThreshold = 0.85

// Addressed reports whether the lowercase words contain name.
func (m NameMatcher) Addressed(words []string, name string) bool {
	nameTokens := tokenize(name)
	if len(nameTokens) == 0 {
		return false
	}
	if containsPhrase(words, nameTokens) {
		return true
	}
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = DefaultNameThreshold
	}
	target := strings.Join(nameTokens, " ")
	n := len(nameTokens)
	for i := 0; i+n <= len(words); i++ {
		window := words[i : i+n]
		if !phoneticAligned(window, nameTokens) {
			continue
		}
		if matchr.JaroWinkler(strings.Join(window, " "), target, false) >= threshold {
			return true
		}
	}
	return false
}

// phoneticAligned reports whether each spoken token shares a metaphone code
// with the name token in the same position. Name tokens shorter than three
// letters must match exactly.
func phoneticAligned(spoken, name []string) bool {
	for i, nt := range name {
		if len(nt) < 3 {
			if spoken[i] != nt {
				return false
			}
			continue
		}
		if !sharesCode(spoken[i], nt) {
			return false
		}
	}
	return true
}

func sharesCode(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}
