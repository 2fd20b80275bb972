package synth

import (
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxChars is the longest text sent in one synthesis request.
const DefaultMaxChars = 4000

// WordsPerMinute is the speaking rate assumed at speed 1.0.
const WordsPerMinute = 175

// Split cuts text into ordered chunks of at most maxChars runes. With
// preserveSentences, chunks end on sentence boundaries; a sentence longer
// than maxChars, or text without any boundary, is sliced at fixed width.
// Text that already fits is returned unchanged as a single chunk; longer
// text is trimmed before it is cut. Blank text yields nil.
func Split(text string, maxChars int, preserveSentences bool) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return []string{text}
	}
	text = strings.TrimSpace(text)
	if !preserveSentences {
		return slice(text, maxChars)
	}

	var (
		chunks []string
		cur    strings.Builder
		n      int
	)
	flush := func() {
		if n > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, s := range sentences(text) {
		sn := utf8.RuneCountInString(s)
		if sn > maxChars {
			flush()
			chunks = append(chunks, slice(s, maxChars)...)
			continue
		}
		if n > 0 && n+1+sn > maxChars {
			flush()
		}
		if n > 0 {
			cur.WriteByte(' ')
			n++
		}
		cur.WriteString(s)
		n += sn
	}
	flush()
	return chunks
}

// sentences splits after '.', '!' or '?' when followed by whitespace.
func sentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func slice(text string, width int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += width {
		out = append(out, string(runes[i:min(i+width, len(runes))]))
	}
	return out
}

// EstimateDuration approximates how long text takes to speak at speed:
// words / (WordsPerMinute × speed) minutes plus half a second, and never
// less than one second. Non-positive speed counts as 1.0.
func EstimateDuration(text string, speed float64) time.Duration {
	if speed <= 0 {
		speed = 1
	}
	words := float64(len(strings.Fields(text)))
	secs := math.Max(1, words/(WordsPerMinute*speed)*60+0.5)
	return time.Duration(secs * float64(time.Second))
}
