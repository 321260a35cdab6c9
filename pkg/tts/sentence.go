package tts

import (
	"strings"
	"unicode"
)

// minSentenceLen is the length below which a sentence group absorbs the next
// sentence, so short interjections are not synthesized on their own.
const minSentenceLen = 20

// SplitSentences splits text after '.', '!' or '?' followed by whitespace.
// A group shorter than 20 characters is merged with the sentence after it.
// Text without any sentence content is returned as a single element.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes)-1; i++ {
		if isTerminal(runes[i]) && unicode.IsSpace(runes[i+1]) {
			sentences = append(sentences, string(runes[start:i+1]))
			start = i + 1
		}
	}
	sentences = append(sentences, string(runes[start:]))

	var groups []string
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if n := len(groups); n > 0 && len(groups[n-1]) < minSentenceLen {
			groups[n-1] += " " + s
			continue
		}
		groups = append(groups, s)
	}
	if len(groups) == 0 {
		return []string{text}
	}
	return groups
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
