package command

import (
	"strings"
	"unicode"
)

// shortWords are short transcripts that look like noise but are real words.
var shortWords = map[string]bool{
	"ok": true, "go": true, "no": true, "yes": true, "hi": true, "hey": true,
	"yo": true, "k": true, "hm": true, "hmm": true, "mm": true, "shh": true,
	"why": true, "my": true, "by": true, "try": true, "cry": true, "fly": true,
	"sky": true,
}

// IsNoise reports whether a transcript is a recognizer artifact rather than
// speech: empty, mostly punctuation, a rune repeated three or more times in
// a row, or a vowel-less fragment of three characters or fewer.
func IsNoise(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}

	runes := []rune(t)
	alnum := 0
	run := 1
	for i, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
		if i > 0 && unicode.ToLower(r) == unicode.ToLower(runes[i-1]) && !unicode.IsSpace(r) {
			run++
			if run >= 3 {
				return true
			}
		} else {
			run = 1
		}
	}
	if alnum*2 < len(runes) {
		return true
	}

	word := strings.ToLower(strings.TrimFunc(t, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
	if len([]rune(word)) <= 3 && !strings.ContainsAny(word, "aeiou") && !shortWords[word] {
		return true
	}
	return false
}
