package game

import (
	"strings"
	"unicode"
)

// Normalized answers.
const (
	AnswerYes     = "yes"
	AnswerNo      = "no"
	AnswerUnknown = "unknown"
)

var (
	unsurePhrases = []string{"not sure", "don't know", "dont know", "do not know", "no idea", "can't tell", "cannot tell"}
	yesWords      = map[string]bool{"yes": true, "y": true, "yeah": true, "yep": true, "yup": true, "correct": true, "true": true, "right": true, "sure": true}
	noWords       = map[string]bool{"no": true, "n": true, "nope": true, "nah": true, "not": true, "false": true, "wrong": true, "incorrect": true}
)

// NormalizeAnswer maps free-form player input to yes, no or unknown.
// Words are matched whole, so "know" is not read as "no".
func NormalizeAnswer(answer string) string {
	lower := strings.ToLower(strings.TrimSpace(answer))
	if lower == "" {
		return AnswerUnknown
	}
	for _, phrase := range unsurePhrases {
		if strings.Contains(lower, phrase) {
			return AnswerUnknown
		}
	}

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	for _, w := range words {
		if yesWords[w] {
			return AnswerYes
		}
	}
	for _, w := range words {
		if noWords[w] {
			return AnswerNo
		}
	}
	return AnswerUnknown
}
