// Package textclean normalizes text returned by generation backends.
package textclean

import (
	"regexp"
	"strings"
)

var (
	// reasoningTagRegex matches <think>...</think> blocks some models emit before answering
	reasoningTagRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

	// markdownRegex matches emphasis, heading and code markers
	markdownRegex = regexp.MustCompile("[*#`]+")

	// answerLabelRegex matches a leading "Answer:" style label
	answerLabelRegex = regexp.MustCompile(`(?i)^(answer|guess|question)\s*:\s*`)
)

// StripReasoning removes all <think>...</think> content from text.
func StripReasoning(text string) string {
	return reasoningTagRegex.ReplaceAllString(text, "")
}

// StripMarkdown removes markdown emphasis, heading and code markers.
func StripMarkdown(text string) string {
	return markdownRegex.ReplaceAllString(text, "")
}

// Clean strips reasoning blocks and markdown, then trims whitespace.
func Clean(text string) string {
	text = StripReasoning(text)
	text = StripMarkdown(text)
	return strings.TrimSpace(text)
}

// FirstLine returns the first non-blank line of text, trimmed and without a leading label.
func FirstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.TrimSpace(answerLabelRegex.ReplaceAllString(line, ""))
	}
	return ""
}

// Entity reduces a reply to a bare entity name: first line, no quotes, no
// trailing punctuation.
func Entity(text string) string {
	name := FirstLine(Clean(text))
	name = strings.Trim(name, `"'“”`)
	name = strings.TrimRight(name, ".!")
	return strings.TrimSpace(name)
}
