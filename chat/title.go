package chat

import (
	"regexp"
	"strings"
)

const (
	titleMaxLen      = 30
	titleTruncateLen = 27
)

var (
	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`([^`]*)`")
	boldRe       = regexp.MustCompile(`\*\*([^*]+)\*\*|__([^_]+)__`)
	italicRe     = regexp.MustCompile(`\*([^*]+)\*|_([^_]+)_`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// DeriveTitle derives a short display title from a raw message.
// Markdown formatting is stripped first; a trailing question or the first
// sentence wins over plain truncation. Returns "" for input that is empty
// after cleaning; callers fall back to DefaultTitle.
func DeriveTitle(raw string) string {
	text := stripMarkdown(raw)
	if text == "" {
		return ""
	}

	if strings.HasSuffix(text, "?") {
		q := []rune(text[:len(text)-1])
		if len(q) <= titleMaxLen {
			return string(q) + "?"
		}
		return string(q[:titleTruncateLen]) + "...?"
	}

	if idx := strings.IndexAny(text, ".!?"); idx >= 0 {
		sentence := []rune(text[:idx+1])
		if len(sentence) <= titleMaxLen {
			return string(sentence)
		}
		return string(sentence[:titleTruncateLen]) + "..."
	}

	runes := []rune(text)
	if len(runes) <= titleMaxLen {
		return text
	}
	return string(runes[:titleTruncateLen]) + "..."
}

func stripMarkdown(s string) string {
	s = fencedCodeRe.ReplaceAllString(s, "")
	s = inlineCodeRe.ReplaceAllString(s, "$1")
	s = boldRe.ReplaceAllString(s, "$1$2")
	s = italicRe.ReplaceAllString(s, "$1$2")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
