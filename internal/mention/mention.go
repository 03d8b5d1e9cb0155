// Package mention extracts @username mentions from note bodies, resolves
// them against the identity directory, and sanitizes bodies for storage.
package mention

import (
	"regexp"
	"unicode/utf8"
)

// tokenRe matches an @ at the start of the text or after whitespace,
// followed by one or more word characters. Group 1 is the username.
var tokenRe = regexp.MustCompile(`(?:^|\s)@(\w+)`)

// span is a mention token's [start, end) position in runes, covering the
// @ and the username.
type span struct {
	start, end int
}

// Parse returns the usernames mentioned in text, in order of first
// appearance, without duplicates.
func Parse(text string) []string {
	matches := tokenRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// spans returns the rune positions of every mention token in text.
func spans(text string) []span {
	idx := tokenRe.FindAllStringSubmatchIndex(text, -1)
	out := make([]span, 0, len(idx))
	for _, m := range idx {
		// m[2]:m[3] is the username; the @ sits one byte before it.
		at := m[2] - 1
		out = append(out, span{
			start: utf8.RuneCountInString(text[:at]),
			end:   utf8.RuneCountInString(text[:m[3]]),
		})
	}
	return out
}
