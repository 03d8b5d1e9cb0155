package mention

import (
	"strings"
	"unicode"
)

// DefaultPreviewLength is the preview size used by notification listings.
const DefaultPreviewLength = 100

// Preview truncates body to at most max runes for notification listings.
// A cut that would split a mention token moves to just before the @, or,
// when nothing but whitespace precedes the token, to just after it. An
// escaped bracket (&lt; or &gt;) is never split.
func Preview(body string, max int) string {
	runes := []rune(body)
	if max <= 0 || len(runes) <= max {
		return body
	}

	cut := max
	for _, sp := range spans(body) {
		if sp.start < cut && cut < sp.end {
			if strings.TrimSpace(string(runes[:sp.start])) != "" {
				cut = sp.start
			} else {
				cut = sp.end
			}
			break
		}
	}
	if cut < len(runes) {
		cut = entityStart(runes, cut)
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
}

// entityStart moves cut back to the & of an escaped bracket it would split.
func entityStart(runes []rune, cut int) int {
	for i := cut - 1; i >= 0 && i > cut-4; i-- {
		if runes[i] != '&' {
			continue
		}
		if i+4 <= len(runes) {
			if ent := string(runes[i : i+4]); ent == "&lt;" || ent == "&gt;" {
				return i
			}
		}
		break
	}
	return cut
}
