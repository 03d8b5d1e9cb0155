package mention

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strict removes every element, dropping script and style contents
// entirely. A stripped tag leaves a space so neighbouring words and
// mentions stay apart.
var strict = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)

// spaceRun matches the runs of spaces left behind by stripped tags.
var spaceRun = regexp.MustCompile(` {2,}`)

// brackets re-escapes the only characters that could start markup once
// bluemonday's entity escaping has been undone.
var brackets = strings.NewReplacer("<", "&lt;", ">", "&gt;")

// Sanitize neutralizes markup in a note body before it is stored or
// rendered. Quotes, apostrophes and ampersands are kept as typed; a literal
// < or > is stored as &lt; or &gt;. It is safe for concurrent use.
func Sanitize(body string) string {
	out := html.UnescapeString(strict.Sanitize(body))
	out = brackets.Replace(out)
	return strings.TrimSpace(spaceRun.ReplaceAllString(out, " "))
}
