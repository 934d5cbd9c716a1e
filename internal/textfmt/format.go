// Package textfmt adapts generated text to the WhatsApp channel: it rewrites
// markdown into WhatsApp's visual conventions and splits long replies into
// transport-sized chunks.
package textfmt

import (
	"html"
	"regexp"
	"strings"
)

// HeadingMarker prefixes promoted markdown headings.
const HeadingMarker = "▶"

// Bullet replaces "-" and "*" list markers.
const Bullet = "•"

var (
	horizontalSpaceRegex = regexp.MustCompile(`[ \t\f\v\r]+`)
	lineEdgeSpaceRegex   = regexp.MustCompile(` ?\n ?`)
	headingRegex         = regexp.MustCompile(`(?m)^#{1,6} +(.+?) *$`)
	starBoldRegex        = regexp.MustCompile(`\*\*(.+?)\*\*`)
	underscoreBoldRegex  = regexp.MustCompile(`__(.+?)__`)
	listMarkerRegex      = regexp.MustCompile(`(?m)^[-*] +`)
	numberedMarkerRegex  = regexp.MustCompile(`([^\n]) +(\d+\. )`)
	sentenceEndRegex     = regexp.MustCompile(`(?m)(^\d+\.|[.?!]) +`)
	excessBreaksRegex    = regexp.MustCompile(`\n{3,}`)
)

// Format normalizes generated text for WhatsApp. The transformations are
// applied in a fixed order and are not idempotent: apply once per message.
// Whitespace collapsing keeps line breaks, since heading and list promotion
// work on line starts.
func Format(text string) string {
	out := html.UnescapeString(text)

	out = horizontalSpaceRegex.ReplaceAllString(out, " ")
	out = lineEdgeSpaceRegex.ReplaceAllString(out, "\n")

	out = headingRegex.ReplaceAllString(out, "*"+HeadingMarker+" $1*")
	out = starBoldRegex.ReplaceAllString(out, "*$1*")
	out = underscoreBoldRegex.ReplaceAllString(out, "*$1*")
	out = listMarkerRegex.ReplaceAllString(out, Bullet+" ")
	out = numberedMarkerRegex.ReplaceAllString(out, "$1\n$2")
	out = sentenceEndRegex.ReplaceAllStringFunc(out, breakAfterSentence)
	out = excessBreaksRegex.ReplaceAllString(out, "\n\n")

	return strings.TrimSpace(out)
}

// breakAfterSentence turns the spaces after terminal punctuation into a
// paragraph break. A numbered marker at line start is not a sentence end.
func breakAfterSentence(m string) string {
	if m[0] >= '0' && m[0] <= '9' {
		return m
	}
	return strings.TrimRight(m, " ") + "\n\n"
}
