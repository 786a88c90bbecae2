package server

import (
	"regexp"
	"strings"
)

var (
	fencedBlock   = regexp.MustCompile("```[A-Za-z0-9_+-]*[\\s\\S]*?```")
	leadingMarker = regexp.MustCompile(`(?m)^[#*>\-]+[ \t]?`)
	blankRun      = regexp.MustCompile(`\n(?:[ \t]*\n)+`)
)

// CleanReply strips markdown from a model reply: fenced code blocks are
// removed, leading heading/emphasis/quote/bullet markers are dropped from
// each line and runs of blank lines collapse to a single newline.
func CleanReply(s string) string {
	s = fencedBlock.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = leadingMarker.ReplaceAllString(s, "")
	s = blankRun.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}
