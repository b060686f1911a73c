// Package fsops provides filesystem primitives for relocating report files:
// subject sanitization, dated drop directory layout, collision-safe moves
// and archive member extraction.
package fsops

import (
	"regexp"
	"strings"
)

// MaxSanitizedLength bounds sanitized subject stems so derived filenames
// stay portable.
const MaxSanitizedLength = 120

var (
	leadingTagRe    = regexp.MustCompile(`(?i)^\s*\[(ext|external|secure)\]\s*`)
	slashDateRe     = regexp.MustCompile(`(\d)[/\\](\d)`)
	illegalCharRe   = regexp.MustCompile(`[\\/:*?"<>|[:cntrl:]]`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
	underscoreRunRe = regexp.MustCompile(`_+`)
	reservedNameRe  = regexp.MustCompile(`(?i)^(con|prn|aux|nul|com[1-9]|lpt[1-9])($|\.)`)
)

// SanitizeSubject turns an arbitrary mail subject into a safe filename stem.
// It never fails and never returns an empty string.
func SanitizeSubject(subject string) string {
	s := leadingTagRe.ReplaceAllString(subject, "")

	// keep dates like 08/13/2025 readable instead of mangling the slashes
	for slashDateRe.MatchString(s) {
		s = slashDateRe.ReplaceAllString(s, "$1-$2")
	}

	// collapse whitespace before the illegal-character pass so interior
	// tabs and newlines fold into spaces instead of underscores
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = illegalCharRe.ReplaceAllString(s, "_")
	s = underscoreRunRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, " ._")

	if reservedNameRe.MatchString(s) {
		s = "_" + s
	}

	// truncate on a rune boundary so multi-byte subjects stay valid UTF-8
	if runes := []rune(s); len(runes) > MaxSanitizedLength {
		s = strings.Trim(string(runes[:MaxSanitizedLength]), " ._")
	}

	if s == "" {
		return "untitled"
	}
	return s
}
