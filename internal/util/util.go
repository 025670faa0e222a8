package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonAlnum   = regexp.MustCompile("[^a-z0-9]+")
	spaceRun   = regexp.MustCompile(`[\s_]+`)
	caseFolder = cases.Fold()
)

// Slugify creates a slug from the given string.
func Slugify(s string) string {
	s = strings.ToLower(s)

	// Remove accents
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, _ = transform.String(t, s)

	s = nonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Normalize removes NULL bytes and trims the string.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}

// NormalizeCommand case-folds a remote command and collapses whitespace and
// underscores to single spaces, so "ARM_Away" and "arm  away" compare equal.
func NormalizeCommand(s string) string {
	s = Normalize(s)
	s = norm.NFKC.String(s)
	s = caseFolder.String(s)
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// BoolDigit renders b as "1" or "0" for compact status details.
func BoolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
