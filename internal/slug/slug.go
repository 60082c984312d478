// Package slug derives URL-safe catalog slugs from series titles.
package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLength is the longest slug From will return
const MaxLength = 100

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// From lowercases title, folds accents (é → e), replaces every run of
// characters outside [a-z0-9] with a single hyphen, trims hyphens from both
// ends and truncates to MaxLength. Titles with no ASCII letters or digits
// yield "".
func From(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}

	s := nonAlphanumeric.ReplaceAllString(strings.ToLower(folded), "-")
	s = strings.Trim(s, "-")

	if len(s) > MaxLength {
		s = strings.TrimRight(s[:MaxLength], "-")
	}
	return s
}

// WithSuffix appends a disambiguating suffix, keeping the result within MaxLength
func WithSuffix(base, suffix string) string {
	suffix = From(suffix)
	if suffix == "" {
		return base
	}
	if base == "" {
		return suffix
	}

	room := MaxLength - len(suffix) - 1
	if room < 1 {
		return suffix
	}
	if len(base) > room {
		base = strings.TrimRight(base[:room], "-")
	}
	return base + "-" + suffix
}
