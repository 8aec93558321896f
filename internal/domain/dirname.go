package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DirName derives a filesystem-safe directory name from a display name.
// Accents are stripped, spaces become underscores, apostrophes are removed
// and the result is lowercased.
func DirName(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}
	stripped = strings.ReplaceAll(stripped, " ", "_")
	stripped = strings.ReplaceAll(stripped, "'", "")
	return strings.ToLower(stripped)
}
