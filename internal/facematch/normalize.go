package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string ("José" becomes "Jose").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizePersonName normalizes a display name for uniqueness checks:
// lowercase, no diacritics, dashes as spaces, runs of whitespace collapsed.
func NormalizePersonName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return strings.Join(strings.Fields(name), " ")
}

// CleanDisplayName trims a user-entered name and collapses inner whitespace,
// keeping case and diacritics for display.
func CleanDisplayName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
