package keyword

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)

// NormalizeText lower-cases text, replaces all non-letter, non-digit,
// non-space characters with a single space, collapses repeated whitespace,
// and trims. It also applies unicode NFD normalization with combining-mark
// removal, so accented variants fold to their base form.
//
// This is the canonical form all rule matching runs against: "SUICIDE!!!"
// normalizes to "suicide".
func NormalizeText(text string) string {
	return strings.Join(TokenizeText(text), " ")
}

// TokenizeText splits free-form text into normalized lower-case tokens. The
// intent is for this to work similarly to an NLP tokenizer, as might be used
// in a fulltext search engine, and enable fast matching against a list of
// known terms.
func TokenizeText(text string) []string {
	// this function needs to be re-defined in every function call to prevent a race condition
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	split := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	folded, _, err := transform.String(normFunc, split)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		folded = split
	}
	return strings.Fields(folded)
}

var nonSlugChars = regexp.MustCompile(`[^\pL\pN]+`)

// Slugify takes an arbitrary string and returns a version with all
// non-letter, non-digit characters removed, all lower-case.
func Slugify(orig string) string {
	return strings.ToLower(nonSlugChars.ReplaceAllString(orig, ""))
}
