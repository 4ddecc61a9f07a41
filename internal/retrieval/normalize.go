package retrieval

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonWordRe    = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

	// asciiFolder strips combining marks after NFD decomposition (ä -> a).
	asciiFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	ligatures = strings.NewReplacer(
		"ß", "ss",
		"æ", "ae",
		"œ", "oe",
		"ø", "o",
		"đ", "d",
	)
)

// Fold transliterates accented characters to their ASCII equivalents.
func Fold(text string) string {
	text = ligatures.Replace(text)
	folded, _, err := transform.String(asciiFolder, text)
	if err != nil {
		return text
	}
	return folded
}

// Normalize prepares text for search: lowercase, transliterate, collapse
// whitespace.
func Normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = Fold(text)
	return whitespaceRe.ReplaceAllString(text, " ")
}

// Tokenize splits text into lowercase word tokens, treating punctuation as
// whitespace.
func Tokenize(text string) []string {
	text = nonWordRe.ReplaceAllString(strings.ToLower(text), " ")
	return strings.Fields(text)
}
