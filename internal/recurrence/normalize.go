package recurrence

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// UnknownKey is the key of descriptions that carry no merchant information.
// Transactions with this key are never clustered.
const UnknownKey = "__unknown__"

var (
	// 05/01, 2024-01-05, 05.01.24. Day and month take two digits, so
	// tokens like "24/7" are kept.
	datePattern = regexp.MustCompile(`\b(?:\d{4}[/\-.]\d{2}[/\-.]\d{2}|\d{2}[/\-.]\d{2}(?:[/\-.](?:\d{4}|\d{2}))?)\b`)

	// #4471, store 123, no. 12
	storeNumberPattern = regexp.MustCompile(`#\s*\d+|\b(?:store|str|no|nr)\.?\s*#?\s*\d+\b`)

	// card ending 1234, ending in 1234, xxxx1234, ****1234, x1234
	cardTailPattern = regexp.MustCompile(`\b(?:card\s+)?ending(?:\s+in)?\s+\d+\b|(?:^|\s)[x*]+\d{2,}\b`)

	// reference or transaction IDs
	longDigitsPattern = regexp.MustCompile(`\d{4,}`)
)

// newFolder builds a fresh transformer per call. Transformers carry state
// and must not be shared between goroutines.
func newFolder() transform.Transformer {
	return transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		cases.Fold(),
		norm.NFC,
	)
}

// Normalize canonicalizes a raw transaction description into a merchant key.
// It is a pure function. Descriptions without merchant information yield
// UnknownKey.
func Normalize(description string) string {
	s, _, err := transform.String(newFolder(), description)
	if err != nil {
		s = strings.ToLower(description)
	}

	s = datePattern.ReplaceAllString(s, " ")
	s = storeNumberPattern.ReplaceAllString(s, " ")
	s = cardTailPattern.ReplaceAllString(s, " ")
	s = longDigitsPattern.ReplaceAllString(s, " ")
	s = stripPunctuation(s)

	tokens := strings.Fields(s)
	for len(tokens) > 0 && isNumeric(tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return UnknownKey
	}
	return strings.Join(tokens, " ")
}

// stripPunctuation replaces punctuation with spaces. '&', '\'', '.' and '-'
// survive only between two alphanumerics, so "at&t" and "amazon.com" keep
// their shape.
func stripPunctuation(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case isInternalSeparator(r) && i > 0 && i < len(rs)-1 && isAlnum(rs[i-1]) && isAlnum(rs[i+1]):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}

func isInternalSeparator(r rune) bool {
	return r == '&' || r == '\'' || r == '.' || r == '-'
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isNumeric reports whether token is digits, possibly joined by separators,
// as in "866-579" or "12.50".
func isNumeric(token string) bool {
	digits := false
	for _, r := range token {
		switch {
		case unicode.IsDigit(r):
			digits = true
		case isInternalSeparator(r):
		default:
			return false
		}
	}
	return digits
}
