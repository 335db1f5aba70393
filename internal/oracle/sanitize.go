package oracle

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	genericWordsRe = regexp.MustCompile(`(?i)(^|[^\p{L}])(transfer|transferência|transferencia|translado|deslocamento)([^\p{L}]|$)`)
	legPrefixRe    = regexp.MustCompile(`(?i)^\s*(retorno|volta|ida)(\s*[:\-–]\s*|\s+)((para|pra|ao|à|a)\s+)?`)
	emptyParensRe  = regexp.MustCompile(`\(\s*\)|\[\s*\]`)
	spacesRe       = regexp.MustCompile(`\s+`)
)

const edgeTrim = " \t-–:,.;|/"

// Sanitize turns a stored location label into something a geocoder can use.
// Generic transfer words and Retorno/Volta/Ida prefixes are removed; URLs
// and labels left empty by sanitation yield "".
func Sanitize(place string) string {
	s := strings.TrimSpace(place)
	if s == "" || IsURL(s) {
		return ""
	}

	s = legPrefixRe.ReplaceAllString(s, "")
	// Replace repeatedly: adjacent generic words share a separator and a
	// single pass would skip every other one.
	for {
		next := genericWordsRe.ReplaceAllString(s, "$1$3")
		if next == s {
			break
		}
		s = next
	}
	s = emptyParensRe.ReplaceAllString(s, "")
	s = spacesRe.ReplaceAllString(s, " ")
	s = strings.Trim(s, edgeTrim)

	if !hasLetterOrDigit(s) {
		return ""
	}
	return s
}

// ResolvePlace returns the first candidate that survives sanitation. The
// usual order is stored location, city, then event title, which covers
// events whose location field holds a maps link.
func ResolvePlace(candidates ...string) string {
	for _, c := range candidates {
		if s := Sanitize(c); s != "" {
			return s
		}
	}
	return ""
}

// SamePlace compares two sanitized places case-insensitively.
func SamePlace(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// IsURL reports whether a stored location is a link rather than an address.
func IsURL(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") || strings.HasPrefix(l, "www.")
}

func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
