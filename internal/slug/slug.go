// Package slug builds the URL-safe identifiers stored in products.slug,
// brands.slug and ingredients.slug.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Make lowercases s, folds diacritics ("Oréal" → "oreal"), drops
// apostrophes and collapses every other run of non-alphanumerics into a
// single hyphen. The result is stable for a given input.
func Make(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r == '\'' || r == '’':
			continue
		case r == '&':
			if b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteString("and")
			pendingDash = true
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		default:
			pendingDash = true
		}
	}
	return b.String()
}

// Product returns the product slug for a brand/name pair. A name that
// already starts with the brand is not prefixed twice.
func Product(brand, name string) string {
	b := Make(brand)
	n := Make(name)
	switch {
	case b == "":
		return n
	case n == "":
		return b
	case n == b || strings.HasPrefix(n, b+"-"):
		return n
	}
	return b + "-" + n
}
