package textutil

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	plainPolicy = bluemonday.StrictPolicy()
	richPolicy  = newRichTextPolicy()
)

func newRichTextPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return policy
}

// PlainText removes every tag from value and trims the result.
func PlainText(value string) string {
	return strings.TrimSpace(plainPolicy.Sanitize(value))
}

// RichText keeps user-generated formatting but drops scripts, handlers and unsafe URLs.
func RichText(value string) string {
	return strings.TrimSpace(richPolicy.Sanitize(value))
}

// Slugify lowercases value, strips diacritics and joins alphanumeric runs with single hyphens.
func Slugify(value string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), value)
	if err != nil {
		folded = value
	}

	var (
		b       strings.Builder
		pending bool
	)
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
