package dedup

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// folder is stateless and safe for concurrent use.
var folder = cases.Fold()

// MinPhoneDigits is the shortest normalized phone number used for matching.
const MinPhoneDigits = 10

// NormalizeEmail trims and lowercases an email address.
// - "  John@Example.COM " → "john@example.com"
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips every non-digit character.
// - "(555) 123-4567" → "5551234567"
// - "+1 555.123.4567" → "15551234567"
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MatchablePhone returns the normalized phone and whether it is long enough
// to be used for matching.
func MatchablePhone(phone string) (string, bool) {
	digits := NormalizePhone(phone)
	return digits, len(digits) >= MinPhoneDigits
}

// FoldName trims a name and applies Unicode case folding so names can be
// compared case-insensitively.
func FoldName(name string) string {
	name = strings.TrimFunc(name, unicode.IsSpace)
	if name == "" {
		return ""
	}
	return folder.String(name)
}

// SameName reports whether a and b are equal after trimming and case folding.
func SameName(a, b string) bool {
	return FoldName(a) == FoldName(b)
}
