package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var localityPrefixes = []string{"thanhpho", "tinh", "tp"}

// StripDiacritics removes combining marks so Vietnamese text becomes plain ASCII letters.
// The letter đ has no decomposition and is mapped explicitly.
func StripDiacritics(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, value)
	if err != nil {
		out = value
	}
	return strings.NewReplacer("đ", "d", "Đ", "D").Replace(out)
}

// ASCII reduces value to printable ASCII with collapsed whitespace, suitable for gateway fields
// that reject accented characters.
func ASCII(value string, limit int) string {
	stripped := StripDiacritics(value)
	var b strings.Builder
	b.Grow(len(stripped))
	space := false
	for _, r := range stripped {
		switch {
		case unicode.IsSpace(r):
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = true
			continue
		case r > unicode.MaxASCII || !unicode.IsPrint(r):
			continue
		}
		space = false
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if limit > 0 && len(out) > limit {
		out = strings.TrimSpace(out[:limit])
	}
	return out
}

// FoldLocality produces a comparison key for province names: lower case, no diacritics, no
// punctuation or spaces, and administrative prefixes such as "TP." removed.
func FoldLocality(value string) string {
	stripped := strings.ToLower(StripDiacritics(strings.TrimSpace(value)))
	var b strings.Builder
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	key := b.String()
	for _, prefix := range localityPrefixes {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			key = strings.TrimPrefix(key, prefix)
			break
		}
	}
	return key
}
