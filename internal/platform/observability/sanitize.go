package observability

import (
	"strings"
	"unicode"
)

const (
	defaultStringLimit = 256
	referenceLimit     = 64
)

// sanitizeString keeps a log value on one line and caps it at limit runes. Line breaks and tabs
// become spaces; other control and format characters are dropped.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	var b strings.Builder
	b.Grow(min(len(value), limit))
	count := 0
	for _, r := range value {
		if count == limit {
			break
		}
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			r = ' '
		case unicode.IsControl(r) || unicode.Is(unicode.Cf, r):
			continue
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// SanitizeRoute removes control characters and enforces length constraints on routes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod removes control characters in HTTP methods.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID limits potential identifiers to reduce PII leakage in logs.
func SanitizeUserID(uid string) string {
	if len(uid) == 0 {
		return ""
	}
	return sanitizeString(uid, 64)
}

// SanitizeReference reduces an order id or gateway transaction reference to the characters
// this service issues ([A-Za-z0-9_.-]). Anything else, such as an attacker supplied
// vnp_TxnRef, is replaced with '?' so it stays visible without being trusted.
func SanitizeReference(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	var b strings.Builder
	count := 0
	for _, r := range ref {
		if count == referenceLimit {
			break
		}
		if !isReferenceRune(r) {
			r = '?'
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

func isReferenceRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-' || r == '.':
		return true
	}
	return false
}
