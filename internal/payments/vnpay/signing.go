package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const (
	// FieldSecureHash carries the merchant or gateway signature.
	FieldSecureHash = "vnp_SecureHash"
	// FieldSecureHashType optionally names the hash algorithm and is never signed.
	FieldSecureHashType = "vnp_SecureHashType"
)

// Canonicalize drops empty values, sorts the remaining keys by byte order and joins them as
// key=value pairs separated by '&'.
func Canonicalize(fields map[string]string) string {
	keys := sortedKeys(fields)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+fields[key])
	}
	return strings.Join(parts, "&")
}

// EncodeQuery renders fields as a URL query string in the same key order Canonicalize uses. It
// is the transport form only; signatures always cover Canonicalize over the raw values.
func EncodeQuery(fields map[string]string) string {
	keys := sortedKeys(fields)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(fields[key]))
	}
	return strings.Join(parts, "&")
}

// PipeJoin builds the '|' delimited signing input used by the querydr and refund commands.
// Field order is fixed by the caller.
func PipeJoin(values ...string) string {
	return strings.Join(values, "|")
}

// Sign returns the lowercase hex HMAC-SHA512 of data.
func Sign(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over fields, excluding the hash-bearing keys, and compares
// it to provided in constant time.
func Verify(secret string, fields map[string]string, provided string) bool {
	provided = strings.ToLower(strings.TrimSpace(provided))
	if provided == "" {
		return false
	}
	expected := Sign(secret, Canonicalize(withoutHashFields(fields)))
	return hmac.Equal([]byte(expected), []byte(provided))
}

func withoutHashFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for key, value := range fields {
		if key == FieldSecureHash || key == FieldSecureHashType {
			continue
		}
		out[key] = value
	}
	return out
}

func sortedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for key, value := range fields {
		if value == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
