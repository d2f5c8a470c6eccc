package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// maxTokenLength bounds the work done on a client supplied token. Order cursors encode to well
// under a hundred bytes.
const maxTokenLength = 512

// EncodeToken serialises the provided cursor into a base64 URL-safe page token.
func EncodeToken(cursor Cursor) (string, error) {
	if len(cursor.StartAfter) == 0 && len(cursor.StartAt) == 0 {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses the page token produced by EncodeToken back into a cursor. Padded tokens
// are accepted because some clients re-encode them.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimRight(strings.TrimSpace(token), "=")
	if token == "" {
		return Cursor{}, nil
	}
	if len(token) > maxTokenLength {
		return Cursor{}, fmt.Errorf("%w: token too long", ErrInvalidPageToken)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}

// OrderCursor is the keyset position in an order listing sorted by createdAt then id, both
// descending. Every order store issues and accepts the same shape.
type OrderCursor struct {
	CreatedAt time.Time
	ID        string
}

// EncodeOrderCursor renders the position after the last order of a page.
func EncodeOrderCursor(cursor OrderCursor) (string, error) {
	if cursor.ID == "" {
		return "", nil
	}
	return EncodeToken(Cursor{
		StartAfter: []any{cursor.CreatedAt.UTC().Format(time.RFC3339Nano), cursor.ID},
	})
}

// DecodeOrderCursor parses a token issued by EncodeOrderCursor. An empty token yields ok=false.
func DecodeOrderCursor(token string) (cursor OrderCursor, ok bool, err error) {
	raw, err := DecodeToken(token)
	if err != nil {
		return OrderCursor{}, false, err
	}
	if len(raw.StartAfter) == 0 && len(raw.StartAt) == 0 {
		return OrderCursor{}, false, nil
	}
	if len(raw.StartAfter) != 2 || len(raw.StartAt) != 0 {
		return OrderCursor{}, false, fmt.Errorf("%w: unexpected cursor shape", ErrInvalidPageToken)
	}
	createdRaw, _ := raw.StartAfter[0].(string)
	id, _ := raw.StartAfter[1].(string)
	createdAt, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil || strings.TrimSpace(id) == "" {
		return OrderCursor{}, false, fmt.Errorf("%w: malformed cursor", ErrInvalidPageToken)
	}
	return OrderCursor{CreatedAt: createdAt, ID: id}, true, nil
}

// After reports whether an order at (createdAt, id) sorts after the cursor in the listing order.
func (c OrderCursor) After(createdAt time.Time, id string) bool {
	if !createdAt.Equal(c.CreatedAt) {
		return createdAt.Before(c.CreatedAt)
	}
	return id < c.ID
}
