// Package pagination provides opaque cursor pagination over agent listings.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

// DefaultLimit and MaxLimit bound page sizes.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

var ErrInvalidCursor = errors.New("pagination: invalid cursor")

const prefix = "agent:"

// Encode returns an opaque cursor pointing just past the agent with id.
func Encode(id uint64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(prefix + strconv.FormatUint(id, 10)))
}

// Decode parses a cursor produced by Encode. Empty input yields 0.
func Decode(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return 0, ErrInvalidCursor
	}
	rest, ok := strings.CutPrefix(string(raw), prefix)
	if !ok {
		return 0, ErrInvalidCursor
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidCursor
	}
	return id, nil
}

// ClampLimit parses a limit query value. Empty or invalid input returns 0,
// meaning unpaginated.
func ClampLimit(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0
	}
	return min(n, MaxLimit)
}

// ComputePage takes items fetched with limit+1, trims them to limit and
// returns the cursor for the next page, if any.
func ComputePage[T any](items []T, limit int, key func(T) uint64) ([]T, string) {
	if limit <= 0 || len(items) <= limit {
		return items, ""
	}
	items = items[:limit]
	return items, Encode(key(items[len(items)-1]))
}
