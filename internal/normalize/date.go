package normalize

import (
	"fmt"
	"strings"
	"time"
)

// DefaultDateLayouts are tried in order. Slash and dot dates are read
// day first, as the listings are European.
var DefaultDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02.01.2006",
}

// ParseDate parses raw with the first matching layout. Values without a
// zone are taken as UTC.
func ParseDate(raw string, layouts []string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q matches none of %d date layouts", raw, len(layouts))
}

// LooksLikeDate reports whether raw parses as a date under the default
// layouts. Used when inferring column types.
func LooksLikeDate(raw string) bool {
	_, err := ParseDate(raw, nil)
	return err == nil
}
