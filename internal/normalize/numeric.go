package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var reNumeric = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)$`)

// currencyWords are stripped with the symbols; they appear as prefixes or
// suffixes in scraped prices ("EUR 1.200", "1200 eur").
var currencyWords = strings.NewReplacer("eur", "", "usd", "", "gbp", "", "chf", "")

// ParseNumber reads a price or quantity written the way listings write
// them: currency marks, thousands separators, and either "." or "," as the
// decimal mark ("€1.250,50", "$1,200.50", "350 000"). It never accepts NaN
// or infinities.
func ParseNumber(raw string) (float64, error) {
	s := currencyWords.Replace(strings.ToLower(strings.TrimSpace(raw)))
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r), unicode.Is(unicode.Sc, r), r == '\'':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0, fmt.Errorf("no digits in %q", raw)
	}

	s = normalizeSeparators(s)
	if !reNumeric.MatchString(s) {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number: %w", raw, err)
	}
	return f, nil
}

// normalizeSeparators rewrites s so "." is the only decimal mark and no
// grouping separators remain. When both marks occur the rightmost one is
// the decimal mark. A lone "," followed by exactly three digits groups
// thousands; otherwise it is decimal. Repeated marks always group.
func normalizeSeparators(s string) string {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	switch {
	case dots > 0 && commas > 0:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case commas > 1:
		return strings.ReplaceAll(s, ",", "")
	case commas == 1:
		i := strings.Index(s, ",")
		if len(s)-i-1 == 3 && i > 0 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case dots > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}
