package normalize

import (
	"strings"
)

// phoneticPairs are letter groups rewritten before encoding. Three-letter
// groups are tried before two-letter ones.
var phoneticPairs = map[string]string{
	"ph":  "f",
	"gh":  "f",
	"ck":  "k",
	"qu":  "kw",
	"kn":  "n",
	"wr":  "r",
	"ps":  "s",
	"sch": "sk",
}

var phoneticSingles = map[byte]string{
	'c': "k",
	'q': "k",
	'z': "s",
	'x': "ks",
}

// commonTokens are skipped when building phonetic keys: they appear in
// most listings and carry no identity.
var commonTokens = map[string]bool{
	"the": true, "and": true, "of": true, "at": true, "in": true, "on": true,
	"street": true, "road": true, "avenue": true, "lane": true, "drive": true,
	"apartment": true, "flat": true, "unit": true, "floor": true, "suite": true,
	"north": true, "south": true, "east": true, "west": true,
}

// PhoneticKey returns a consonant-skeleton code for a folded token so that
// spelling variants ("smyth", "smith") share a key. The first letter is
// kept, later vowels are dropped, repeated codes collapse, and the result
// is capped at six characters.
func PhoneticKey(token string) string {
	if token == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(token); i++ {
		if i+2 < len(token) {
			if rep, ok := phoneticPairs[token[i:i+3]]; ok {
				b.WriteString(rep)
				i += 2
				continue
			}
		}
		if i+1 < len(token) {
			if rep, ok := phoneticPairs[token[i:i+2]]; ok {
				b.WriteString(rep)
				i++
				continue
			}
		}

		ch := token[i]
		switch {
		case phoneticSingles[ch] != "":
			b.WriteString(phoneticSingles[ch])
		case isVowel(ch):
			if i == 0 {
				b.WriteByte(ch)
			}
		case ch == 'h' || ch == 'w':
			if i == 0 {
				b.WriteByte(ch)
			}
		case ch >= 'a' && ch <= 'z':
			b.WriteByte(ch)
		}
	}

	code := collapseRepeats(b.String())
	if len(code) > 6 {
		code = code[:6]
	}
	return code
}

// PhoneticTokens returns the phonetic keys of the significant alphabetic
// tokens of a canonical string, in order.
func PhoneticTokens(canonical string) []string {
	var keys []string
	for _, tok := range strings.Fields(canonical) {
		if len(tok) <= 2 || commonTokens[tok] || !isAlpha(tok) {
			continue
		}
		if key := PhoneticKey(tok); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func isVowel(ch byte) bool {
	return strings.IndexByte("aeiouy", ch) >= 0
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return len(s) > 0
}

func collapseRepeats(s string) string {
	if len(s) <= 1 {
		return s
	}

	var b strings.Builder
	b.WriteByte(s[0])
	for i := 1; i < len(s); i++ {
		if s[i] != s[i-1] {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
