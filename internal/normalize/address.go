package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// AddressParts are the ordered segments of a canonical address.
type AddressParts struct {
	Street   string
	Number   string
	Unit     string
	City     string
	Postcode string
}

// Canonical joins the non-empty segments in street, number, unit, city,
// postcode order, so formatting and segment order in the raw value do not
// matter.
func (p AddressParts) Canonical() string {
	var segs []string
	for _, s := range []string{p.Street, p.Number, p.Unit, p.City, p.Postcode} {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return strings.Join(segs, " ")
}

// AddressParser splits a raw address into segments.
type AddressParser interface {
	Parse(raw string) AddressParts
}

// abbreviations expands common street and unit abbreviations. Keys and
// values are folded (lower case, no accents).
var abbreviations = map[string]string{
	"st":   "street",
	"str":  "strasse",
	"rd":   "road",
	"ave":  "avenue",
	"av":   "avenue",
	"blvd": "boulevard",
	"bd":   "boulevard",
	"dr":   "drive",
	"ln":   "lane",
	"pl":   "place",
	"sq":   "square",
	"ct":   "court",
	"cres": "crescent",
	"ter":  "terrace",
	"cl":   "close",
	"pk":   "park",
	"hwy":  "highway",
	"gdns": "gardens",
	"grn":  "green",
	"apt":  "apartment",
	"appt": "apartment",
	"flt":  "flat",
	"ste":  "suite",
	"fl":   "floor",
	"flr":  "floor",
	"bldg": "building",
	"hse":  "house",
	"nth":  "north",
	"sth":  "south",
	"n":    "north",
	"s":    "south",
	"e":    "east",
	"w":    "west",
	"mt":   "mount",
	"ft":   "fort",
}

// unitMarkers introduce a unit designator such as "apartment 4".
var unitMarkers = map[string]bool{
	"apartment": true, "flat": true, "unit": true, "suite": true, "studio": true, "room": true,
}

// streetTypes end a street name. Prefix types such as "rue" are left out:
// the words after them are still the name.
var streetTypes = map[string]bool{
	"street": true, "road": true, "avenue": true, "boulevard": true, "drive": true,
	"lane": true, "place": true, "square": true, "court": true, "crescent": true,
	"terrace": true, "close": true, "park": true, "highway": true, "gardens": true,
	"green": true, "way": true, "row": true, "strasse": true,
}

var directions = map[string]bool{"north": true, "south": true, "east": true, "west": true}

// descriptors carry no identity and are dropped from canonical addresses.
var descriptors = map[string]bool{
	"proposed": true, "former": true, "nr": true, "near": true,
}

var (
	reHouseNumber = regexp.MustCompile(`^\d+[a-z]?$`)
	reRange       = regexp.MustCompile(`^\d+-\d+[a-z]?$`)
	rePostcodeNum = regexp.MustCompile(`^\d{4,6}$`)
	rePostcodeUK  = regexp.MustCompile(`\b([a-z]{1,2}\d[a-z\d]?)\s*(\d[abd-hjlnp-uw-z]{2})\b`)
	reZipPlus4    = regexp.MustCompile(`^\d{5}-\d{4}$`)
)

// ExpandToken expands one folded abbreviation token.
func ExpandToken(tok string) string {
	if full, ok := abbreviations[tok]; ok {
		return full
	}
	return tok
}

// RuleParser is the default AddressParser. Comma-separated segments are
// read as street line first and locality after; within them, house
// numbers, unit designators and postcodes are recognised by shape.
type RuleParser struct{}

// Parse implements AddressParser.
func (RuleParser) Parse(raw string) AddressParts {
	var parts AddressParts

	s := Fold(raw)
	if s == "" {
		return parts
	}

	// UK postcodes have an internal space, so they are lifted out before
	// tokenising.
	if m := rePostcodeUK.FindStringSubmatch(s); m != nil {
		parts.Postcode = m[1] + m[2]
		s = strings.Replace(s, m[0], " ", 1)
	}

	var street, city, units []string
	for _, seg := range strings.Split(s, ",") {
		tokens := addressTokens(seg)

		var rest []string
		for i := 0; i < len(tokens); i++ {
			tok := tokens[i]
			if descriptors[tok] {
				continue
			}
			if tok == "st" && i+1 < len(tokens) && !isNumberToken(tokens[i+1]) && (i == 0 || isNumberToken(tokens[i-1])) {
				tok = "saint"
			} else {
				tok = ExpandToken(tok)
			}

			if unitMarkers[tok] && i+1 < len(tokens) {
				units = append(units, tok+" "+tokens[i+1])
				i++
				continue
			}
			rest = append(rest, tok)
		}

		// Segments before the first street word ("Flat 3, 45 Church Rd",
		// "12, High Street") belong to the street line. Within the street
		// line, words after the last street type ("Main St 5 London") are
		// the house number or locality.
		var locality []string
		if len(street) == 0 {
			cut := len(rest)
			if at := lastStreetType(rest); at >= 0 {
				cut = at + 1
				for cut < len(rest) && directions[rest[cut]] {
					cut++
				}
			}
			for _, tok := range rest[:cut] {
				if parts.Number == "" && isNumberToken(tok) {
					parts.Number = tok
					continue
				}
				street = append(street, tok)
			}
			for _, tok := range rest[cut:] {
				if parts.Number == "" && isNumberToken(tok) {
					parts.Number = tok
					continue
				}
				locality = append(locality, tok)
			}
		} else {
			locality = rest
		}

		for _, tok := range locality {
			if parts.Postcode == "" && (rePostcodeNum.MatchString(tok) || reZipPlus4.MatchString(tok)) {
				parts.Postcode = tok
				continue
			}
			city = append(city, tok)
		}
	}

	parts.Street = strings.Join(street, " ")
	parts.City = strings.Join(city, " ")
	parts.Unit = strings.Join(units, " ")
	return parts
}

// defaultParser is replaced by the libpostal parser when built with the
// libpostal tag.
var defaultParser AddressParser = RuleParser{}

// addressTokens splits a folded segment on punctuation, keeping inner
// hyphens so ranges ("12-14") and ZIP+4 codes stay whole.
func addressTokens(seg string) []string {
	var tokens []string
	for _, tok := range strings.Fields(strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, seg)) {
		if tok = strings.Trim(tok, "-"); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func lastStreetType(tokens []string) int {
	for i := len(tokens) - 1; i >= 0; i-- {
		if streetTypes[tokens[i]] {
			return i
		}
	}
	return -1
}

func isNumberToken(tok string) bool {
	return reHouseNumber.MatchString(tok) || reRange.MatchString(tok)
}
