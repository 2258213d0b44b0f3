//go:build libpostal

package normalize

import (
	"strings"

	postal "github.com/openvenues/gopostal/parser"
)

func init() {
	defaultParser = PostalParser{}
}

// PostalParser labels address components with libpostal. It needs the
// libpostal C library and its data files at runtime.
type PostalParser struct{}

// Parse implements AddressParser.
func (PostalParser) Parse(raw string) AddressParts {
	var parts AddressParts
	s := Fold(raw)
	if s == "" {
		return parts
	}

	var street, unit, city []string
	for _, comp := range postal.ParseAddress(s) {
		value := expandAll(comp.Value)
		switch comp.Label {
		case "house", "road":
			street = append(street, value)
		case "house_number":
			if parts.Number == "" {
				parts.Number = value
			}
		case "unit", "level", "staircase", "entrance":
			unit = append(unit, value)
		case "postcode":
			parts.Postcode = strings.ReplaceAll(value, " ", "")
		case "suburb", "city_district", "city":
			city = append(city, value)
		}
	}

	parts.Street = strings.Join(street, " ")
	parts.Unit = strings.Join(unit, " ")
	parts.City = strings.Join(city, " ")
	return parts
}

func expandAll(s string) string {
	tokens := strings.Fields(StripPunct(s))
	for i, tok := range tokens {
		tokens[i] = ExpandToken(tok)
	}
	return strings.Join(tokens, " ")
}
