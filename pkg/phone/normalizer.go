// Package phone normalizes provider-reported phone numbers before comparing
// them against a channel's configured number. Numbering-plan quirks are
// locale-specific, so normalizers are pluggable per country prefix.
package phone

import "strings"

// Normalizer rewrites a provider-reported number into the form used for
// equality checks against the channel's configured number.
type Normalizer interface {
	Normalize(number string) string
}

// NormalizerFunc adapts a function to the Normalizer interface.
type NormalizerFunc func(string) string

func (f NormalizerFunc) Normalize(number string) string { return f(number) }

// registry maps a country calling code prefix (without "+") to its
// normalizer. Unregistered prefixes pass through unchanged.
var registry = map[string]Normalizer{
	"55": NormalizerFunc(normalizeBrazil),
}

// Register installs a normalizer for a country calling code prefix.
func Register(prefix string, n Normalizer) {
	registry[prefix] = n
}

// Clean strips the "+" prefix and any whitespace from a number.
func Clean(number string) string {
	number = strings.TrimSpace(number)
	number = strings.TrimPrefix(number, "+")
	return number
}

// Normalize applies the locale normalizer matching the number's country
// prefix, defaulting to passthrough.
func Normalize(number string) string {
	cleaned := Clean(number)
	for prefix, n := range registry {
		if strings.HasPrefix(cleaned, prefix) {
			return n.Normalize(cleaned)
		}
	}
	return cleaned
}

// Matches reports whether two numbers refer to the same subscriber after
// normalization.
func Matches(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// normalizeBrazil handles the Brazilian mobile-number length quirk: mobile
// numbers gained a leading 9 in the subscriber part, but sessions created
// before the change still report the 12-digit form. Both forms are collapsed
// to the short form for comparison.
//
// 55 + 2-digit area code + 9-digit subscriber (13 digits total) -> drop the
// leading 9 of the subscriber part.
func normalizeBrazil(number string) string {
	if len(number) == 13 && number[4] == '9' {
		return number[:4] + number[5:]
	}
	return number
}
