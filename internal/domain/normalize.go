package domain

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Locality is the fixed suffix appended to every normalized address.
type Locality struct {
	District string
	Province string
	Country  string
}

type abbreviation struct {
	pattern *regexp.Regexp
	expand  string
}

// word matches abbr as a whole word with an optional trailing dot. Go's \b
// is ASCII-only, so letters and digits of any script guard both sides, and
// the guards are captured to be written back.
func word(abbr, expand string) abbreviation {
	return abbreviation{
		pattern: regexp.MustCompile(`(?i)(^|[^\p{L}\p{M}\p{N}])(?:` + abbr + `)\.?([^\p{L}\p{M}\p{N}]|$)`),
		expand:  "${1}" + expand + "${2}",
	}
}

// Applied in order; each expansion is a whole word none of the patterns
// match, so running the table twice changes nothing.
var abbreviations = []abbreviation{
	word(`av(?:da)?`, "Avenida"),
	word(`jr`, "Jiron"),
	word(`c(?:ll)?`, "Calle"),
	word(`mz`, "Manzana"),
	word(`lt`, "Lote"),
	word(`pje|psje|psj`, "Pasaje"),
	word(`urb`, "Urbanizacion"),
	word(`fracc`, "Fraccionamiento"),
}

// apply expands every occurrence of a. Adjacent matches share a guard
// character, so replacement repeats until the string is stable.
func (a abbreviation) apply(s string) string {
	for {
		next := a.pattern.ReplaceAllString(s, a.expand)
		if next == s {
			return s
		}
		s = next
	}
}

var (
	lineBreaks  = regexp.MustCompile(`[\r\n]+`)
	disallowed  = regexp.MustCompile(`[^0-9A-Za-zÁÉÍÓÚÜÑáéíóúüñ#\-\s]`)
	whitespaces = regexp.MustCompile(`\s+`)
)

// Normalizer turns free-form street addresses into canonical geocoder queries.
// It is safe for concurrent use.
type Normalizer struct {
	locality Locality
}

// NewNormalizer creates a normalizer that appends the given locality.
func NewNormalizer(loc Locality) *Normalizer {
	loc.District = collapse(loc.District)
	loc.Province = collapse(loc.Province)
	loc.Country = collapse(loc.Country)
	return &Normalizer{locality: loc}
}

// Normalize canonicalizes address and appends the locality suffix. A
// non-empty district replaces the default one. An address that is empty
// after cleaning yields "".
func (n *Normalizer) Normalize(address, district string) string {
	suffix := n.suffix(district)

	s := norm.NFC.String(strings.TrimSpace(address))
	if suffix != "" {
		s = strings.TrimSpace(strings.TrimSuffix(s, ", "+suffix))
	}
	s = lineBreaks.ReplaceAllString(s, " ")
	for _, a := range abbreviations {
		s = a.apply(s)
	}
	s = disallowed.ReplaceAllString(s, " ")
	s = collapse(s)
	if s == "" {
		return ""
	}

	// Casers keep state between calls and must not be shared.
	s = cases.Title(language.Spanish).String(s)
	if suffix == "" {
		return s
	}
	return s + ", " + suffix
}

func (n *Normalizer) suffix(district string) string {
	d := collapse(norm.NFC.String(district))
	if d == "" {
		d = n.locality.District
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{d, n.locality.Province, n.locality.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaces.ReplaceAllString(s, " "))
}
