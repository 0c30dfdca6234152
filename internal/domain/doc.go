// Package domain models security incidents and the rules that enrich them
// for heat maps.
//
// # Geocode outcome
//
// Every incident carries an Outcome whose status, precision and coordinates
// move together. Outcome values can only be built through constructors
// (Pending, Failed, Centroid, Resolved, RestoreOutcome), so an ok outcome
// always holds coordinates with rooftop, street or interpolated precision and
// a failed one never holds coordinates.
//
// # Address normalization
//
// Free-text addresses are reduced to one canonical query per location:
// line breaks removed, street abbreviations expanded in a fixed order
// ("Av." to "Avenida", "Jr." to "Jiron", "Mz." to "Manzana" and so on),
// punctuation other than '#' and '-' dropped, whitespace collapsed, words
// title-cased and the district, province and country appended. The canonical
// form is the geocode cache key, so normalizing it again must return it
// unchanged.
//
// # Heat weight
//
// Weight is computed from the incident type, its outcome and its age, never
// from the geocode result:
//
//	weight = clamp((base(type) + delta(outcome)) * exp(-days/180), 0, 1)
//
// rounded to two decimals. Unknown types weigh 0.40. Outcomes containing
// "consum" add 0.10, "frustr" subtract 0.10, "intent" or "disuas" subtract
// 0.05. Missing timestamps do not decay and future ones count as zero days.
package domain
