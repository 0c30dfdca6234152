package domain

import (
	"math"
	"strings"
	"time"
)

const (
	// DefaultBaseWeight applies to empty or unrecognized incident types.
	DefaultBaseWeight = 0.40
	// DecayDays is the e-folding time of the age decay.
	DecayDays = 180.0
)

type typeWeight struct {
	label  string
	weight float64
}

// Ordered: the first label contained in (or containing) the incident type wins.
var baseWeights = []typeWeight{
	{"Homicidio", 1.00},
	{"Violación sexual", 0.95},
	{"Robo agravado", 0.90},
	{"Lesiones graves", 0.75},
	{"Amenazas", 0.70},
	{"Extorsión", 0.70},
	{"Secuestro", 0.70},
	{"Lesiones leves", 0.60},
	{"Acoso sexual", 0.60},
	{"Hurto menor", 0.40},
	{"Estafa", 0.40},
	{"Daño a la propiedad", 0.40},
	{"Pérdida de documento", 0.30},
	{"Daño ambiental", 0.30},
	{"Persona desaparecida", 0.30},
	{"Emergencia médica", 0.30},
}

type outcomeAdjustment struct {
	markers []string
	delta   float64
}

// At most one adjustment applies: the first whose marker occurs in the outcome.
var outcomeAdjustments = []outcomeAdjustment{
	{[]string{"consum"}, +0.10},
	{[]string{"frustr"}, -0.10},
	{[]string{"intent", "attempt"}, -0.05},
	{[]string{"disuas", "disuad", "deterr"}, -0.05},
}

// BaseWeight returns the severity of an incident type before adjustments.
func BaseWeight(incidentType string) float64 {
	t := strings.TrimSpace(incidentType)
	if t == "" {
		return DefaultBaseWeight
	}
	for _, tw := range baseWeights {
		if tw.label == t {
			return tw.weight
		}
	}
	low := strings.ToLower(t)
	for _, tw := range baseWeights {
		label := strings.ToLower(tw.label)
		if strings.Contains(low, label) || strings.Contains(label, low) {
			return tw.weight
		}
	}
	return DefaultBaseWeight
}

// OutcomeDelta returns the weight adjustment for a free-text incident outcome.
func OutcomeDelta(outcome string) float64 {
	low := strings.ToLower(outcome)
	if low == "" {
		return 0
	}
	for _, adj := range outcomeAdjustments {
		for _, m := range adj.markers {
			if strings.Contains(low, m) {
				return adj.delta
			}
		}
	}
	return 0
}

// AgeFactor is exp(-days/DecayDays) for the whole days elapsed since
// occurredAt. Future timestamps count as zero days; nil means no decay.
func AgeFactor(occurredAt *time.Time, now time.Time) float64 {
	if occurredAt == nil {
		return 1
	}
	days := math.Floor(now.Sub(*occurredAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / DecayDays)
}

// HeatWeight scores an incident in [0, 1], rounded to two decimals, at the
// package clock's current time.
func HeatWeight(incidentType, outcome string, occurredAt *time.Time) float64 {
	return HeatWeightAt(incidentType, outcome, occurredAt, clock.Now())
}

// HeatWeightAt scores an incident as of now.
func HeatWeightAt(incidentType, outcome string, occurredAt *time.Time, now time.Time) float64 {
	w := (BaseWeight(incidentType) + OutcomeDelta(outcome)) * AgeFactor(occurredAt, now)
	w = math.Max(0, math.Min(1, w))
	return math.Round(w*100) / 100
}
