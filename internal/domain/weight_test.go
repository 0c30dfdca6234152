package domain

import (
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestHeatWeightAt(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}
	day := 24 * time.Hour

	tests := []struct {
		name       string
		typ        string
		outcome    string
		occurredAt *time.Time
		want       float64
	}{
		{"minor theft a year ago decays", "Hurto menor", "", ago(360 * day), 0.05},
		{"consummated homicide clamps to one", "Homicidio", "Consumado", ago(0), 1.00},
		{"empty type without timestamp", "", "", nil, 0.40},
		{"substring match and frustrated", "robo agravado en via publica", "FRUSTRADO", nil, 0.80},
		{"label contains type", "amenaza", "", nil, 0.70},
		{"attempted threat after 180 days", "Amenazas", "intentado", ago(180 * day), 0.24},
		{"unknown type defaults", "Ruido molesto", "", nil, 0.40},
		{"deterred outcome", "Estafa", "disuadido", nil, 0.35},
		{"future timestamp does not decay", "Estafa", "", ago(-48 * time.Hour), 0.40},
		{"partial day counts as zero days", "Robo agravado", "", ago(23 * time.Hour), 0.90},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := HeatWeightAt(tc.typ, tc.outcome, tc.occurredAt, now)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestHeatWeightAt_BoundedAndRounded(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	types := []string{"", "Homicidio", "Violación sexual", "Hurto menor", "Emergencia médica", "x"}
	outcomes := []string{"", "consumado", "frustrado", "intentado", "disuasivo", "otro"}

	for _, typ := range types {
		for _, out := range outcomes {
			for days := 0; days <= 1000; days += 37 {
				ts := now.AddDate(0, 0, -days)
				w := HeatWeightAt(typ, out, &ts, now)
				assert.GreaterOrEqual(t, w, 0.0)
				assert.LessOrEqual(t, w, 1.0)
				assert.InDelta(t, math.Round(w*100)/100, w, 1e-12)
			}
		}
	}
}

func TestHeatWeight_UsesPackageClock(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	SetClock(fake)
	t.Cleanup(func() { SetClock(nil) })

	occurred := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	assert.InDelta(t, 0.90, HeatWeight("Robo agravado", "", &occurred), 1e-9)

	fake.Advance(180 * 24 * time.Hour)
	assert.InDelta(t, 0.33, HeatWeight("Robo agravado", "", &occurred), 1e-9)
}

func TestOutcomeDelta(t *testing.T) {
	assert.InDelta(t, 0.10, OutcomeDelta("Consumada"), 1e-12)
	assert.InDelta(t, -0.10, OutcomeDelta("frustrado"), 1e-12)
	assert.InDelta(t, -0.05, OutcomeDelta("Attempted"), 1e-12)
	assert.InDelta(t, -0.05, OutcomeDelta("deterred"), 1e-12)
	assert.Zero(t, OutcomeDelta(""))
	assert.Zero(t, OutcomeDelta("en curso"))
}
