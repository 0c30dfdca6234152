package domain

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

func testLocality() Locality {
	return Locality{
		District: "José Luis Bustamante y Rivero",
		Province: "Arequipa",
		Country:  "Peru",
	}
}

var normalizeInputs = []struct {
	address  string
	district string
}{
	{"Av. Ejército 1020", ""},
	{"JR. san martin 345\nurb. los pinos", ""},
	{"Mz. B Lt. 5 Psje. Las Flores", ""},
	{"calle  MERCADERES   #214 (frente al parque)", ""},
	{"Cll. Peral 12", ""},
	{"Av Dolores 300", "Cercado"},
	{"Avenida Ejército 1020, José Luis Bustamante y Rivero, Arequipa, Peru", ""},
	{"Calle Cáceres 120", ""},
	{"Av. Cóndor 5", ""},
	{"Jr Céspedes 44", ""},
	{"Mz.B Lt.7 c. Ñaña", ""},
	{"   ", ""},
	{"¡¿***?!", ""},
}

func TestNormalize_Golden(t *testing.T) {
	n := NewNormalizer(testLocality())

	var buf bytes.Buffer
	for _, in := range normalizeInputs {
		fmt.Fprintf(&buf, "%q | %q => %q\n", in.address, in.district, n.Normalize(in.address, in.district))
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "normalize", buf.Bytes())
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer(testLocality())

	for _, in := range normalizeInputs {
		once := n.Normalize(in.address, in.district)
		twice := n.Normalize(once, in.district)
		assert.Equal(t, once, twice, "address %q", in.address)
	}
}

func TestNormalize_EmptyAddress(t *testing.T) {
	n := NewNormalizer(testLocality())

	assert.Empty(t, n.Normalize("", ""))
	assert.Empty(t, n.Normalize("\n\r\n", "Cercado"))
}

func TestNormalize_DistrictOverrideWhitespace(t *testing.T) {
	n := NewNormalizer(testLocality())

	got := n.Normalize("Jr Moquegua 5", "  Yanahuara \n")
	assert.Equal(t, "Jiron Moquegua 5, Yanahuara, Arequipa, Peru", got)
}

func TestNormalize_NoLocality(t *testing.T) {
	n := NewNormalizer(Locality{})

	assert.Equal(t, "Avenida Lima 10", n.Normalize("av. LIMA 10", ""))
}

func TestNormalize_AbbreviationInsideWordUntouched(t *testing.T) {
	n := NewNormalizer(Locality{})

	// "Avda" is expanded, but "Avenida", "Calle" and "Lotes" are not.
	assert.Equal(t, "Avenida Calle Lotes", n.Normalize("Avda. calle lotes", ""))
}

func TestNormalize_AccentedWordsKeepLeadingLetter(t *testing.T) {
	n := NewNormalizer(Locality{})

	tests := map[string]string{
		"Calle Cáceres 120": "Calle Cáceres 120",
		"Av. Cóndor 5":      "Avenida Cóndor 5",
		"Jr Céspedes 44":    "Jiron Céspedes 44",
		"urb. Ítalo Ávila":  "Urbanizacion Ítalo Ávila",
		"c. Ñaña":           "Calle Ñaña",
		"pje Lúcumo c Ló":   "Pasaje Lúcumo Calle Ló",
	}
	for in, want := range tests {
		assert.Equal(t, want, n.Normalize(in, ""), "address %q", in)
	}
}

func TestNormalize_AdjacentAbbreviations(t *testing.T) {
	n := NewNormalizer(Locality{})

	assert.Equal(t, "Calle Calle 3", n.Normalize("c c 3", ""))
	assert.Equal(t, "Manzana B Lote 7", n.Normalize("Mz.B Lt.7", ""))
}
