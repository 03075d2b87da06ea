package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/NaturaCheck/pkg/errors"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Carteira de Registro Nacional Migratório": "carteira de registro nacional migratorio",
		"  CERTIDÃO   de\tantecedentes\n":          "certidao de antecedentes",
		"Comunicação em Língua Portuguesa":          "comunicacao em lingua portuguesa",
		"":                                          "",
		"ÇÃÕÉÜ":                                     "caoeu",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	s := Normalize("Não consta condenação   criminal")
	assert.Equal(t, s, Normalize(s))
}

func TestDefault_Loads(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "2025.01", c.Version())
	assert.Len(t, c.Types(), 11)
	assert.Equal(t, []string{"definitive", "ordinary", "provisional"}, c.TrackIDs())
}

func TestLookup_AliasResolution(t *testing.T) {
	c := MustDefault()

	for _, name := range []string{
		"Carteira de Registro Nacional Migratório",
		"carteira de registro nacional migratorio",
		"  CRNM ",
		"rnm",
		"Registro   Nacional Migratorio",
	} {
		spec, err := c.Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, "Carteira de Registro Nacional Migratório", spec.Name)
	}

	spec, err := c.Lookup("comprovante de tempo de residencia")
	require.NoError(t, err)
	assert.True(t, spec.LengthOnly)
	assert.Equal(t, 100, spec.MinLength)
}

func TestLookup_Unknown(t *testing.T) {
	c := MustDefault()
	for _, name := range []string{"", "   ", "Certidão de casamento"} {
		spec, err := c.Lookup(name)
		assert.Nil(t, spec)
		assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownDocumentType), name)
	}
}

func TestLookup_Deterministic(t *testing.T) {
	c := MustDefault()
	for _, spec := range c.Types() {
		for _, alias := range append([]string{spec.Name}, spec.Aliases...) {
			got, err := c.Lookup(alias)
			require.NoError(t, err, alias)
			assert.Same(t, spec, got, alias)
			assert.True(t, spec.Matches(alias))
		}
	}
}

func TestTracks(t *testing.T) {
	c := MustDefault()

	prov, err := c.Track("Provisional")
	require.NoError(t, err)
	assert.Equal(t, 17, prov.AgeCeiling)
	assert.Equal(t, 10, prov.EntryThreshold)
	assert.Len(t, prov.Documents, 4)

	ord, err := c.Track("ordinary")
	require.NoError(t, err)
	assert.Equal(t, 18, ord.AgeFloor)
	assert.Equal(t, 4, ord.RequiredResidenceYears(false))
	assert.Equal(t, 1, ord.RequiredResidenceYears(true))
	assert.Len(t, ord.Documents, 5)

	def, err := c.Track("definitive")
	require.NoError(t, err)
	assert.Equal(t, 20, def.AgeCeiling)
	assert.Equal(t, 0, def.RequiredResidenceYears(false), "definitive has no residence minimum")
	assert.Equal(t, 0, def.RequiredResidenceYears(true))

	noReduction := TrackSpec{MinResidenceYears: 4}
	assert.Equal(t, 4, noReduction.RequiredResidenceYears(true), "reduction falls back to the minimum")

	_, err = c.Track("express")
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownTrack))

	for _, tr := range c.Tracks() {
		for _, doc := range tr.Documents {
			spec, err := c.Lookup(doc)
			require.NoError(t, err)
			assert.Equal(t, spec.Name, doc, "track documents are canonical names")
		}
	}
}

func TestProfiles(t *testing.T) {
	c := MustDefault()

	spec, err := c.Lookup("Comunicação em português")
	require.NoError(t, err)
	profiles := spec.Profiles()
	require.Len(t, profiles, 2)
	assert.Equal(t, "primary", profiles[0].Name)
	assert.Equal(t, "celpe_bras", profiles[1].Name)
	assert.Equal(t, 5, profiles[1].TotalWeight())
	assert.Equal(t, "celpe-bras", profiles[1].Required[0].Label())
	assert.Equal(t, DefaultNegations(), profiles[1].EffectiveNegations())

	crim, err := c.Lookup("Antecedentes Brasil")
	require.NoError(t, err)
	assert.Empty(t, crim.Primary().EffectiveNegations().Before, "criminal records opt out of negation")
	assert.Contains(t, crim.MustBeAbsent.Terms, "condenacao")
	assert.Contains(t, crim.MustBeAbsent.ClearedBy, "nao consta")
	assert.Equal(t, 180, crim.MaxAgeDays)
}

func TestLocationOrder(t *testing.T) {
	c := MustDefault()

	cpf, err := c.Lookup("CPF")
	require.NoError(t, err)
	assert.Equal(t, DefaultLocation(), cpf.LocationOrder())

	travel, err := c.Lookup("Passaporte")
	require.NoError(t, err)
	assert.Equal(t, []LocationSource{LocationAttachmentTable, LocationBroadSearch}, travel.LocationOrder())
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"syntax":          "version: [",
		"no version":      "documents: [{name: A, length_only: true}]",
		"no documents":    "version: x",
		"nameless":        "version: x\ndocuments: [{length_only: true}]",
		"no requirements": "version: x\ndocuments: [{name: A}]",
		"empty group":     "version: x\ndocuments: [{name: A, required: [{terms: []}]}]",
		"bad confidence":  "version: x\ndocuments: [{name: A, min_confidence: 101, length_only: true}]",
		"bad location":    "version: x\ndocuments: [{name: A, length_only: true, location: [inbox]}]",
		"duplicate alias": "version: x\ndocuments: [{name: A, length_only: true}, {name: B, aliases: [a], length_only: true}]",
		"unknown doc":     "version: x\ndocuments: [{name: A, length_only: true}]\ntracks: [{id: t, documents: [Z]}]",
		"empty track":     "version: x\ndocuments: [{name: A, length_only: true}]\ntracks: [{id: t}]",
		"floor > ceiling": "version: x\ndocuments: [{name: A, length_only: true}]\ntracks: [{id: t, age_floor: 30, age_ceiling: 20, documents: [A]}]",
		"duplicate track": "version: x\ndocuments: [{name: A, length_only: true}]\ntracks: [{id: t, documents: [A]}, {id: T, documents: [A]}]",
	}
	for name, doc := range cases {
		_, err := Load([]byte(doc))
		assert.True(t, errors.IsCode(err, errors.ErrCodeCatalogInvalid), name)
	}
}

func TestLoad_DefaultsAndNormalization(t *testing.T) {
	c, err := Load([]byte(`
version: test
documents:
  - name: Certidão X
    required:
      - terms: ["  CERTIDÃO  Negativa "]
      - terms: [justiça]
        weight: 3
    negations:
      before: [NÃO HÁ]
`))
	require.NoError(t, err)
	spec, err := c.Lookup("certidao x")
	require.NoError(t, err)
	assert.Equal(t, []string{"certidao negativa"}, spec.Required[0].Terms)
	assert.Equal(t, 1, spec.Required[0].Weight)
	assert.Equal(t, 4, spec.Primary().TotalWeight())
	assert.Equal(t, []string{"nao ha"}, spec.Primary().EffectiveNegations().Before)
	assert.Equal(t, DefaultMinLength, spec.MinLength)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: file\ndocuments: [{name: A, length_only: true}]\n"), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file", c.Version())

	def, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "2025.01", def.Version())

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeCatalogInvalid))
}
