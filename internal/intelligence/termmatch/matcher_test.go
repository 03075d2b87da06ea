package termmatch

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
)

func profile(minConf int, groups ...[]string) catalog.TermProfile {
	p := catalog.TermProfile{Name: "primary", MinConfidence: minConf}
	for _, g := range groups {
		p.Required = append(p.Required, catalog.Requirement{Terms: g, Weight: 1})
	}
	return p
}

func TestMatch_AllTermsPresent(t *testing.T) {
	m := NewMatcher()
	p := profile(60, []string{"certidao"}, []string{"rnm", "registro nacional migratorio"}, []string{"validade"})

	res := m.Match("CERTIDÃO do Registro Nacional Migratório, validade indeterminada", p)
	assert.True(t, res.Valid)
	assert.Equal(t, 100, res.Confidence)
	assert.Equal(t, []string{"certidao", "registro nacional migratorio", "validade"}, res.Matched)
	assert.Empty(t, res.Missing)
	assert.Equal(t, "all requirements satisfied", res.Reason)
	assert.Equal(t, "primary", res.Variant)
}

func TestMatch_ConfidenceIsFlooredWeightShare(t *testing.T) {
	m := NewMatcher()

	res := m.Match("apenas certidao", profile(0, []string{"certidao"}, []string{"justica"}, []string{"tribunal"}))
	assert.Equal(t, 33, res.Confidence)
	assert.Equal(t, []string{"justica", "tribunal"}, res.Missing)

	weighted := catalog.TermProfile{
		MinConfidence: 50,
		Required: []catalog.Requirement{
			{Terms: []string{"crnm"}, Weight: 2},
			{Terms: []string{"nome"}, Weight: 1},
			{Terms: []string{"validade"}, Weight: 1},
		},
	}
	res = m.Match("CRNM 123", weighted)
	assert.Equal(t, 50, res.Confidence)
	assert.True(t, res.Valid, "threshold uses >=")

	weighted.MinConfidence = 51
	res = m.Match("CRNM 123", weighted)
	assert.False(t, res.Valid)
	assert.Equal(t, "confidence 50 below minimum 51", res.Reason)
}

func TestMatch_WordBoundaries(t *testing.T) {
	m := NewMatcher()
	p := profile(100, []string{"rne"})

	assert.False(t, m.Match("acesso pela internet", p).Valid)
	assert.True(t, m.Match("portador do RNE V123", p).Valid)
	assert.True(t, m.Match("rne", p).Valid)
}

func TestMatch_ScenarioB_RequiredPresentIsNegated(t *testing.T) {
	m := NewMatcher()
	p := profile(50, []string{"antecedente criminal"})

	res := m.Match("não consta antecedente criminal em território estrangeiro", p)
	assert.False(t, res.Valid)
	assert.Equal(t, 0, res.Confidence)
	assert.Equal(t, []string{"antecedente criminal (nao consta)"}, res.Negations)
	assert.Empty(t, res.Missing)
	assert.Contains(t, res.Reason, "required term negated")
}

func TestMatch_ScenarioB_RequiredAbsentIsClearance(t *testing.T) {
	m := NewMatcher()
	p := profile(100, []string{"antecedente criminal"})
	p.Negations = &catalog.Negations{}
	p.MustBeAbsent = catalog.MustBeAbsent{
		Terms:     []string{"condenacao", "possui antecedentes"},
		ClearedBy: []string{"nao consta", "nao possui"},
	}

	res := m.Match("não consta antecedente criminal em território estrangeiro", p)
	assert.True(t, res.Valid)
	assert.Equal(t, 100, res.Confidence)
	assert.Empty(t, res.Violations)

	res = m.Match("Antecedente criminal: não consta condenação. O requerente não possui antecedentes", p)
	assert.True(t, res.Valid, res.Reason)

	res = m.Match("Antecedente criminal: consta condenação por furto", p)
	assert.False(t, res.Valid)
	assert.Equal(t, 100, res.Confidence)
	assert.Equal(t, []string{"condenacao"}, res.Violations)
	assert.Equal(t, "prohibited term affirmed: condenacao", res.Reason)
}

func TestMatch_NegationWindow(t *testing.T) {
	m := NewMatcher()
	p := profile(100, []string{"antecedente criminal"})

	near := "nao consta " + strings.Repeat("x", 20) + " antecedente criminal"
	assert.False(t, m.Match(near, p).Valid)

	far := "nao consta " + strings.Repeat("x", 45) + " antecedente criminal"
	res := m.Match(far, p)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Negations)

	narrow := NewMatcher(WithWindow(10))
	assert.True(t, narrow.Match(near, p).Valid)
}

func TestMatch_NegationWindowCountsRunes(t *testing.T) {
	m := NewMatcher()
	p := profile(100, []string{"antecedente criminal"})

	// 30 two-byte runes: inside the window by runes, outside it by bytes.
	cyrillic := "nao consta " + strings.Repeat("ж", 30) + " antecedente criminal"
	res := m.Match(cyrillic, p)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Negations)

	far := "nao consta " + strings.Repeat("ж", 45) + " antecedente criminal"
	assert.True(t, m.Match(far, p).Valid)
}

func TestMatch_SentenceTerminatorBreaksNegation(t *testing.T) {
	m := NewMatcher()
	p := profile(100, []string{"antecedente criminal"})

	for _, text := range []string{
		"Nao consta pendencia. Antecedente criminal registrado",
		"Nao consta pendencia; antecedente criminal registrado",
		"antecedente criminal registrado! Nao localizado o processo",
	} {
		assert.True(t, m.Match(text, p).Valid, text)
	}
}

func TestMatch_AfterNegation(t *testing.T) {
	m := NewMatcher()
	p := profile(100, []string{"registro de entrada"})

	res := m.Match("Registro de entrada inexistente no sistema", p)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"registro de entrada (inexistente)"}, res.Negations)

	res = m.Match("registro de entrada nao localizado", p)
	assert.False(t, res.Valid)
}

func TestMatch_AnyNonNegatedOccurrenceSatisfies(t *testing.T) {
	m := NewMatcher()
	p := profile(100, []string{"antecedente criminal"})

	res := m.Match("nao consta antecedente criminal. Antecedente criminal anotado em 2019", p)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Negations)
}

func TestMatch_DeclaredEmptyNegationsDisableDetection(t *testing.T) {
	m := NewMatcher()
	p := profile(100, []string{"antecedente criminal"})
	p.Negations = &catalog.Negations{}

	assert.True(t, m.Match("nao consta antecedente criminal", p).Valid)
}

func TestMatch_EmptyText(t *testing.T) {
	m := NewMatcher()
	for _, text := range []string{"", "  \n\t "} {
		res := m.Match(text, profile(0, []string{"x"}))
		assert.False(t, res.Valid)
		assert.Equal(t, 0, res.Confidence)
		assert.Equal(t, ReasonEmptyText, res.Reason)
	}

	res := m.Match("", catalog.TermProfile{LengthOnly: true, MinLength: 100})
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonEmptyText, res.Reason)
}

func TestMatch_LengthOnly(t *testing.T) {
	m := NewMatcher()
	p := catalog.TermProfile{Name: "primary", LengthOnly: true, MinLength: 100}

	res := m.Match(strings.Repeat("a", 120), p)
	assert.True(t, res.Valid)
	assert.Equal(t, 100, res.Confidence)
	assert.Equal(t, 120, res.TextLength)

	res = m.Match(strings.Repeat("a", 100), p)
	assert.True(t, res.Valid)

	res = m.Match(strings.Repeat("a", 99), p)
	assert.False(t, res.Valid)
	assert.Equal(t, 99, res.Confidence)

	res = m.Match(strings.Repeat("a", 50), p)
	assert.Equal(t, 50, res.Confidence)
	assert.Equal(t, "text length 50 below minimum 100", res.Reason)

	res = m.Match(strings.Repeat("ã", 100), catalog.TermProfile{LengthOnly: true})
	assert.True(t, res.Valid, "length counts characters of the normalized text")
}

func TestMatch_Idempotent(t *testing.T) {
	m := NewMatcher()
	p := profile(50, []string{"certidao"}, []string{"justica"})
	text := "Certidão negativa da Justiça Federal"
	assert.Equal(t, m.Match(text, p), m.Match(text, p))
}

func TestMatch_ConcurrentUse(t *testing.T) {
	m := NewMatcher()
	spec, err := catalog.MustDefault().Lookup("CRNM")
	require.NoError(t, err)
	profiles := spec.Profiles()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := m.Match("Carteira de Registro Nacional Migratório. Nome: Ana. Nacionalidade: haitiana. Validade: indeterminada. Emissão 2020", profiles[0])
			assert.True(t, res.Valid)
		}()
	}
	wg.Wait()
}

func TestWarm(t *testing.T) {
	m := NewMatcher()
	m.Warm(profile(0, []string{"certidao", "atestado"}))
	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Contains(t, m.patterns, "certidao")
	assert.Contains(t, m.patterns, "atestado")
	assert.Contains(t, m.patterns, "nao consta")
}
