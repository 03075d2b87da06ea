// Package termmatch scores extracted document text against a catalog term
// profile.
package termmatch

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
)

// NegationWindow is how many characters (runes of the normalized text) around
// a term are searched for a negation or clearing phrase.
const NegationWindow = 40

// Matcher compiles term patterns on first use and caches them. It is safe
// for concurrent use.
type Matcher struct {
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
	window   int
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithWindow overrides the negation window.
func WithWindow(chars int) Option {
	return func(m *Matcher) {
		if chars > 0 {
			m.window = chars
		}
	}
}

// NewMatcher creates a Matcher.
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{patterns: make(map[string]*regexp.Regexp), window: NegationWindow}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Warm compiles every term of the profiles ahead of matching.
func (m *Matcher) Warm(profiles ...catalog.TermProfile) {
	for _, p := range profiles {
		for _, r := range p.Required {
			for _, t := range r.Terms {
				m.pattern(t)
			}
		}
		neg := p.EffectiveNegations()
		for _, t := range append(append(neg.Before, neg.After...), p.MustBeAbsent.Terms...) {
			m.pattern(t)
		}
		for _, t := range p.MustBeAbsent.ClearedBy {
			m.pattern(t)
		}
	}
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (m *Matcher) pattern(term string) *regexp.Regexp {
	term = catalog.Normalize(term)

	m.mu.RLock()
	re, ok := m.patterns[term]
	m.mu.RUnlock()
	if ok {
		return re
	}

	expr := regexp.QuoteMeta(term)
	if first, _ := utf8.DecodeRuneInString(term); isWord(first) {
		expr = `\b` + expr
	}
	if last, _ := utf8.DecodeLastRuneInString(term); isWord(last) {
		expr += `\b`
	}
	re = regexp.MustCompile(expr)

	m.mu.Lock()
	m.patterns[term] = re
	m.mu.Unlock()
	return re
}

type span struct{ start, end int }

func (m *Matcher) find(text, term string) []span {
	if term == "" {
		return nil
	}
	locs := m.pattern(term).FindAllStringIndex(text, -1)
	out := make([]span, len(locs))
	for i, l := range locs {
		out[i] = span{l[0], l[1]}
	}
	return out
}

type phrase struct {
	text string
	span span
}

func (m *Matcher) findPhrases(text string, phrases []string) []phrase {
	var out []phrase
	for _, p := range phrases {
		for _, s := range m.find(text, p) {
			out = append(out, phrase{text: catalog.Normalize(p), span: s})
		}
	}
	return out
}

func hasTerminator(s string) bool {
	return strings.ContainsAny(s, ".;!?")
}

// precededBy returns the first phrase that ends inside the window before occ
// with no sentence terminator in between. A phrase that starts before the
// term and runs into it ("nao possui" in "nao possui antecedentes") counts.
func (m *Matcher) precededBy(text string, occ span, phrases []phrase) (string, bool) {
	for _, p := range phrases {
		if p.span.start >= occ.start || p.span.end > occ.end {
			continue
		}
		if p.span.end >= occ.start {
			return p.text, true
		}
		if m.reaches(text[p.span.end:occ.start]) {
			return p.text, true
		}
	}
	return "", false
}

// followedBy returns the first phrase that starts inside the window after
// occ with no sentence terminator in between.
func (m *Matcher) followedBy(text string, occ span, phrases []phrase) (string, bool) {
	for _, p := range phrases {
		if p.span.start < occ.end {
			continue
		}
		if m.reaches(text[occ.end:p.span.start]) {
			return p.text, true
		}
	}
	return "", false
}

// reaches reports whether gap fits in the window, counted in runes, and holds
// no sentence terminator.
func (m *Matcher) reaches(gap string) bool {
	return utf8.RuneCountInString(gap) <= m.window && !hasTerminator(gap)
}

// Match scores text against profile. Requirements are OR-groups: a group is
// satisfied when any alternative occurs without a negation nearby, negated
// when every occurrence is negated, and missing otherwise.
func (m *Matcher) Match(text string, profile catalog.TermProfile) ValidationResult {
	normalized := catalog.Normalize(text)
	length := utf8.RuneCountInString(normalized)
	res := ValidationResult{Variant: profile.Name, TextLength: length}

	if normalized == "" {
		res.Reason = ReasonEmptyText
		return res
	}
	if profile.LengthOnly {
		return matchLength(res, profile)
	}

	total := profile.TotalWeight()
	if total == 0 {
		res.Reason = "term profile declares no requirements"
		return res
	}

	neg := profile.EffectiveNegations()
	before := m.findPhrases(normalized, neg.Before)
	after := m.findPhrases(normalized, neg.After)

	satisfied := 0
	for _, req := range profile.Required {
		matched, negation, found := m.evaluateRequirement(normalized, req, before, after)
		switch {
		case matched != "":
			satisfied += req.Weight
			res.Matched = append(res.Matched, matched)
		case found:
			res.Negations = append(res.Negations, fmt.Sprintf("%s (%s)", req.Label(), negation))
		default:
			res.Missing = append(res.Missing, req.Label())
		}
	}
	res.Violations = m.violations(normalized, profile.MustBeAbsent)
	res.Confidence = satisfied * 100 / total

	switch {
	case len(res.Violations) > 0:
		res.Reason = "prohibited term affirmed: " + strings.Join(res.Violations, ", ")
	case len(res.Negations) > 0:
		res.Reason = "required term negated: " + strings.Join(res.Negations, ", ")
	case res.Confidence < profile.MinConfidence:
		res.Reason = fmt.Sprintf("confidence %d below minimum %d", res.Confidence, profile.MinConfidence)
	default:
		res.Valid = true
		if res.Confidence == 100 {
			res.Reason = "all requirements satisfied"
		} else {
			res.Reason = fmt.Sprintf("confidence %d meets minimum %d", res.Confidence, profile.MinConfidence)
		}
	}
	return res
}

// evaluateRequirement returns the first alternative with a non-negated
// occurrence. When every occurrence is negated it reports the negation.
func (m *Matcher) evaluateRequirement(text string, req catalog.Requirement, before, after []phrase) (matched, negation string, found bool) {
	for _, term := range req.Terms {
		for _, occ := range m.find(text, term) {
			found = true
			if p, ok := m.precededBy(text, occ, before); ok {
				if negation == "" {
					negation = p
				}
				continue
			}
			if p, ok := m.followedBy(text, occ, after); ok {
				if negation == "" {
					negation = p
				}
				continue
			}
			return term, "", true
		}
	}
	return "", negation, found
}

func (m *Matcher) violations(text string, absent catalog.MustBeAbsent) []string {
	if len(absent.Terms) == 0 {
		return nil
	}
	cleared := m.findPhrases(text, absent.ClearedBy)
	seen := make(map[string]bool)
	var out []string
	for _, term := range absent.Terms {
		for _, occ := range m.find(text, term) {
			if _, ok := m.precededBy(text, occ, cleared); ok {
				continue
			}
			if !seen[term] {
				seen[term] = true
				out = append(out, term)
			}
			break
		}
	}
	sort.Strings(out)
	return out
}

func matchLength(res ValidationResult, profile catalog.TermProfile) ValidationResult {
	min := profile.MinLength
	if min <= 0 {
		min = catalog.DefaultMinLength
	}
	if res.TextLength >= min {
		res.Valid = true
		res.Confidence = 100
		res.Reason = fmt.Sprintf("text length %d meets minimum %d", res.TextLength, min)
		return res
	}
	res.Confidence = res.TextLength * 100 / min
	if res.Confidence > 99 {
		res.Confidence = 99
	}
	res.Reason = fmt.Sprintf("text length %d below minimum %d", res.TextLength, min)
	return res
}
