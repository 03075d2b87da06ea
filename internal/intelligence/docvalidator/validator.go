// Package docvalidator resolves a named document type in the catalog and
// validates extracted text against every term profile the type declares.
package docvalidator

import (
	"time"

	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/internal/intelligence/termmatch"
)

// Validator is safe for concurrent use.
type Validator struct {
	catalog *catalog.Catalog
	matcher *termmatch.Matcher
	logger  logging.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithMatcher shares a matcher (and its compiled patterns).
func WithMatcher(m *termmatch.Matcher) Option {
	return func(v *Validator) {
		if m != nil {
			v.matcher = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(v *Validator) { v.logger = logging.OrNop(l) }
}

// New creates a Validator over cat and precompiles its term patterns.
func New(cat *catalog.Catalog, opts ...Option) *Validator {
	v := &Validator{catalog: cat, logger: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(v)
	}
	if v.matcher == nil {
		v.matcher = termmatch.NewMatcher()
	}
	for _, spec := range cat.Types() {
		v.matcher.Warm(spec.Profiles()...)
	}
	return v
}

// Catalog returns the catalog the validator reads.
func (v *Validator) Catalog() *catalog.Catalog {
	return v.catalog
}

// Validate checks text against the named document type. An unknown type is
// reported in the result, never as an error.
func (v *Validator) Validate(name, text string) termmatch.ValidationResult {
	return v.ValidateAt(name, text, time.Time{})
}

// ValidateAt is Validate with a reference date for issuance recency. A zero
// ref skips the recency rule.
func (v *Validator) ValidateAt(name, text string, ref time.Time) termmatch.ValidationResult {
	spec, err := v.catalog.Lookup(name)
	if err != nil {
		v.logger.Debug("document type not in catalog", logging.DocumentType(name))
		return termmatch.ValidationResult{DocumentType: name, Reason: termmatch.ReasonUnknownDocumentType}
	}

	res := v.best(spec, text)
	res.DocumentType = spec.Name

	if spec.MaxAgeDays > 0 && res.Valid {
		res = applyRecency(res, spec.MaxAgeDays, text, ref)
	}

	v.logger.Debug("document validated",
		logging.DocumentType(spec.Name),
		logging.Bool("valid", res.Valid),
		logging.Int("confidence", res.Confidence),
		logging.String("variant", res.Variant),
	)
	return res
}

// best runs every profile and keeps the highest confidence, preferring a
// valid result on ties and then the earliest profile.
func (v *Validator) best(spec *catalog.DocumentTypeSpec, text string) termmatch.ValidationResult {
	var best termmatch.ValidationResult
	for i, p := range spec.Profiles() {
		res := v.matcher.Match(text, p)
		if i == 0 || better(res, best) {
			best = res
		}
	}
	return best
}

func better(a, b termmatch.ValidationResult) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Valid && !b.Valid
}

// ResolveLocationStrategy returns the order in which the fetch collaborator
// should search the case record. Unknown types get the default order.
func (v *Validator) ResolveLocationStrategy(name string) []catalog.LocationSource {
	spec, err := v.catalog.Lookup(name)
	if err != nil {
		return catalog.DefaultLocation()
	}
	return spec.LocationOrder()
}
