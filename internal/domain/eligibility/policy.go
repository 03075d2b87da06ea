package eligibility

// ManualReviewPolicy controls when an inconclusive case goes to a human
// instead of being rejected.
type ManualReviewPolicy struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// MinCompleteness is the document completeness, in percent, from which a
	// case without hard findings is routed to review.
	MinCompleteness float64 `mapstructure:"min_completeness" yaml:"min_completeness" json:"min_completeness"`
}

// Policy holds the configurable parts of the final decision.
type Policy struct {
	ManualReview ManualReviewPolicy `mapstructure:"manual_review" yaml:"manual_review" json:"manual_review"`

	// WeakEvidenceRequiresReview downgrades an approval that rests on the
	// current-age fallback to manual review.
	WeakEvidenceRequiresReview bool `mapstructure:"weak_evidence_requires_review" yaml:"weak_evidence_requires_review" json:"weak_evidence_requires_review"`
}

// DefaultMinCompleteness is the manual-review completeness floor.
const DefaultMinCompleteness = 50.0

// DefaultPolicy enables manual review from 50% completeness.
func DefaultPolicy() Policy {
	return Policy{
		ManualReview: ManualReviewPolicy{Enabled: true, MinCompleteness: DefaultMinCompleteness},
	}
}
