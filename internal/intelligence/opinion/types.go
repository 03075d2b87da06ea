package opinion

import "time"

// Decision is the outcome an opinion proposes.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionUnknown Decision = "unknown"
)

// Strength tells how the decision was found.
type Strength string

const (
	StrengthExplicit Strength = "explicit"
	StrengthKeyword  Strength = "keyword"
	StrengthNone     Strength = "none"
)

// Threshold says whether the applicant entered the country before or after
// the age threshold.
type Threshold string

const (
	ThresholdBefore        Threshold = "before_threshold"
	ThresholdAfter         Threshold = "after_threshold"
	ThresholdIndeterminate Threshold = "indeterminate"
)

// Residence is what the opinion states about residence for an indefinite
// term.
type Residence string

const (
	ResidenceAffirmed Residence = "affirmed"
	ResidenceDenied   Residence = "denied"
	ResidenceUnstated Residence = "unstated"
)

// Alerts raised for human review.
const (
	AlertEmptyText               = "opinion text unavailable"
	AlertContradictoryThreshold  = "contradictory age-threshold statements"
	AlertConflictingKeywords     = "conflicting decision keywords"
	AlertConflictingExplicit     = "explicit approval and rejection statements both present"
	AlertArchival                = "opinion proposes archival"
	AlertFalsityPrefix           = "falsity indicated: "
	AlertIndefiniteResidenceDeny = "opinion denies residence for an indefinite term"
)

// Result is the analysis of one opinion text.
type Result struct {
	Text              string    `json:"text"`
	ProposedDecision  Decision  `json:"proposed_decision"`
	DecisionStrength  Strength  `json:"decision_strength"`
	AgeThreshold      Threshold `json:"age_threshold"`
	ThresholdEvidence []string  `json:"threshold_evidence,omitempty"`
	Alerts            []string  `json:"alerts,omitempty"`

	IndefiniteResidence Residence  `json:"indefinite_residence"`
	FalsityIndicated    bool       `json:"falsity_indicated"`
	ResidenceYears      *int       `json:"residence_years,omitempty"`
	ResidenceSince      *time.Time `json:"residence_since,omitempty"`
}

// ExplicitReject reports a rejection proposed in so many words.
func (r Result) ExplicitReject() bool {
	return r.ProposedDecision == DecisionReject && r.DecisionStrength == StrengthExplicit
}
