package eligibility

import (
	"time"

	"github.com/turtacn/NaturaCheck/internal/intelligence/opinion"
	"github.com/turtacn/NaturaCheck/internal/intelligence/termmatch"
)

// PersonalData holds applicant facts as typed on the case form. Dates are
// raw text and are parsed by the engine.
type PersonalData struct {
	BirthDate          string `json:"birth_date"`
	ProcessDate        string `json:"process_date"`
	EntryDate          string `json:"entry_date,omitempty"`
	ResidenceSince     string `json:"residence_since,omitempty"`
	Nationality        string `json:"nationality,omitempty"`
	ResidenceReduction bool   `json:"residence_reduction,omitempty"`
}

// Case is the input of one evaluation.
type Case struct {
	ID          string       `json:"id"`
	Track       string       `json:"track"`
	Personal    PersonalData `json:"personal"`
	OpinionText string       `json:"opinion_text,omitempty"`

	// Documents maps a document type name or alias to its extracted text.
	Documents map[string]string `json:"documents,omitempty"`
}

// Eligibility is the case-level outcome.
type Eligibility string

const (
	Approve      Eligibility = "approve"
	Reject       Eligibility = "reject"
	ManualReview Eligibility = "manual_review"
)

// JustificationSource names the evidence that settled the decision.
type JustificationSource string

const (
	SourceOpinionPriority      JustificationSource = "opinion_priority"
	SourceFormDate             JustificationSource = "form_date"
	SourceCurrentAgeFallback   JustificationSource = "current_age_fallback"
	SourceDocumentCompleteness JustificationSource = "document_completeness"
)

// State is a step of the evaluation state machine.
type State string

const (
	StateInit           State = "init"
	StateAgeCheck       State = "age_check"
	StateResidencyCheck State = "residency_check"
	StateDocumentCheck  State = "document_check"
	StateDecided        State = "decided"
)

var stateRank = map[State]int{
	StateInit: 0, StateAgeCheck: 1, StateResidencyCheck: 2, StateDocumentCheck: 3, StateDecided: 4,
}

// Outcome is the result of one check.
type Outcome string

const (
	OutcomePassed        Outcome = "passed"
	OutcomeFailed        Outcome = "failed"
	OutcomeIndeterminate Outcome = "indeterminate"
	OutcomeNotApplicable Outcome = "not_applicable"
	OutcomeSkipped       Outcome = "skipped"
)

// Severity ranks findings. Hard findings force rejection.
type Severity string

const (
	SeverityHard Severity = "hard"
	SeveritySoft Severity = "soft"
)

// Finding codes.
const (
	FindingAgeCeiling          = "age_ceiling_exceeded"
	FindingAgeFloor            = "minimum_age_not_reached"
	FindingAgeUnknown          = "age_indeterminate"
	FindingResidenceDenied     = "indefinite_residence_denied"
	FindingEntryAfterThreshold = "entry_after_threshold"
	FindingEntryUnproven       = "entry_before_threshold_unproven"
	FindingResidenceShort      = "residence_below_minimum"
	FindingResidenceUnknown    = "residence_indeterminate"
	FindingDocumentMissing     = "document_missing"
	FindingOpinionReject       = "opinion_proposes_rejection"
	FindingFalsity             = "falsity_indicated"
	FindingWeakEvidence        = "weak_evidence"
)

// Finding is one ranked justification entry.
type Finding struct {
	Stage    State    `json:"stage"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

// Transition records one state change.
type Transition struct {
	From State  `json:"from"`
	To   State  `json:"to"`
	Note string `json:"note,omitempty"`
}

// Ages are the computed ages and durations in years.
type Ages struct {
	Current        *int `json:"current,omitempty"`
	AtEntry        *int `json:"at_entry,omitempty"`
	ResidenceYears *int `json:"residence_years,omitempty"`
}

// DocumentVerdict is the outcome for one required document.
type DocumentVerdict struct {
	Name     string                     `json:"name"`
	Attached bool                       `json:"attached"`
	Result   termmatch.ValidationResult `json:"result"`
}

// Checks summarizes every check outcome.
type Checks struct {
	Age       Outcome `json:"age"`
	Residency Outcome `json:"residency"`
	Documents Outcome `json:"documents"`
}

// Reference date sources.
const (
	ReferenceProcessDate = "process_date"
	ReferenceClock       = "clock"
	ReferenceUnavailable = "unavailable"
)

// CaseVerdict is the engine output.
type CaseVerdict struct {
	CaseID string `json:"case_id"`
	Track  string `json:"track"`

	Eligibility            Eligibility         `json:"eligibility"`
	CompletenessPercentage float64             `json:"completeness_percentage"`
	MissingDocuments       []string            `json:"missing_documents"`
	RejectionReasons       []string            `json:"rejection_reasons"`
	JustificationSource    JustificationSource `json:"justification_source"`
	WeakEvidence           bool                `json:"weak_evidence"`

	Ages      Ages              `json:"ages"`
	Checks    Checks            `json:"checks"`
	Documents []DocumentVerdict `json:"documents"`
	Findings  []Finding         `json:"findings"`
	Alerts    []string          `json:"alerts"`
	Trace     []Transition      `json:"trace"`
	Opinion   opinion.Result    `json:"opinion"`

	ReferenceDate       *time.Time `json:"reference_date,omitempty"`
	ReferenceDateSource string     `json:"reference_date_source"`
	CatalogVersion      string     `json:"catalog_version"`
}

// HasHardFinding reports whether a disqualifying rule fired.
func (v *CaseVerdict) HasHardFinding() bool {
	for _, f := range v.Findings {
		if f.Severity == SeverityHard {
			return true
		}
	}
	return false
}
