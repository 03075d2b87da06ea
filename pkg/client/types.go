package client

import "time"

// PersonalData holds applicant facts as typed on the case form.
type PersonalData struct {
	BirthDate          string `json:"birth_date"`
	ProcessDate        string `json:"process_date"`
	EntryDate          string `json:"entry_date,omitempty"`
	ResidenceSince     string `json:"residence_since,omitempty"`
	Nationality        string `json:"nationality,omitempty"`
	ResidenceReduction bool   `json:"residence_reduction,omitempty"`
}

// Case is one naturalization case.
type Case struct {
	ID          string            `json:"id"`
	Track       string            `json:"track"`
	Personal    PersonalData      `json:"personal"`
	OpinionText string            `json:"opinion_text,omitempty"`
	Documents   map[string]string `json:"documents,omitempty"`
}

// EvaluateRequest asks for one evaluation.
type EvaluateRequest struct {
	Case Case `json:"case"`

	// TextRefs maps document names to object keys of stored extracted texts.
	TextRefs map[string]string `json:"text_refs,omitempty"`

	// Force bypasses the verdict cache.
	Force bool `json:"force,omitempty"`
}

// Finding is one ranked justification entry.
type Finding struct {
	Stage    string `json:"stage"`
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// ValidationResult is the verdict on one extracted text.
type ValidationResult struct {
	DocumentType string     `json:"document_type,omitempty"`
	Valid        bool       `json:"valid"`
	Confidence   int        `json:"confidence"`
	Matched      []string   `json:"matched,omitempty"`
	Missing      []string   `json:"missing,omitempty"`
	Negations    []string   `json:"negations,omitempty"`
	Violations   []string   `json:"violations,omitempty"`
	Reason       string     `json:"reason"`
	Variant      string     `json:"variant,omitempty"`
	TextLength   int        `json:"text_length"`
	IssueDate    *time.Time `json:"issue_date,omitempty"`
}

// DocumentVerdict is the outcome for one required document.
type DocumentVerdict struct {
	Name     string           `json:"name"`
	Attached bool             `json:"attached"`
	Result   ValidationResult `json:"result"`
}

// OpinionResult is what an analyst opinion proposes.
type OpinionResult struct {
	ProposedDecision    string     `json:"proposed_decision"`
	DecisionStrength    string     `json:"decision_strength"`
	AgeThreshold        string     `json:"age_threshold"`
	ThresholdEvidence   []string   `json:"threshold_evidence,omitempty"`
	Alerts              []string   `json:"alerts,omitempty"`
	IndefiniteResidence string     `json:"indefinite_residence"`
	FalsityIndicated    bool       `json:"falsity_indicated"`
	ResidenceYears      *int       `json:"residence_years,omitempty"`
	ResidenceSince      *time.Time `json:"residence_since,omitempty"`
}

// Verdict is the decision on one case.
type Verdict struct {
	CaseID                 string            `json:"case_id"`
	Track                  string            `json:"track"`
	Eligibility            string            `json:"eligibility"`
	CompletenessPercentage float64           `json:"completeness_percentage"`
	MissingDocuments       []string          `json:"missing_documents"`
	RejectionReasons       []string          `json:"rejection_reasons"`
	JustificationSource    string            `json:"justification_source"`
	WeakEvidence           bool              `json:"weak_evidence"`
	Documents              []DocumentVerdict `json:"documents"`
	Findings               []Finding         `json:"findings"`
	Alerts                 []string          `json:"alerts"`
	Opinion                OpinionResult     `json:"opinion"`
	ReferenceDate          *time.Time        `json:"reference_date,omitempty"`
	ReferenceDateSource    string            `json:"reference_date_source"`
	CatalogVersion         string            `json:"catalog_version"`
}

// EvaluationResult is the response of an evaluation.
type EvaluationResult struct {
	EvaluationID string    `json:"evaluation_id"`
	Verdict      *Verdict  `json:"verdict"`
	Fingerprint  string    `json:"fingerprint"`
	Cached       bool      `json:"cached"`
	Revision     int       `json:"revision,omitempty"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// BatchItem is the outcome of one case in a batch.
type BatchItem struct {
	CaseID string            `json:"case_id"`
	Result *EvaluationResult `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
	Code   string            `json:"code,omitempty"`
}

// BatchResult is the response of a batch evaluation.
type BatchResult struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// VerdictRecord is one stored verdict revision.
type VerdictRecord struct {
	Verdict     *Verdict  `json:"verdict"`
	Fingerprint string    `json:"fingerprint"`
	Revision    int       `json:"revision"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// VerdictQuery filters a verdict search. Zero fields do not filter.
type VerdictQuery struct {
	Text            string
	Track           string
	Eligibility     string
	MissingDocument string
	FindingCode     string
	From            int
	Size            int
}

// VerdictHit is one indexed verdict.
type VerdictHit struct {
	CaseID              string    `json:"case_id"`
	Track               string    `json:"track"`
	Eligibility         string    `json:"eligibility"`
	Completeness        float64   `json:"completeness"`
	JustificationSource string    `json:"justification_source"`
	MissingDocuments    []string  `json:"missing_documents"`
	RejectionReasons    []string  `json:"rejection_reasons"`
	FindingCodes        []string  `json:"finding_codes"`
	WeakEvidence        bool      `json:"weak_evidence"`
	CatalogVersion      string    `json:"catalog_version"`
	EvaluatedAt         time.Time `json:"evaluated_at"`
}

// VerdictSearchResult holds the hits and a per-eligibility breakdown.
type VerdictSearchResult struct {
	Total         int64            `json:"total"`
	Hits          []VerdictHit     `json:"hits"`
	ByEligibility map[string]int64 `json:"by_eligibility"`
}

// Track describes one naturalization track.
type Track struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	AgeCeiling            int      `json:"age_ceiling,omitempty"`
	AgeFloor              int      `json:"age_floor,omitempty"`
	EntryThreshold        int      `json:"entry_threshold,omitempty"`
	MinResidenceYears     int      `json:"min_residence_years,omitempty"`
	ReducedResidenceYears int      `json:"reduced_residence_years,omitempty"`
	Documents             []string `json:"documents"`
}

// DocumentTypeInfo summarizes one catalog document type.
type DocumentTypeInfo struct {
	Name       string   `json:"name"`
	Aliases    []string `json:"aliases,omitempty"`
	LengthOnly bool     `json:"length_only,omitempty"`
	MaxAgeDays int      `json:"max_age_days,omitempty"`
	Variants   int      `json:"variants,omitempty"`
}

// CatalogSummary is the loaded catalog.
type CatalogSummary struct {
	Version       string             `json:"version"`
	Tracks        []Track            `json:"tracks"`
	DocumentTypes []DocumentTypeInfo `json:"document_types"`
}

// Requirement is one weighted term group of a document type.
type Requirement struct {
	Terms  []string `json:"terms"`
	Weight int      `json:"weight"`
}

// DocumentType is the full catalog entry of one document type.
type DocumentType struct {
	Name          string        `json:"name"`
	Aliases       []string      `json:"aliases"`
	Required      []Requirement `json:"required"`
	MinConfidence int           `json:"min_confidence"`
	LengthOnly    bool          `json:"length_only"`
	MinLength     int           `json:"min_length"`
	MaxAgeDays    int           `json:"max_age_days,omitempty"`
	Location      []string      `json:"location,omitempty"`
}

// Location is the search order for a document inside a case file.
type Location struct {
	DocumentType string   `json:"document_type"`
	Known        bool     `json:"known"`
	Location     []string `json:"location"`
}

// ReloadResult reports a catalog swap.
type ReloadResult struct {
	PreviousVersion string `json:"previous_version"`
	Version         string `json:"version"`
}
