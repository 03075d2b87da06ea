package evaluation

import (
	"time"

	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
)

// EvaluateRequest is one case to decide.
type EvaluateRequest struct {
	Case eligibility.Case `json:"case"`

	// TextRefs maps document names to stored text references
	// ("s3://bucket/key" or a bare key). Inline Case.Documents win on
	// conflicting names.
	TextRefs map[string]string `json:"text_refs,omitempty"`

	// Force skips the verdict cache.
	Force bool `json:"force,omitempty"`

	RequestedBy string `json:"requested_by,omitempty"`
}

// Result is the outcome of Evaluate.
type Result struct {
	EvaluationID string                   `json:"evaluation_id"`
	Verdict      *eligibility.CaseVerdict `json:"verdict"`
	Fingerprint  string                   `json:"fingerprint"`
	Cached       bool                     `json:"cached"`
	Revision     int                      `json:"revision,omitempty"`
	EvaluatedAt  time.Time                `json:"evaluated_at"`
}

// BatchItem is the per-case outcome of EvaluateBatch. Exactly one of Result
// and Error is set.
type BatchItem struct {
	CaseID string  `json:"case_id"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
	Code   string  `json:"code,omitempty"`
}

// VerdictDecidedEvent is the payload published on every fresh decision.
type VerdictDecidedEvent struct {
	EvaluationID        string   `json:"evaluation_id"`
	CaseID              string   `json:"case_id"`
	Track               string   `json:"track"`
	Eligibility         string   `json:"eligibility"`
	Completeness        float64  `json:"completeness"`
	JustificationSource string   `json:"justification_source"`
	MissingDocuments    []string `json:"missing_documents"`
	RejectionReasons    []string `json:"rejection_reasons"`
	WeakEvidence        bool     `json:"weak_evidence"`
	Fingerprint         string   `json:"fingerprint"`
	Revision            int      `json:"revision,omitempty"`
	CatalogVersion      string   `json:"catalog_version"`
	RequestedBy         string   `json:"requested_by,omitempty"`
}
