package termmatch

import "time"

// ValidationResult is the verdict on one extracted text.
type ValidationResult struct {
	DocumentType string `json:"document_type,omitempty"`
	Valid        bool   `json:"valid"`

	// Confidence is the floored share of satisfied requirement weight, 0-100.
	Confidence int `json:"confidence"`

	Matched    []string `json:"matched,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	Negations  []string `json:"negations,omitempty"`
	Violations []string `json:"violations,omitempty"`
	Reason     string   `json:"reason"`

	// Variant names the term profile that produced the result.
	Variant    string     `json:"variant,omitempty"`
	TextLength int        `json:"text_length"`
	IssueDate  *time.Time `json:"issue_date,omitempty"`
}

// Reasons shared with callers that build results without matching.
const (
	ReasonEmptyText           = "empty extracted text"
	ReasonUnknownDocumentType = "unknown document type"
	ReasonNotAttached         = "not attached"
	ReasonCertificateExpired  = "certificate expired"
)
