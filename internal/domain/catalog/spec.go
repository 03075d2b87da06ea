package catalog

import "strings"

// LocationSource is a place where the document-fetch collaborator may look
// for a document inside the case record.
type LocationSource string

const (
	LocationSpecificField   LocationSource = "specific_field"
	LocationAttachmentTable LocationSource = "attachment_table"
	LocationBroadSearch     LocationSource = "broad_search"
)

// DefaultLocation is the search order used when a type declares none.
func DefaultLocation() []LocationSource {
	return []LocationSource{LocationSpecificField, LocationAttachmentTable, LocationBroadSearch}
}

func (l LocationSource) valid() bool {
	switch l {
	case LocationSpecificField, LocationAttachmentTable, LocationBroadSearch:
		return true
	}
	return false
}

// DefaultMinLength is the minimum extracted-text length of length-only types.
const DefaultMinLength = 100

// Requirement is an OR-group of terms: any one alternative satisfies it.
type Requirement struct {
	Terms  []string `yaml:"terms" json:"terms"`
	Weight int      `yaml:"weight" json:"weight"`
}

// Label names the requirement in results.
func (r Requirement) Label() string {
	if len(r.Terms) == 0 {
		return ""
	}
	return r.Terms[0]
}

// Negations are phrases that cancel a required term when they occur just
// before or just after it.
type Negations struct {
	Before []string `yaml:"before" json:"before"`
	After  []string `yaml:"after" json:"after"`
}

// DefaultNegations applies to every profile that does not declare its own.
func DefaultNegations() Negations {
	return Negations{
		Before: []string{
			"nao consta", "nao constam", "nenhum registro de", "nenhuma", "nenhum",
			"nao possui", "nao ha", "sem registro de",
		},
		After: []string{
			"inexistente", "nao localizado", "nao localizada", "nao encontrado", "nao encontrada",
		},
	}
}

// MustBeAbsent lists terms whose affirmed presence invalidates a document,
// such as a conviction on a criminal-record certificate. An occurrence is
// cleared when one of ClearedBy precedes it within the negation window.
type MustBeAbsent struct {
	Terms     []string `yaml:"terms" json:"terms"`
	ClearedBy []string `yaml:"cleared_by" json:"cleared_by"`
}

// TermProfile is one way of recognizing a document type.
type TermProfile struct {
	Name          string        `yaml:"name" json:"name"`
	Required      []Requirement `yaml:"required" json:"required"`
	Negations     *Negations    `yaml:"negations" json:"negations,omitempty"`
	MustBeAbsent  MustBeAbsent  `yaml:"must_be_absent" json:"must_be_absent"`
	MinConfidence int           `yaml:"min_confidence" json:"min_confidence"`
	LengthOnly    bool          `yaml:"length_only" json:"length_only"`
	MinLength     int           `yaml:"min_length" json:"min_length"`
}

// EffectiveNegations returns the declared negations, or the defaults when the
// profile declares none. An explicitly empty block disables negation.
func (p TermProfile) EffectiveNegations() Negations {
	if p.Negations == nil {
		return DefaultNegations()
	}
	return *p.Negations
}

// TotalWeight is the sum of requirement weights.
func (p TermProfile) TotalWeight() int {
	total := 0
	for _, r := range p.Required {
		total += r.Weight
	}
	return total
}

// DocumentTypeSpec describes one required document kind. Specs are owned by
// a Catalog and must be treated as read-only.
type DocumentTypeSpec struct {
	Name          string           `yaml:"name" json:"name"`
	Aliases       []string         `yaml:"aliases" json:"aliases"`
	Required      []Requirement    `yaml:"required" json:"required"`
	Negations     *Negations       `yaml:"negations" json:"negations,omitempty"`
	MustBeAbsent  MustBeAbsent     `yaml:"must_be_absent" json:"must_be_absent"`
	MinConfidence int              `yaml:"min_confidence" json:"min_confidence"`
	LengthOnly    bool             `yaml:"length_only" json:"length_only"`
	MinLength     int              `yaml:"min_length" json:"min_length"`
	Variants      []TermProfile    `yaml:"variants" json:"variants,omitempty"`
	MaxAgeDays    int              `yaml:"max_age_days" json:"max_age_days,omitempty"`
	Location      []LocationSource `yaml:"location" json:"location,omitempty"`

	profiles []TermProfile
	keys     []string
}

// Primary is the profile described by the top-level fields.
func (s *DocumentTypeSpec) Primary() TermProfile {
	return TermProfile{
		Name:          "primary",
		Required:      s.Required,
		Negations:     s.Negations,
		MustBeAbsent:  s.MustBeAbsent,
		MinConfidence: s.MinConfidence,
		LengthOnly:    s.LengthOnly,
		MinLength:     s.MinLength,
	}
}

// Profiles returns the primary profile followed by the variants, with unset
// variant fields inherited from the primary.
func (s *DocumentTypeSpec) Profiles() []TermProfile {
	if s.profiles != nil {
		return s.profiles
	}
	return s.buildProfiles()
}

func (s *DocumentTypeSpec) buildProfiles() []TermProfile {
	primary := s.Primary()
	out := make([]TermProfile, 0, 1+len(s.Variants))
	out = append(out, primary)
	for _, v := range s.Variants {
		if v.Negations == nil {
			v.Negations = primary.Negations
		}
		if len(v.MustBeAbsent.Terms) == 0 {
			v.MustBeAbsent = primary.MustBeAbsent
		}
		if v.MinConfidence == 0 {
			v.MinConfidence = primary.MinConfidence
		}
		if v.MinLength == 0 {
			v.MinLength = primary.MinLength
		}
		out = append(out, v)
	}
	return out
}

// LocationOrder returns the declared search order or the default.
func (s *DocumentTypeSpec) LocationOrder() []LocationSource {
	if len(s.Location) == 0 {
		return DefaultLocation()
	}
	out := make([]LocationSource, len(s.Location))
	copy(out, s.Location)
	return out
}

// Matches reports whether name resolves to this spec.
func (s *DocumentTypeSpec) Matches(name string) bool {
	key := Normalize(name)
	for _, k := range s.keys {
		if k == key {
			return true
		}
	}
	return false
}

// TrackSpec is the rule set of one naturalization track.
type TrackSpec struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`

	// AgeCeiling rejects applicants older than this many years. Zero disables.
	AgeCeiling int `yaml:"age_ceiling" json:"age_ceiling,omitempty"`

	// AgeFloor rejects applicants younger than this many years. Zero disables.
	AgeFloor int `yaml:"age_floor" json:"age_floor,omitempty"`

	// EntryThreshold enables the entry-age waterfall: the applicant must have
	// entered the country before this age. Zero disables.
	EntryThreshold int `yaml:"entry_threshold" json:"entry_threshold,omitempty"`

	MinResidenceYears     int `yaml:"min_residence_years" json:"min_residence_years,omitempty"`
	ReducedResidenceYears int `yaml:"reduced_residence_years" json:"reduced_residence_years,omitempty"`

	// Documents are canonical document type names, in report order.
	Documents []string `yaml:"documents" json:"documents"`
}

// RequiredResidenceYears returns the minimum residence for the track.
func (t *TrackSpec) RequiredResidenceYears(reduced bool) int {
	if reduced && t.ReducedResidenceYears > 0 {
		return t.ReducedResidenceYears
	}
	return t.MinResidenceYears
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := Normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func trimmed(s string) string { return strings.TrimSpace(s) }
