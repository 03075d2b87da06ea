package evaluation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
)

type fingerprintInput struct {
	Case           eligibility.Case   `json:"case"`
	CatalogVersion string             `json:"catalog_version"`
	Policy         eligibility.Policy `json:"policy"`
	ClockDay       string             `json:"clock_day,omitempty"`
}

// Fingerprint identifies everything a verdict depends on: the case with its
// resolved texts, the catalog version and the policy. A case without a
// process date is decided against the clock, so the current day is mixed in.
func Fingerprint(c eligibility.Case, catalogVersion string, policy eligibility.Policy, now time.Time) string {
	in := fingerprintInput{Case: c, CatalogVersion: catalogVersion, Policy: policy}
	if strings.TrimSpace(c.Personal.ProcessDate) == "" {
		in.ClockDay = now.UTC().Format("2006-01-02")
	}
	// encoding/json sorts map keys, so Documents hash deterministically.
	data, _ := json.Marshal(in)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
