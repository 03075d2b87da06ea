package docvalidator

import (
	"fmt"
	"regexp"
	"time"

	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
	"github.com/turtacn/NaturaCheck/internal/domain/dates"
	"github.com/turtacn/NaturaCheck/internal/intelligence/termmatch"
)

// issueMarker precedes the issuance date on certificates.
var issueMarker = regexp.MustCompile(`\b(?:emitid[ao]|expedid[ao]|gerad[ao])\s+em\b|\bdata\s+(?:de|da)\s+(?:emissao|expedicao)\b`)

// birthMarker precedes the holder's birth date, which is never the issue date.
var birthMarker = regexp.MustCompile(`\bnascid[ao]\s+(?:em|aos?)\b|\bdata\s+de\s+nascimento\b|\bnasc\.`)

// signature matches the "City/UF, " prefix of a place-and-date line.
var signature = regexp.MustCompile(`[a-z]{2,}(?:/[a-z]{2})?,\s?$`)

// markerReach is how far after a marker the date may start.
const markerReach = 30

// IssueDate extracts the issuance date of a certificate. It prefers a date
// following an issuance marker. Otherwise it takes the latest long-form or
// place-and-date signature date. Birth dates are never candidates.
func IssueDate(text string) (time.Time, bool) {
	s := catalog.Normalize(text)
	found := dates.FindAllNormalized(s)
	if len(found) == 0 {
		return time.Time{}, false
	}
	for _, m := range issueMarker.FindAllStringIndex(s, -1) {
		for _, f := range found {
			if f.Start >= m[1] && f.Start-m[1] <= markerReach {
				return f.Date, true
			}
		}
	}

	var (
		best time.Time
		ok   bool
	)
	for _, f := range found {
		if followsMarker(s, f.Start, birthMarker) {
			continue
		}
		if !longForm.MatchString(f.Text) && !signature.MatchString(s[:f.Start]) {
			continue
		}
		if !ok || f.Date.After(best) {
			best, ok = f.Date, true
		}
	}
	return best, ok
}

func followsMarker(s string, start int, marker *regexp.Regexp) bool {
	from := start - markerReach
	if from < 0 {
		from = 0
	}
	for _, m := range marker.FindAllStringIndex(s[from:start], -1) {
		if from+m[1] <= start {
			return true
		}
	}
	return false
}

var longForm = regexp.MustCompile(`[a-z]`)

func applyRecency(res termmatch.ValidationResult, maxAgeDays int, text string, ref time.Time) termmatch.ValidationResult {
	issued, ok := IssueDate(text)
	if !ok {
		return res
	}
	res.IssueDate = &issued
	if ref.IsZero() {
		return res
	}
	if age := dates.DaysBetween(issued, ref); age > maxAgeDays {
		res.Valid = false
		res.Reason = fmt.Sprintf("%s: issued %d days before reference date, limit %d", termmatch.ReasonCertificateExpired, age, maxAgeDays)
	}
	return res
}
