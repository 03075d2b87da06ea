package eligibility

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/turtacn/NaturaCheck/internal/intelligence/termmatch"
)

// resolveDocuments maps the caller's keys to canonical catalog names. Keys
// are visited in sorted order so duplicates resolve deterministically.
func (ev *evaluation) resolveDocuments() map[string]string {
	keys := make([]string, 0, len(ev.c.Documents))
	for k := range ev.c.Documents {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		spec, err := ev.engine.catalog.Lookup(k)
		if err != nil {
			ev.alert("document not in catalog: " + k)
			continue
		}
		text := ev.c.Documents[k]
		if prev, dup := out[spec.Name]; dup {
			ev.alert(fmt.Sprintf("several texts given for %s, key %q", spec.Name, k))
			if strings.TrimSpace(prev) != "" {
				continue
			}
		}
		out[spec.Name] = text
	}
	return out
}

func (ev *evaluation) checkDocuments() (State, string) {
	v := ev.verdict
	texts := ev.resolveDocuments()

	validCount := 0
	for _, name := range ev.track.Documents {
		dv := DocumentVerdict{Name: name}
		if text, ok := texts[name]; ok {
			dv.Attached = true
			dv.Result = ev.engine.validator.ValidateAt(name, text, ev.ref)
		} else {
			dv.Result = termmatch.ValidationResult{DocumentType: name, Reason: termmatch.ReasonNotAttached}
		}

		if dv.Result.Valid {
			validCount++
		} else {
			v.MissingDocuments = append(v.MissingDocuments, name)
			ev.find(StateDocumentCheck, SeveritySoft, FindingDocumentMissing, name+": "+dv.Result.Reason)
		}
		v.Documents = append(v.Documents, dv)
	}

	total := len(ev.track.Documents)
	if total == 0 {
		v.CompletenessPercentage = 100
	} else {
		pct := float64(validCount) / float64(total) * 100
		v.CompletenessPercentage = math.Round(pct*100) / 100
	}

	if validCount == total {
		v.Checks.Documents = OutcomePassed
	} else {
		v.Checks.Documents = OutcomeFailed
	}
	return StateDecided, fmt.Sprintf("%d of %d documents valid", validCount, total)
}
