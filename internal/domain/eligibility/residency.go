package eligibility

import (
	"fmt"
	"strings"

	"github.com/turtacn/NaturaCheck/internal/domain/dates"
	"github.com/turtacn/NaturaCheck/internal/intelligence/opinion"
)

// checkResidency runs the entry-age waterfall and the minimum residence rule.
func (ev *evaluation) checkResidency() (State, string) {
	v := ev.verdict
	t := ev.track
	required := t.RequiredResidenceYears(ev.c.Personal.ResidenceReduction)

	if t.EntryThreshold == 0 && required == 0 {
		v.Checks.Residency = OutcomeNotApplicable
		return StateDocumentCheck, "no residency rules"
	}

	outcome := OutcomePassed
	var notes []string

	if t.EntryThreshold > 0 {
		o, note := ev.entryWaterfall()
		notes = append(notes, note)
		if o == OutcomeFailed {
			v.Checks.Residency = OutcomeFailed
			return StateDecided, note
		}
		if o == OutcomeIndeterminate {
			outcome = OutcomeIndeterminate
		}
	}

	if required > 0 {
		o, note := ev.minimumResidence(required)
		notes = append(notes, note)
		if o == OutcomeFailed {
			v.Checks.Residency = OutcomeFailed
			return StateDecided, strings.Join(notes, "; ")
		}
		if o == OutcomeIndeterminate {
			outcome = OutcomeIndeterminate
		}
	}

	v.Checks.Residency = outcome
	return StateDocumentCheck, strings.Join(notes, "; ")
}

// entryWaterfall settles whether the applicant entered the country before
// the track's entry threshold. Each tier runs only when the previous one is
// inconclusive.
func (ev *evaluation) entryWaterfall() (Outcome, string) {
	v := ev.verdict
	threshold := ev.track.EntryThreshold
	op := v.Opinion

	if op.IndefiniteResidence == opinion.ResidenceDenied {
		ev.find(StateResidencyCheck, SeverityHard, FindingResidenceDenied, "indefinite residence denied")
		return OutcomeFailed, "indefinite residence denied"
	}

	// Tier 1: opinion.
	switch op.AgeThreshold {
	case opinion.ThresholdBefore:
		v.JustificationSource = SourceOpinionPriority
		return OutcomePassed, "opinion: entry before threshold"
	case opinion.ThresholdAfter:
		v.JustificationSource = SourceOpinionPriority
		ev.find(StateResidencyCheck, SeverityHard, FindingEntryAfterThreshold,
			fmt.Sprintf("entry after age %d (opinion)", threshold))
		return OutcomeFailed, "opinion: entry after threshold"
	}

	// Tier 2: entry date on the form.
	var entryErr string
	if raw := strings.TrimSpace(ev.c.Personal.EntryDate); raw != "" {
		entry, err := dates.Parse(raw)
		switch {
		case err != nil:
			entryErr = "entry date: " + err.Error()
			ev.alert("entry date unparseable: " + raw)
		case !ev.hasBirth:
			ev.alert("entry date present but birth date unknown")
		default:
			age := dates.AgeAt(ev.birth, entry)
			if age < 0 {
				ev.alert("entry date precedes birth date")
				break
			}
			v.Ages.AtEntry = &age
			v.JustificationSource = SourceFormDate
			if age < threshold {
				return OutcomePassed, fmt.Sprintf("form: entry at age %d", age)
			}
			ev.find(StateResidencyCheck, SeverityHard, FindingEntryAfterThreshold,
				fmt.Sprintf("entry after age %d (entered at %d)", threshold, age))
			return OutcomeFailed, fmt.Sprintf("form: entry at age %d", age)
		}
	}

	// Tier 3: current age, weak evidence.
	v.JustificationSource = SourceCurrentAgeFallback
	if ev.age != nil && *ev.age < threshold {
		v.WeakEvidence = true
		return OutcomePassed, fmt.Sprintf("current age %d below threshold", *ev.age)
	}
	ev.find(StateResidencyCheck, SeveritySoft, FindingEntryUnproven,
		withCauses(fmt.Sprintf("entry before age %d not proven", threshold), entryErr, ev.birthErr, ev.refErr))
	return OutcomeIndeterminate, "entry age unproven"
}

// minimumResidence compares the proven residence time with required years.
// Sources in order: opinion years, opinion start date, form start date.
func (ev *evaluation) minimumResidence(required int) (Outcome, string) {
	v := ev.verdict
	op := v.Opinion

	var (
		years    *int
		sinceErr string
	)
	switch {
	case op.ResidenceYears != nil:
		y := *op.ResidenceYears
		years = &y
	case op.ResidenceSince != nil && !ev.ref.IsZero():
		y := dates.DurationYears(*op.ResidenceSince, ev.ref)
		years = &y
	default:
		if raw := strings.TrimSpace(ev.c.Personal.ResidenceSince); raw != "" {
			since, err := dates.Parse(raw)
			switch {
			case err != nil:
				sinceErr = "residence start date: " + err.Error()
				ev.alert("residence start date unparseable: " + raw)
			case !ev.ref.IsZero():
				y := dates.DurationYears(since, ev.ref)
				years = &y
			}
		}
	}

	if years == nil {
		ev.find(StateResidencyCheck, SeveritySoft, FindingResidenceUnknown,
			withCauses("residence time indeterminate", sinceErr, ev.refErr))
		return OutcomeIndeterminate, "residence time unknown"
	}
	v.Ages.ResidenceYears = years
	if *years < required {
		ev.find(StateResidencyCheck, SeverityHard, FindingResidenceShort,
			fmt.Sprintf("residence of %d years below minimum of %d", *years, required))
		return OutcomeFailed, "residence below minimum"
	}
	return OutcomePassed, fmt.Sprintf("residence of %d years", *years)
}
