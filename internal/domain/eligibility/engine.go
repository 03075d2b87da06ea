// Package eligibility decides a naturalization case. The engine is a state
// machine over age, residency and document checks; each state is a step
// function and every transition is recorded in the verdict trace.
package eligibility

import (
	"sort"
	"strings"
	"time"

	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
	"github.com/turtacn/NaturaCheck/internal/domain/dates"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/internal/intelligence/docvalidator"
	"github.com/turtacn/NaturaCheck/internal/intelligence/opinion"
)

// Engine evaluates cases against one catalog. It holds no per-case state and
// is safe for concurrent use.
type Engine struct {
	catalog   *catalog.Catalog
	validator *docvalidator.Validator
	analyzers map[int]*opinion.Analyzer
	policy    Policy
	clock     func() time.Time
	logger    logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the final-decision policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithClock sets the fallback reference clock, used only when a case has no
// process date.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

// WithValidator shares a document validator. It must read the same catalog.
func WithValidator(v *docvalidator.Validator) Option {
	return func(e *Engine) {
		if v != nil {
			e.validator = v
		}
	}
}

// NewEngine builds an engine over cat.
func NewEngine(cat *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog:   cat,
		policy:    DefaultPolicy(),
		clock:     time.Now,
		logger:    logging.NewNopLogger(),
		analyzers: make(map[int]*opinion.Analyzer),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.validator == nil {
		e.validator = docvalidator.New(cat, docvalidator.WithLogger(e.logger))
	}
	e.analyzers[opinion.DefaultThreshold] = opinion.NewAnalyzer(opinion.DefaultThreshold)
	for _, t := range cat.Tracks() {
		if t.EntryThreshold > 0 {
			if _, ok := e.analyzers[t.EntryThreshold]; !ok {
				e.analyzers[t.EntryThreshold] = opinion.NewAnalyzer(t.EntryThreshold)
			}
		}
	}
	return e
}

// Catalog returns the engine's catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Validator returns the engine's document validator.
func (e *Engine) Validator() *docvalidator.Validator { return e.validator }

// Policy returns the decision policy.
func (e *Engine) Policy() Policy { return e.policy }

// AnalyzerFor returns the opinion analyzer matching a track's entry
// threshold, or the default one.
func (e *Engine) AnalyzerFor(track *catalog.TrackSpec) *opinion.Analyzer {
	if track != nil {
		if a, ok := e.analyzers[track.EntryThreshold]; ok {
			return a
		}
	}
	return e.analyzers[opinion.DefaultThreshold]
}

// Evaluate runs the state machine for c. The only error is an unknown track;
// malformed input degrades to indeterminate checks and alerts.
func (e *Engine) Evaluate(c Case) (*CaseVerdict, error) {
	track, err := e.catalog.Track(c.Track)
	if err != nil {
		return nil, err
	}

	ev := &evaluation{
		engine: e,
		c:      c,
		track:  track,
		verdict: &CaseVerdict{
			CaseID:           c.ID,
			Track:            track.ID,
			MissingDocuments: []string{},
			RejectionReasons: []string{},
			Documents:        []DocumentVerdict{},
			Findings:         []Finding{},
			Alerts:           []string{},
			Checks: Checks{
				Age:       OutcomeSkipped,
				Residency: OutcomeSkipped,
				Documents: OutcomeSkipped,
			},
			CatalogVersion: e.catalog.Version(),
		},
	}

	state := StateInit
	for state != StateDecided {
		state = ev.step(state)
	}
	ev.decide()

	v := ev.verdict
	e.logger.Debug("case decided",
		logging.CaseID(c.ID),
		logging.Track(track.ID),
		logging.Eligibility(string(v.Eligibility)),
		logging.Float64("completeness", v.CompletenessPercentage),
		logging.String("justification_source", string(v.JustificationSource)),
	)
	return v, nil
}

// evaluation is the per-case working state.
type evaluation struct {
	engine  *Engine
	c       Case
	track   *catalog.TrackSpec
	verdict *CaseVerdict

	ref      time.Time
	birth    time.Time
	hasBirth bool
	age      *int

	// Parse failures of form dates, kept for the findings they block.
	refErr   string
	birthErr string
}

type stepFunc func(*evaluation) (State, string)

var steps = map[State]stepFunc{
	StateInit:           (*evaluation).initialize,
	StateAgeCheck:       (*evaluation).checkAge,
	StateResidencyCheck: (*evaluation).checkResidency,
	StateDocumentCheck:  (*evaluation).checkDocuments,
}

func (ev *evaluation) step(from State) State {
	to, note := steps[from](ev)
	if stateRank[to] <= stateRank[from] {
		// Steps only move forward.
		to = StateDecided
	}
	ev.verdict.Trace = append(ev.verdict.Trace, Transition{From: from, To: to, Note: note})
	return to
}

// withCauses appends the non-empty causes to msg.
func withCauses(msg string, causes ...string) string {
	var set []string
	for _, c := range causes {
		if c != "" {
			set = append(set, c)
		}
	}
	if len(set) == 0 {
		return msg
	}
	return msg + " (" + strings.Join(set, "; ") + ")"
}

func (ev *evaluation) alert(msg string) {
	ev.verdict.Alerts = append(ev.verdict.Alerts, msg)
}

func (ev *evaluation) find(stage State, sev Severity, code, msg string) {
	ev.verdict.Findings = append(ev.verdict.Findings, Finding{Stage: stage, Severity: sev, Code: code, Message: msg})
}

// initialize resolves the reference date and analyzes the opinion.
func (ev *evaluation) initialize() (State, string) {
	v := ev.verdict
	p := ev.c.Personal

	switch raw := strings.TrimSpace(p.ProcessDate); {
	case raw == "":
		now := ev.engine.clock()
		ev.ref = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		v.ReferenceDateSource = ReferenceClock
		ev.alert("process date unavailable, current date used as reference")
	default:
		t, err := dates.Parse(raw)
		if err != nil {
			v.ReferenceDateSource = ReferenceUnavailable
			ev.refErr = "process date: " + err.Error()
			ev.alert("process date unparseable: " + raw)
		} else {
			ev.ref = t
			v.ReferenceDateSource = ReferenceProcessDate
		}
	}
	if !ev.ref.IsZero() {
		ref := ev.ref
		v.ReferenceDate = &ref
	}

	if raw := strings.TrimSpace(p.BirthDate); raw != "" {
		if t, err := dates.Parse(raw); err == nil {
			ev.birth, ev.hasBirth = t, true
		} else {
			ev.birthErr = "birth date: " + err.Error()
			ev.alert("birth date unparseable: " + raw)
		}
	}
	if ev.hasBirth && !ev.ref.IsZero() {
		if age := dates.AgeAt(ev.birth, ev.ref); age >= 0 {
			ev.age = &age
			v.Ages.Current = &age
		} else {
			ev.alert("birth date after reference date")
		}
	}

	v.Opinion = ev.engine.AnalyzerFor(ev.track).Analyze(ev.c.OpinionText)
	v.Alerts = append(v.Alerts, v.Opinion.Alerts...)

	return StateAgeCheck, v.ReferenceDateSource
}

func (ev *evaluation) checkAge() (State, string) {
	v := ev.verdict
	t := ev.track
	if t.AgeCeiling == 0 && t.AgeFloor == 0 {
		v.Checks.Age = OutcomeNotApplicable
		return StateResidencyCheck, "no age limits"
	}
	if ev.age == nil {
		v.Checks.Age = OutcomeIndeterminate
		ev.find(StateAgeCheck, SeveritySoft, FindingAgeUnknown, withCauses("age indeterminate", ev.birthErr, ev.refErr))
		return StateResidencyCheck, "age indeterminate"
	}
	if t.AgeCeiling > 0 && *ev.age > t.AgeCeiling {
		v.Checks.Age = OutcomeFailed
		ev.find(StateAgeCheck, SeverityHard, FindingAgeCeiling, "age ceiling exceeded")
		return StateDecided, "age ceiling exceeded"
	}
	if t.AgeFloor > 0 && *ev.age < t.AgeFloor {
		v.Checks.Age = OutcomeFailed
		ev.find(StateAgeCheck, SeverityHard, FindingAgeFloor, "minimum age not reached")
		return StateDecided, "minimum age not reached"
	}
	v.Checks.Age = OutcomePassed
	return StateResidencyCheck, "age within limits"
}

func (ev *evaluation) decide() {
	v := ev.verdict
	pol := ev.engine.policy

	if v.Opinion.ExplicitReject() {
		ev.find(StateDecided, SeverityHard, FindingOpinionReject, "opinion explicitly proposes rejection")
	}
	if v.JustificationSource == "" {
		v.JustificationSource = SourceDocumentCompleteness
	}

	settled := func(o Outcome) bool { return o == OutcomePassed || o == OutcomeNotApplicable }
	indeterminate := v.Checks.Age == OutcomeIndeterminate || v.Checks.Residency == OutcomeIndeterminate

	switch {
	case v.HasHardFinding():
		v.Eligibility = Reject
	case settled(v.Checks.Age) && settled(v.Checks.Residency) && v.CompletenessPercentage == 100:
		v.Eligibility = Approve
		if v.Opinion.FalsityIndicated {
			v.Eligibility = ManualReview
			ev.find(StateDecided, SeveritySoft, FindingFalsity, "opinion indicates document falsity")
		}
		if v.WeakEvidence && pol.WeakEvidenceRequiresReview {
			v.Eligibility = ManualReview
			ev.find(StateDecided, SeveritySoft, FindingWeakEvidence, "entry before threshold rests on current age only")
		}
	case pol.ManualReview.Enabled && v.CompletenessPercentage > 0 &&
		(indeterminate || v.CompletenessPercentage >= pol.ManualReview.MinCompleteness):
		v.Eligibility = ManualReview
	default:
		v.Eligibility = Reject
	}

	sort.SliceStable(v.Findings, func(i, j int) bool {
		a, b := v.Findings[i], v.Findings[j]
		if a.Severity != b.Severity {
			return a.Severity == SeverityHard
		}
		return stateRank[a.Stage] < stateRank[b.Stage]
	})
	if v.Eligibility != Approve {
		for _, f := range v.Findings {
			v.RejectionReasons = append(v.RejectionReasons, f.Message)
		}
	}
}
