// Package opinion extracts the proposed decision, the entry-age threshold
// flag and residence statements from free-text official opinions.
package opinion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
	"github.com/turtacn/NaturaCheck/internal/domain/dates"
)

// DefaultThreshold is the entry age, in years, of the provisional track.
const DefaultThreshold = 10

var numberWords = map[string]int{
	"um": 1, "uma": 1, "dois": 2, "duas": 2, "tres": 3, "quatro": 4, "cinco": 5,
	"seis": 6, "sete": 7, "oito": 8, "nove": 9, "dez": 10, "onze": 11, "doze": 12,
	"treze": 13, "quatorze": 14, "catorze": 14, "quinze": 15, "dezesseis": 16,
	"dezessete": 17, "dezoito": 18, "dezenove": 19, "vinte": 20,
}

const countExpr = `(\d{1,2}|um|uma|dois|duas|tres|quatro|cinco|seis|sete|oito|nove|dez|onze|doze|treze|quatorze|catorze|quinze|dezesseis|dezessete|dezoito|dezenove|vinte)`

func parseCount(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	n, ok := numberWords[s]
	return n, ok
}

var (
	// "10 (dez) anos" -> "10 anos"
	spelledOut = regexp.MustCompile(`\(\s*[a-z][a-z ]*\)`)

	entryAgeRes = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:ingressou|ingressaram|entrou|chegou)\b[^.;!?]{0,80}?\b(?:com|aos)\s+` + countExpr + `\s+anos?\b`),
		regexp.MustCompile(`\btinha\s+(?:apenas\s+)?` + countExpr + `\s+anos?\b`),
	}

	explicitRejectRe = regexp.MustCompile(strings.Join([]string{
		`\bsuger(?:e|e-se|imos)\s+o\s+indeferimento\b`,
		`\bpropo(?:e|e-se|mos)\s+o\s+indeferimento\b`,
		`\bopin(?:a|o|amos)\s+pelo\s+indeferimento\b`,
		`\bindeferimento\s+do\s+pedido\b`,
		`\bnao\s+compareceu\b`,
		`\bnao\s+atendeu\s+aos\s+chamados\b`,
	}, "|"))

	explicitApproveRe = regexp.MustCompile(strings.Join([]string{
		`\bsuger(?:e|e-se|imos)\s+o\s+deferimento\b`,
		`\bpropo(?:e|e-se|mos)\s+o\s+deferimento\b`,
		`\bopin(?:a|o|amos)\s+pelo\s+deferimento\b`,
		`\bdeferimento\s+do\s+pedido\b`,
	}, "|"))

	archivalRe       = regexp.MustCompile(`\barquivamento\b`)
	approveKeywordRe = regexp.MustCompile(`\b(?:deferimento|deferido|deferir|favoravel)\b`)
	rejectKeywordRe  = regexp.MustCompile(`\b(?:indeferimento|indeferido|indeferir|desfavoravel)\b|\bnao\s+(?:e\s+)?favoravel\b`)
	negatedApproveRe = regexp.MustCompile(`\bnao\s+(?:e\s+)?$`)

	falsityNegatedRe = regexp.MustCompile(`\b(?:nao\s+(?:ha|foram\s+(?:encontrados|identificados|constatados))|sem|inexistencia\s+de|ausencia\s+de|nenhum)\s+(?:quaisquer\s+)?indicios?\s+de\s+(?:falsidade|fraude)(?:\s+documental)?`)
	falsityRe        = regexp.MustCompile(strings.Join([]string{
		`\bfalsidade\s+documental\s+(?:encontrada|detectada|identificada|comprovada)\b`,
		`\bdocumentos?\s+(?:falsos?|falsificados?)\b`,
		`\bfraude\s+documental\b`,
		`\birregularidade\s+documental\s+grave\b`,
		`\binconsistencia\s+documental\s+comprovada\b`,
		`\bindicios?\s+de\s+(?:falsidade|fraude)\b`,
	}, "|"))

	residenceDeniedRe = regexp.MustCompile(`\bnao\s+(?:possui|tem|obteve)\s+(?:autorizacao\s+de\s+)?residencia\s+por\s+prazo\s+indeterminado\b|\bsolicitante\s+de\s+refugio\b`)
	residenceAffirmRe = regexp.MustCompile(`\bresidencia\s+(?:por\s+prazo\s+)?indeterminad[ao]\b`)

	residenceYearsRes = []*regexp.Regexp{
		regexp.MustCompile(`\b` + countExpr + `\s+anos?\s+de\s+residencia\b`),
		regexp.MustCompile(`\breside[^.;!?]{0,40}?\bha\s+` + countExpr + `\s+anos?\b`),
	}
	residenceSinceRe = regexp.MustCompile(`\bresiden[^.;!?]*?\bdesde\s+(?:o\s+dia\s+|a\s+data\s+de\s+)?`)
)

// Analyzer is stateless after construction and safe for concurrent use.
type Analyzer struct {
	threshold int
	before    []*regexp.Regexp
	after     []*regexp.Regexp
}

// NewAnalyzer builds an analyzer for an entry-age threshold. Non-positive
// values select DefaultThreshold.
func NewAnalyzer(threshold int) *Analyzer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	t := strconv.Itoa(threshold)
	compile := func(exprs ...string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(exprs))
		for i, e := range exprs {
			out[i] = regexp.MustCompile(strings.ReplaceAll(e, "{T}", t))
		}
		return out
	}
	return &Analyzer{
		threshold: threshold,
		before: compile(
			`\bantes\s+de\s+completar\s+(?:os\s+)?{T}\b`,
			`\bantes\s+dos\s+{T}\s+anos\b`,
			`\bantes\s+de\s+{T}\s+anos\b`,
			`\bantes\s+de\s+atingir\s+(?:os\s+)?{T}\b`,
			`\bcom\s+menos\s+de\s+{T}\s+anos\b`,
			`\bmenor\s+de\s+{T}\s+anos\b`,
			`\bidade\s+inferior\s+a\s+{T}\b`,
		),
		after: compile(
			`\bapos\s+os\s+{T}\s+anos\b`,
			`\bdepois\s+dos\s+{T}\s+anos\b`,
			`\bmaior\s+de\s+{T}\s+anos\b`,
			`\b(?:apos|depois\s+de)\s+(?:ter\s+)?complet(?:ar|ado)\s+(?:os\s+)?{T}\b`,
			`\bidade\s+superior\s+a\s+{T}\b`,
		),
	}
}

// Threshold returns the entry-age threshold in years.
func (a *Analyzer) Threshold() int {
	return a.threshold
}

// Analyze parses opinion text. Decision and threshold extraction are
// independent of each other.
func (a *Analyzer) Analyze(text string) Result {
	res := Result{
		Text:                text,
		ProposedDecision:    DecisionUnknown,
		DecisionStrength:    StrengthNone,
		AgeThreshold:        ThresholdIndeterminate,
		IndefiniteResidence: ResidenceUnstated,
	}
	s := prepare(text)
	if s == "" {
		res.Alerts = append(res.Alerts, AlertEmptyText)
		return res
	}

	a.detectThreshold(s, &res)
	detectDecision(s, &res)
	detectFalsity(s, &res)
	detectResidence(s, &res)
	return res
}

func prepare(text string) string {
	s := catalog.Normalize(text)
	return strings.Join(strings.Fields(spelledOut.ReplaceAllString(s, " ")), " ")
}

func (a *Analyzer) detectThreshold(s string, res *Result) {
	var before, after []string
	for _, re := range a.before {
		if m := re.FindString(s); m != "" {
			before = append(before, m)
		}
	}
	for _, re := range a.after {
		if m := re.FindString(s); m != "" {
			after = append(after, m)
		}
	}
	for _, re := range entryAgeRes {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			n, ok := parseCount(m[1])
			if !ok {
				continue
			}
			if n < a.threshold {
				before = append(before, m[0])
			} else {
				after = append(after, m[0])
			}
		}
	}

	res.ThresholdEvidence = append(append(res.ThresholdEvidence, before...), after...)
	switch {
	case len(before) > 0 && len(after) > 0:
		res.Alerts = append(res.Alerts, AlertContradictoryThreshold)
	case len(before) > 0:
		res.AgeThreshold = ThresholdBefore
	case len(after) > 0:
		res.AgeThreshold = ThresholdAfter
	}
}

func detectDecision(s string, res *Result) {
	explicitReject := explicitRejectRe.MatchString(s)
	explicitApprove := explicitApproveRe.MatchString(s)

	switch {
	case explicitReject:
		res.ProposedDecision, res.DecisionStrength = DecisionReject, StrengthExplicit
		if explicitApprove {
			res.Alerts = append(res.Alerts, AlertConflictingExplicit)
		}
		return
	case archivalRe.MatchString(s):
		res.Alerts = append(res.Alerts, AlertArchival)
		return
	case explicitApprove:
		res.ProposedDecision, res.DecisionStrength = DecisionApprove, StrengthExplicit
		return
	}

	approve := false
	for _, loc := range approveKeywordRe.FindAllStringIndex(s, -1) {
		if !negatedApproveRe.MatchString(s[:loc[0]]) {
			approve = true
			break
		}
	}
	reject := rejectKeywordRe.MatchString(s)

	switch {
	case approve && reject:
		res.Alerts = append(res.Alerts, AlertConflictingKeywords)
	case approve:
		res.ProposedDecision, res.DecisionStrength = DecisionApprove, StrengthKeyword
	case reject:
		res.ProposedDecision, res.DecisionStrength = DecisionReject, StrengthKeyword
	}
}

func detectFalsity(s string, res *Result) {
	cleaned := falsityNegatedRe.ReplaceAllString(s, " ")
	if m := falsityRe.FindString(cleaned); m != "" {
		res.FalsityIndicated = true
		res.Alerts = append(res.Alerts, AlertFalsityPrefix+m)
	}
}

func detectResidence(s string, res *Result) {
	switch {
	case residenceDeniedRe.MatchString(s):
		res.IndefiniteResidence = ResidenceDenied
		res.Alerts = append(res.Alerts, AlertIndefiniteResidenceDeny)
	case residenceAffirmRe.MatchString(s):
		res.IndefiniteResidence = ResidenceAffirmed
	}

	for _, re := range residenceYearsRes {
		if m := re.FindStringSubmatch(s); m != nil {
			if n, ok := parseCount(m[1]); ok {
				res.ResidenceYears = &n
				break
			}
		}
	}

	for _, loc := range residenceSinceRe.FindAllStringIndex(s, -1) {
		found := dates.FindAllNormalized(s[loc[1]:])
		if len(found) > 0 && found[0].Start == 0 {
			since := found[0].Date
			res.ResidenceSince = &since
			return
		}
	}
}

// String renders the result for logs and the CLI.
func (r Result) String() string {
	return fmt.Sprintf("decision=%s/%s threshold=%s residence=%s falsity=%t alerts=%d",
		r.ProposedDecision, r.DecisionStrength, r.AgeThreshold, r.IndefiniteResidence, r.FalsityIndicated, len(r.Alerts))
}
