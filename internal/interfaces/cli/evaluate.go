package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/turtacn/NaturaCheck/pkg/client"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

func newEvaluateCmd() *cobra.Command {
	var (
		file  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a naturalization case",
		Long: "Evaluate reads a case file (JSON or YAML, \"-\" for stdin) holding either an\n" +
			"evaluation request {\"case\": {...}} or a bare case, and prints the verdict.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			raw, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			req, err := parseEvaluateRequest(raw)
			if err != nil {
				return err
			}
			if force {
				req.Force = true
			}

			ctx, cancel := cliCtx.withTimeout(cmd)
			defer cancel()
			res, err := cliCtx.Backend.Evaluate(ctx, *req)
			if err != nil {
				return err
			}
			return PrintResult(cmd, evaluationView{res})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "case file, - for stdin [REQUIRED]")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the verdict cache")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// parseEvaluateRequest accepts JSON or YAML. YAML is decoded generically and
// re-encoded so the JSON field names apply to both.
func parseEvaluateRequest(raw []byte) (*client.EvaluateRequest, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.InvalidParam("invalid case file").WithDetail(err.Error())
	}
	if len(doc) == 0 {
		return nil, errors.InvalidParam("case file is empty")
	}
	if _, wrapped := doc["case"]; !wrapped {
		doc = map[string]interface{}{"case": doc}
	}

	js, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.InvalidParam("invalid case file").WithDetail(err.Error())
	}
	var req client.EvaluateRequest
	if err := json.Unmarshal(js, &req); err != nil {
		return nil, errors.InvalidParam("invalid case file").WithDetail(err.Error())
	}
	if strings.TrimSpace(req.Case.ID) == "" {
		return nil, errors.InvalidParam("case id is required")
	}
	return &req, nil
}

func newVerdictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verdict",
		Short: "Read stored verdicts",
		Long:  "Read stored verdicts. Verdicts persist only on a server, so these commands need --server.",
	}

	get := &cobra.Command{
		Use:   "get CASE_ID",
		Short: "Show the latest verdict of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := remoteContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.withTimeout(cmd)
			defer cancel()
			rec, err := cliCtx.Backend.Verdict(ctx, args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, evaluationView{&client.EvaluationResult{
				Verdict:     rec.Verdict,
				Fingerprint: rec.Fingerprint,
				Revision:    rec.Revision,
				EvaluatedAt: rec.EvaluatedAt,
			}})
		},
	}

	var limit int
	history := &cobra.Command{
		Use:   "history CASE_ID",
		Short: "List verdict revisions of a case, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := remoteContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.withTimeout(cmd)
			defer cancel()
			recs, err := cliCtx.Backend.History(ctx, args[0], limit)
			if err != nil {
				return err
			}
			return PrintResult(cmd, historyView(recs))
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "maximum revisions to list")

	cmd.AddCommand(get, history)
	return cmd
}

func remoteContext(cmd *cobra.Command) (*CLIContext, error) {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return nil, err
	}
	if !cliCtx.Backend.Remote() {
		return nil, errors.InvalidParam("this command needs --server")
	}
	return cliCtx, nil
}

// evaluationView prints a verdict.
type evaluationView struct {
	res *client.EvaluationResult
}

func (v evaluationView) Payload() interface{} { return v.res }

func (v evaluationView) String() string {
	var sb strings.Builder
	vd := v.res.Verdict
	if vd == nil {
		return "no verdict\n"
	}
	fmt.Fprintf(&sb, "Case:          %s (%s)\n", vd.CaseID, vd.Track)
	fmt.Fprintf(&sb, "Eligibility:   %s\n", strings.ToUpper(vd.Eligibility))
	fmt.Fprintf(&sb, "Completeness:  %.1f%%\n", vd.CompletenessPercentage)
	fmt.Fprintf(&sb, "Justification: %s\n", vd.JustificationSource)
	if v.res.Revision > 0 {
		fmt.Fprintf(&sb, "Revision:      %d\n", v.res.Revision)
	}
	if v.res.Cached {
		sb.WriteString("Cached:        yes\n")
	}
	if len(vd.MissingDocuments) > 0 {
		sb.WriteString("Missing documents:\n")
		for _, d := range vd.MissingDocuments {
			fmt.Fprintf(&sb, "  - %s\n", d)
		}
	}
	if len(vd.RejectionReasons) > 0 {
		sb.WriteString("Rejection reasons:\n")
		for _, r := range vd.RejectionReasons {
			fmt.Fprintf(&sb, "  - %s\n", r)
		}
	}
	if len(vd.Alerts) > 0 {
		sb.WriteString("Alerts:\n")
		for _, a := range vd.Alerts {
			fmt.Fprintf(&sb, "  ! %s\n", a)
		}
	}
	return sb.String()
}

func (v evaluationView) TableHeaders() []string {
	return []string{"DOCUMENT", "ATTACHED", "VALID", "CONFIDENCE", "REASON"}
}

func (v evaluationView) TableRows() [][]string {
	if v.res.Verdict == nil {
		return nil
	}
	rows := make([][]string, 0, len(v.res.Verdict.Documents))
	for _, d := range v.res.Verdict.Documents {
		rows = append(rows, []string{
			d.Name,
			strconv.FormatBool(d.Attached),
			strconv.FormatBool(d.Result.Valid),
			strconv.Itoa(d.Result.Confidence),
			d.Result.Reason,
		})
	}
	return rows
}

type historyView []client.VerdictRecord

func (h historyView) Payload() interface{} { return []client.VerdictRecord(h) }

func (h historyView) String() string {
	return FormatTable(h.TableHeaders(), h.TableRows())
}

func (h historyView) TableHeaders() []string {
	return []string{"REVISION", "EVALUATED_AT", "ELIGIBILITY", "FINGERPRINT"}
}

func (h historyView) TableRows() [][]string {
	rows := make([][]string, 0, len(h))
	for _, r := range h {
		elig := ""
		if r.Verdict != nil {
			elig = r.Verdict.Eligibility
		}
		fp := r.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		rows = append(rows, []string{strconv.Itoa(r.Revision), r.EvaluatedAt.Format("2006-01-02 15:04:05"), elig, fp})
	}
	return rows
}
