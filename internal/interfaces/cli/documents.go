package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/NaturaCheck/pkg/client"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

func newValidateCmd() *cobra.Command {
	var (
		docType       string
		file          string
		referenceDate string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate one extracted document text against its catalog type",
		Example: "  naturacheck validate --type CPF --file cpf.txt\n" +
			"  cat crnm.txt | naturacheck validate --type CRNM --file - --reference-date 10/01/2025",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(docType) == "" {
				return errors.InvalidParam("--type is required")
			}
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			text, err := readInput(cmd, file)
			if err != nil {
				return err
			}

			ctx, cancel := cliCtx.withTimeout(cmd)
			defer cancel()
			res, err := cliCtx.Backend.ValidateDocument(ctx, docType, string(text), referenceDate)
			if err != nil {
				return err
			}
			if res.DocumentType == "" {
				res.DocumentType = docType
			}
			return PrintResult(cmd, validationView{res})
		},
	}

	cmd.Flags().StringVarP(&docType, "type", "t", "", "document type name or alias [REQUIRED]")
	cmd.Flags().StringVarP(&file, "file", "f", "", "extracted text file, - for stdin [REQUIRED]")
	cmd.Flags().StringVar(&referenceDate, "reference-date", "", "date for recency checks (DD/MM/YYYY); today when empty")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newOpinionCmd() *cobra.Command {
	var (
		file  string
		track string
	)

	cmd := &cobra.Command{
		Use:   "opinion",
		Short: "Read an analyst opinion and report what it proposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			text, err := readInput(cmd, file)
			if err != nil {
				return err
			}

			ctx, cancel := cliCtx.withTimeout(cmd)
			defer cancel()
			res, err := cliCtx.Backend.AnalyzeOpinion(ctx, string(text), track)
			if err != nil {
				return err
			}
			return PrintResult(cmd, opinionView{res})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "opinion text file, - for stdin [REQUIRED]")
	cmd.Flags().StringVar(&track, "track", "", "track the opinion belongs to; enables track specific checks")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

type validationView struct {
	res *client.ValidationResult
}

func (v validationView) Payload() interface{} { return v.res }

func (v validationView) String() string {
	var sb strings.Builder
	status := "INVALID"
	if v.res.Valid {
		status = "VALID"
	}
	fmt.Fprintf(&sb, "%s: %s (confidence %d)\n", v.res.DocumentType, status, v.res.Confidence)
	fmt.Fprintf(&sb, "Reason: %s\n", v.res.Reason)
	if v.res.Variant != "" {
		fmt.Fprintf(&sb, "Variant: %s\n", v.res.Variant)
	}
	if v.res.IssueDate != nil {
		fmt.Fprintf(&sb, "Issued: %s\n", v.res.IssueDate.Format("02/01/2006"))
	}
	writeList(&sb, "Matched", v.res.Matched)
	writeList(&sb, "Missing", v.res.Missing)
	writeList(&sb, "Negations", v.res.Negations)
	writeList(&sb, "Violations", v.res.Violations)
	return sb.String()
}

func (v validationView) TableHeaders() []string {
	return []string{"TYPE", "VALID", "CONFIDENCE", "MISSING", "REASON"}
}

func (v validationView) TableRows() [][]string {
	return [][]string{{
		v.res.DocumentType,
		strconv.FormatBool(v.res.Valid),
		strconv.Itoa(v.res.Confidence),
		strings.Join(v.res.Missing, "; "),
		v.res.Reason,
	}}
}

type opinionView struct {
	res *client.OpinionResult
}

func (v opinionView) Payload() interface{} { return v.res }

func (v opinionView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Proposed decision:    %s (%s)\n", v.res.ProposedDecision, v.res.DecisionStrength)
	fmt.Fprintf(&sb, "Age threshold:        %s\n", v.res.AgeThreshold)
	fmt.Fprintf(&sb, "Indefinite residence: %s\n", v.res.IndefiniteResidence)
	if v.res.ResidenceYears != nil {
		fmt.Fprintf(&sb, "Residence years:      %d\n", *v.res.ResidenceYears)
	}
	if v.res.ResidenceSince != nil {
		fmt.Fprintf(&sb, "Resident since:       %s\n", v.res.ResidenceSince.Format("02/01/2006"))
	}
	if v.res.FalsityIndicated {
		sb.WriteString("Falsity indicated:    yes\n")
	}
	writeList(&sb, "Evidence", v.res.ThresholdEvidence)
	writeList(&sb, "Alerts", v.res.Alerts)
	return sb.String()
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(sb, "  - %s\n", it)
	}
}
