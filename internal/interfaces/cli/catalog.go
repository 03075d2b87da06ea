package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/NaturaCheck/pkg/client"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the document catalog",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tracks and document types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.withTimeout(cmd)
			defer cancel()
			sum, err := cliCtx.Backend.Catalog(ctx)
			if err != nil {
				return err
			}
			return PrintResult(cmd, catalogView{sum})
		},
	}

	show := &cobra.Command{
		Use:   "show NAME",
		Short: "Show the requirements of a document type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.withTimeout(cmd)
			defer cancel()
			dt, err := cliCtx.Backend.DocumentType(ctx, args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, documentTypeView{dt})
		},
	}

	location := &cobra.Command{
		Use:   "location NAME",
		Short: "Show where a document is usually found in a case file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.withTimeout(cmd)
			defer cancel()
			loc, err := cliCtx.Backend.Location(ctx, args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, locationView{loc})
		},
	}

	cmd.AddCommand(list, show, location)
	return cmd
}

type catalogView struct {
	sum *client.CatalogSummary
}

func (v catalogView) Payload() interface{} { return v.sum }

func (v catalogView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Catalog version %s\n\nTracks:\n", v.sum.Version)
	for _, t := range v.sum.Tracks {
		fmt.Fprintf(&sb, "  %s (%s): %s\n", t.ID, t.Name, strings.Join(t.Documents, ", "))
	}
	sb.WriteString("\nDocument types:\n")
	sb.WriteString(FormatTable(v.TableHeaders(), v.TableRows()))
	return sb.String()
}

func (v catalogView) TableHeaders() []string {
	return []string{"NAME", "ALIASES", "VARIANTS", "MAX_AGE_DAYS", "LENGTH_ONLY"}
}

func (v catalogView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.sum.DocumentTypes))
	for _, d := range v.sum.DocumentTypes {
		maxAge := "-"
		if d.MaxAgeDays > 0 {
			maxAge = strconv.Itoa(d.MaxAgeDays)
		}
		rows = append(rows, []string{
			d.Name,
			strings.Join(d.Aliases, ", "),
			strconv.Itoa(d.Variants),
			maxAge,
			strconv.FormatBool(d.LengthOnly),
		})
	}
	return rows
}

type documentTypeView struct {
	dt *client.DocumentType
}

func (v documentTypeView) Payload() interface{} { return v.dt }

func (v documentTypeView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", v.dt.Name)
	if len(v.dt.Aliases) > 0 {
		fmt.Fprintf(&sb, "Aliases: %s\n", strings.Join(v.dt.Aliases, ", "))
	}
	if v.dt.LengthOnly {
		fmt.Fprintf(&sb, "Accepted on length alone (min %d characters)\n", v.dt.MinLength)
	} else {
		fmt.Fprintf(&sb, "Minimum confidence: %d\n", v.dt.MinConfidence)
	}
	if v.dt.MaxAgeDays > 0 {
		fmt.Fprintf(&sb, "Maximum age: %d days\n", v.dt.MaxAgeDays)
	}
	if len(v.dt.Required) > 0 {
		sb.WriteString("Required terms:\n")
		sb.WriteString(FormatTable(v.TableHeaders(), v.TableRows()))
	}
	return sb.String()
}

func (v documentTypeView) TableHeaders() []string {
	return []string{"WEIGHT", "ANY_OF"}
}

func (v documentTypeView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.dt.Required))
	for _, r := range v.dt.Required {
		rows = append(rows, []string{strconv.Itoa(r.Weight), strings.Join(r.Terms, " | ")})
	}
	return rows
}

type locationView struct {
	loc *client.Location
}

func (v locationView) Payload() interface{} { return v.loc }

func (v locationView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s", v.loc.DocumentType)
	if !v.loc.Known {
		sb.WriteString(" (not in catalog)")
	}
	sb.WriteString("\n")
	for i, l := range v.loc.Location {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, l)
	}
	return sb.String()
}
