package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jaguar-finops/guardrails/internal/awsapi"
	"github.com/jaguar-finops/guardrails/tags"
)

var (
	auditOutput     string
	auditViolations bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report existing resources missing required tags",
	Long: `Scan the resource types the tag policy guards and report which of
them lack required tags or carry a rejected Environment. The policy only
applies to new calls; this finds what was created before it.`,
	Example: `  guardrails audit
  guardrails audit --violations --output json`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVarP(&auditOutput, "output", "o", "table", "Output format (table, json)")
	auditCmd.Flags().BoolVar(&auditViolations, "violations", false, "Only list non-compliant resources")
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	clients, err := awsapi.New(ctx, cfg.Target.Region, cfg.Target.Profile)
	if err != nil {
		return err
	}

	report, err := newAuditor(ctx, cfg, clients).Run(ctx)
	if err != nil {
		return err
	}

	if auditOutput == "json" {
		return printJSON(cmd.OutOrStdout(), report)
	}

	findings := report.Findings()
	if auditViolations {
		findings = report.Violations()
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tID\tMISSING\tENVIRONMENT")
	for _, c := range findings {
		env := "ok"
		if c.BadEnvironment {
			env = fmt.Sprintf("rejected (%s)", c.Resource.Tags[tags.KeyEnvironment])
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Resource.Type, c.Resource.ID, strings.Join(c.Missing, ","), env)
	}
	fmt.Fprintln(w)
	for _, s := range report.Summary() {
		fmt.Fprintf(w, "%s\t%d resources\t%d non-compliant\t\n", s.Type, s.Total, s.NonCompliant)
	}
	errs := report.Errors()
	for _, scanner := range slices.Sorted(maps.Keys(errs)) {
		fmt.Fprintf(w, "%s\tscan failed\t%s\t\n", scanner, errs[scanner])
	}
	return w.Flush()
}
