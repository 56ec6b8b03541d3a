package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jaguar-finops/guardrails/stack"
)

var (
	renderFormat string
	renderOut    string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the CloudFormation templates",
	Long: `Render the SCP, tag enforcer and budgets stacks as CloudFormation
templates plus a manifest naming where each deploys. Output is
byte-identical for the same configuration.`,
	Example: `  guardrails render                         # JSON into ./guardrails.out
  guardrails render --format yaml --out dist
  guardrails render --out -                 # templates to stdout`,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderFormat, "format", "f", "json", "Template format (json, yaml)")
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "guardrails.out", "Output directory, - for stdout")
}

func runRender(cmd *cobra.Command, args []string) error {
	format, err := stack.ParseFormat(renderFormat)
	if err != nil {
		return err
	}
	app := newApp(cfg)

	if renderOut == "-" {
		artifacts, err := app.Render(format)
		if err != nil {
			return err
		}
		for _, art := range artifacts {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", art.Name, art.Data)
		}
		return nil
	}

	paths, err := app.WriteDir(renderOut, format)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}
