package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jaguar-finops/guardrails/internal/awsapi"
	"github.com/jaguar-finops/guardrails/internal/verify"
)

var verifyFunction string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare the deployed enforcer with its declaration",
	Long: `Read the deployed tag enforcer function and compare its runtime,
timeout and environment, its log retention, and the permissions of its
role with what the stacks declare.`,
	Example: `  guardrails verify --function JaguarFinops-TagEnforcer-TagEnforcerFn-1A2B3C`,
	RunE:    runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyFunction, "function", "", "Deployed function name (defaults to enforcer.function_name)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	function := verifyFunction
	if function == "" {
		function = cfg.Enforcer.FunctionName
	}
	if function == "" {
		return fmt.Errorf("no function given: pass --function or set enforcer.function_name")
	}

	want, err := verify.ExpectFrom(newApp(cfg).EnforcerConfig())
	if err != nil {
		return err
	}

	clients, err := awsapi.New(cmd.Context(), cfg.Target.Region, cfg.Target.Profile)
	if err != nil {
		return err
	}

	v := verify.New(clients.Lambda, clients.CloudWatchLogs, clients.IAM)
	report, err := v.Verify(cmd.Context(), function, want)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%d of %d checks failed", len(report.Failed()), len(report.Findings))
	}
	return nil
}
