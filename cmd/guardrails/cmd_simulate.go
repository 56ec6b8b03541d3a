package main

import (
	"github.com/spf13/cobra"

	"github.com/jaguar-finops/guardrails/policy"
	"github.com/jaguar-finops/guardrails/tags"
)

var (
	simulateAction string
	simulateTags   []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Evaluate a create call against the tag policy",
	Long: `Evaluate a create call carrying the given tags against the rendered
service control policy, locally, and print the decision.`,
	Example: `  guardrails simulate --action ec2:RunInstances --tag Owner=alice
  guardrails simulate --action s3:CreateBucket --tag Owner=a --tag Environment=dev \
      --tag CostCenter=FINOPS --tag Application=web`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVarP(&simulateAction, "action", "a", "ec2:RunInstances", "IAM action of the call")
	simulateCmd.Flags().StringArrayVarP(&simulateTags, "tag", "t", nil, "Request tag Key=Value (repeatable)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	requestTags, err := tags.FromPairs(simulateTags)
	if err != nil {
		return err
	}

	sim, err := policy.NewSimulator(cmd.Context(), newApp(cfg).Policy().Document)
	if err != nil {
		return err
	}
	decision, err := sim.Evaluate(cmd.Context(), policy.Request{
		Action:  simulateAction,
		TagKeys: tags.Set(requestTags.Keys()),
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), decision)
}
