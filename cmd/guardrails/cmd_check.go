package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the stacks agree with each other",
	Long: `Render the stacks and verify that the SCP and the tag enforcer
require the same tags, that every enforcer environment value is set,
and that the creation rule routes exactly the calls the enforcer handles.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := newApp(cfg).Check(); err != nil {
		return fmt.Errorf("guardrails are inconsistent:\n%w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}
