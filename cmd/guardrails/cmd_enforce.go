package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jaguar-finops/guardrails/trigger"
)

var (
	enforceEvent  string
	enforceDryRun bool
)

var enforceCmd = &cobra.Command{
	Use:   "enforce",
	Short: "Run the tag enforcer on one event",
	Long: `Run the tag enforcer locally on one EventBridge event, as the
deployed function would. With --dry-run nothing is tagged or published;
the result shows what would have been.`,
	Example: `  guardrails enforce --event run_instances.json --dry-run
  cat event.json | guardrails enforce --event -`,
	RunE: runEnforce,
}

func init() {
	rootCmd.AddCommand(enforceCmd)

	enforceCmd.Flags().StringVarP(&enforceEvent, "event", "e", "", "Event file, - for stdin")
	enforceCmd.Flags().BoolVar(&enforceDryRun, "dry-run", false, "Report without tagging or alerting")
	_ = enforceCmd.MarkFlagRequired("event")
}

func runEnforce(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd.InOrStdin(), enforceEvent)
	if err != nil {
		return err
	}
	ev, err := trigger.ParseEvent(data)
	if err != nil {
		return err
	}

	sess, err := newSession(cmd.Context(), cfg, enforceDryRun)
	if err != nil {
		return err
	}
	defer sess.Close()

	result, err := sess.handler.Handle(cmd.Context(), ev)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	return data, nil
}
