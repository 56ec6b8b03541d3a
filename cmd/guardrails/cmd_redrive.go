package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jaguar-finops/guardrails/internal/redrive"
)

var (
	redriveQueue string
	redriveLimit int
)

var redriveCmd = &cobra.Command{
	Use:   "redrive",
	Short: "Replay dead-lettered events through the enforcer",
	Long: `Drain the dead-letter queue of the creation rule and run every
event through the enforcer. Messages are deleted once handled; failures
stay queued.`,
	Example: `  guardrails redrive --queue https://sqs.us-east-1.amazonaws.com/123456789012/TagEnforcerDeadLetterQueue
  guardrails redrive --queue URL --limit 50`,
	RunE: runRedrive,
}

func init() {
	rootCmd.AddCommand(redriveCmd)

	redriveCmd.Flags().StringVarP(&redriveQueue, "queue", "q", "", "Dead-letter queue URL")
	redriveCmd.Flags().IntVar(&redriveLimit, "limit", 0, "Maximum messages to replay, 0 drains the queue")
	_ = redriveCmd.MarkFlagRequired("queue")
}

func runRedrive(cmd *cobra.Command, args []string) error {
	if redriveLimit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	sess, err := newSession(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	r := redrive.New(sess.clients.SQS, sess.handler, redriveQueue)
	summary, err := r.Drain(cmd.Context(), redriveLimit)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), summary)
}
