package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaguar-finops/guardrails/wal"
)

var (
	journalDir     string
	journalSince   time.Duration
	journalPending bool
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show the enforcement journal of local runs",
	Long: `Print the steps journaled by enforce, daemon and redrive runs when
enforcer.journal_dir is set. With --pending only events that were
observed but never executed or skipped are listed; these are the ones
to replay.`,
	Example: `  guardrails journal --since 24h
  guardrails journal --dir .guardrails/journal --pending`,
	RunE: runJournal,
}

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().StringVar(&journalDir, "dir", "", "Journal directory (defaults to enforcer.journal_dir)")
	journalCmd.Flags().DurationVar(&journalSince, "since", 0, "Only show entries newer than this, 0 shows all")
	journalCmd.Flags().BoolVar(&journalPending, "pending", false, "Only list events without a final entry")
}

func runJournal(cmd *cobra.Command, args []string) error {
	dir := journalDir
	if dir == "" {
		dir = cfg.Enforcer.JournalDir
	}
	if dir == "" {
		return fmt.Errorf("no journal directory: set enforcer.journal_dir or --dir")
	}

	var since time.Time
	if journalSince > 0 {
		since = time.Now().Add(-journalSince)
	}

	if journalPending {
		pending, err := pendingEvents(dir, since)
		if err != nil {
			return err
		}
		for _, id := range pending {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSEQ\tTYPE\tEVENT\tERROR")
	err := wal.Replay(dir, since, func(e *wal.Entry) error {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Sequence, e.Type, e.EventID, e.Error)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read journal %s: %w", dir, err)
	}
	return w.Flush()
}

// pendingEvents lists observed events that never reached a final entry,
// in the order they were first observed.
func pendingEvents(dir string, since time.Time) ([]string, error) {
	processed, err := wal.ProcessedEvents(dir)
	if err != nil {
		return nil, fmt.Errorf("read journal %s: %w", dir, err)
	}

	seen := make(map[string]bool)
	var pending []string
	err = wal.Replay(dir, since, func(e *wal.Entry) error {
		if e.Type != wal.EntryObserved || e.EventID == "" || processed[e.EventID] || seen[e.EventID] {
			return nil
		}
		seen[e.EventID] = true
		pending = append(pending, e.EventID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read journal %s: %w", dir, err)
	}
	return pending, nil
}
