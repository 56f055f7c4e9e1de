package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/viant/afs"
	"github.com/viant/memlease/service/audit"
)

func init() {
	rootCmd.AddCommand(newAuditCmd())
}

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <snapshot-url>",
		Short: "Cross-check an exported snapshot",
		Long: `The audit command loads a snapshot exported by a running allocator and
checks the capacity ledgers: per-host usage within total, chunk sums matching
allocated RAM, claims within their chunks and no empty allocations.

Example:
  memleased audit /var/lib/memlease/audit/latest.json
  memleased audit s3://bucket/memlease/latest.json --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

// runAudit prints the issues found and fails when there are any.
func runAudit(ctx context.Context, w io.Writer, URL string) error {
	snapshot, err := audit.Load(ctx, afs.New(), URL)
	if err != nil {
		return err
	}
	issues := audit.Check(snapshot)
	if jsonOut {
		if issues == nil {
			issues = []audit.Issue{}
		}
		if err = printJSON(w, issues); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "snapshot %s: %d workers, %d allocations\n", snapshot.CreatedAt.Format("2006-01-02 15:04:05"), len(snapshot.Workers), len(snapshot.Allocations))
		for _, issue := range issues {
			fmt.Fprintln(w, "  "+issue.String())
		}
	}
	if len(issues) > 0 {
		return fmt.Errorf("audit found %d issue(s)", len(issues))
	}
	return nil
}
