package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/store"
)

type auditOptions struct {
	limit  int
	verify bool
	json   bool
}

// NewAuditCommand creates the audit command. A nil conf uses the loaded
// configuration.
func NewAuditCommand(conf *config.Config) *cobra.Command {
	opts := &auditOptions{limit: 50}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the operation journal",
		Long: `Show recent vault operations from the local audit journal. The journal
records what was done, by whom and whether it succeeded; it never stores
passwords or account contents.

Example:
  keeptower audit
  keeptower audit --limit 200 --json
  keeptower audit --verify`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd, opts, resolveConfig(conf))
		},
	}

	cmd.Flags().IntVar(&opts.limit, "limit", opts.limit, "Number of entries to show (0 for all)")
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "Check that every journal entry is well formed")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output in JSON format")

	return cmd
}

func runAudit(cmd *cobra.Command, opts *auditOptions, conf *config.Config) error {
	if !conf.Audit.Enabled || conf.Audit.Path == "" {
		return fmt.Errorf("audit journal is disabled in the configuration")
	}

	j, err := store.OpenJournal(conf.Audit.Path)
	if err != nil {
		return err
	}
	defer j.Close()

	out := cmd.OutOrStdout()
	if opts.verify {
		if err := j.VerifyAuditIntegrity(); err != nil {
			return fmt.Errorf("audit journal verification failed: %w", err)
		}
		return writeOutput(out, "✓ Audit journal is intact\n")
	}

	ops, err := j.GetAuditLog(opts.limit)
	if err != nil {
		return fmt.Errorf("failed to read audit journal: %w", err)
	}

	if opts.json {
		return writeJSON(out, ops)
	}
	if len(ops) == 0 {
		return writeOutput(out, "No audit entries\n")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOPERATION\tUSER\tACCOUNT\tRESULT")
	for _, op := range ops {
		result := "ok"
		if !op.Success {
			result = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			op.Timestamp.Local().Format("2006-01-02 15:04:05"), op.Type, op.User, op.AccountID, result)
	}
	return w.Flush()
}
