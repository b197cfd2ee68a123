package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	FailOnUnknown bool
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check every record for missing provenance stages",
		Long: `Evaluate every registered record against the provenance table and
report the records whose required stages have no ledger entry.

Exits 1 when any record has a gap, so audit can gate a pipeline.
Record types with no provenance rule are listed separately and only fail
the audit with --fail-on-unknown.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.FailOnUnknown, "fail-on-unknown", false, "treat unknown record types as failures")

	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	configureLogging(opts.RootOptions, cmd.ErrOrStderr())
	f := newFormatter(opts.RootOptions, cmd)

	a, _, err := openAgent(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer closeAgent(a)

	ctx, cancel := commandContext(cmd)
	defer cancel()

	report, err := a.Audit(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to audit", err)
	}

	if f.IsJSON() {
		if err := f.Success(report); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Records: %d (complete %d, exempt %d, gaps %d)\n",
			report.Records, report.Complete, report.Exempt, len(report.Gaps))
		for _, gap := range report.Gaps {
			fmt.Fprintf(out, "  GAP  %s  %s  missing: %s\n",
				gap.RecordID, gap.RecordType, strings.Join(gap.Missing, ", "))
		}
		if len(report.UnknownTypes) > 0 {
			fmt.Fprintf(out, "Unknown record types: %s\n", strings.Join(report.UnknownTypes, ", "))
		}
		if report.PartialEntries > 0 {
			fmt.Fprintf(out, "Ignored %d partial ledger entr(ies) without a stage\n", report.PartialEntries)
		}
	}

	if !report.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("provenance incomplete: %d record(s) with gaps", len(report.Gaps)))
	}
	if opts.FailOnUnknown && len(report.UnknownTypes) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("unknown record types: %s", strings.Join(report.UnknownTypes, ", ")))
	}
	return nil
}
