package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Repair bool
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Register durable segments the metadata store missed",
		Long: `Scan the segment store and register every segment that a crash left
unregistered. Without --repair only the records are added and the
segments are reported; with --repair their missing capture and
segment.seal ledger entries are appended too.

Corrupt segment files are reported and never modified.
Exits 1 when unindexed or corrupt segments remain.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Repair, "repair", false, "append missing ledger transitions")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	configureLogging(opts.RootOptions, cmd.ErrOrStderr())
	f := newFormatter(opts.RootOptions, cmd)

	a, _, err := openAgent(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer closeAgent(a)

	ctx, cancel := commandContext(cmd)
	defer cancel()

	report, err := a.Reconcile(ctx, opts.Repair)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to reconcile", err)
	}

	if f.IsJSON() {
		if err := f.Success(report); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Scanned %d segment(s): %d registered, %d repaired\n",
			report.Scanned, len(report.Registered), len(report.Repaired))
		for _, id := range report.Unindexed {
			fmt.Fprintf(out, "  UNINDEXED  %s\n", id)
		}
		for _, id := range report.Corrupt {
			fmt.Fprintf(out, "  CORRUPT    %s\n", id)
		}
		if len(report.Unindexed) > 0 {
			fmt.Fprintln(out, "Run with --repair to append the missing ledger transitions.")
		}
	}

	if remaining := len(report.Unindexed) + len(report.Corrupt); remaining > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d segment(s) need attention", remaining))
	}
	return nil
}
