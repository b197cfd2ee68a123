package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/evidenceledger/internal/ir"
)

// LedgerOptions holds flags for the ledger subcommands.
type LedgerOptions struct {
	*RootOptions
	Stage  string
	Record string
}

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Append to and inspect the provenance ledger",
	}
	cmd.AddCommand(newLedgerAppendCommand(rootOpts))
	cmd.AddCommand(newLedgerShowCommand(rootOpts))
	return cmd
}

func newLedgerAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append --stage <stage> <record-id>...",
		Short: "Record a stage transition for one or more records",
		Long: `Append a ledger entry stating that the given records passed through
a processing stage. Derivation pipelines use this to prove their work,
for example:

  evledger ledger append --stage derived.input <record-id>`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerAppend(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stage, "stage", "", "stage name (required)")
	_ = cmd.MarkFlagRequired("stage")

	return cmd
}

func runLedgerAppend(opts *LedgerOptions, outputs []string, cmd *cobra.Command) error {
	configureLogging(opts.RootOptions, cmd.ErrOrStderr())
	f := newFormatter(opts.RootOptions, cmd)

	a, _, err := openAgent(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer closeAgent(a)

	ctx, cancel := commandContext(cmd)
	defer cancel()

	entry, err := a.Store().AppendLedger(ctx, opts.Stage, outputs)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeLedger, "failed to append ledger entry", err)
	}

	if f.IsJSON() {
		return f.Success(entry)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d  %s  %s  %s\n",
		entry.Seq, entry.ID, entry.Stage, strings.Join(entry.Outputs, ","))
	return nil
}

func newLedgerShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "show",
		Short:         "Print ledger entries in ledger order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerShow(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Record, "record", "", "only entries that output this record id")

	return cmd
}

func runLedgerShow(opts *LedgerOptions, cmd *cobra.Command) error {
	configureLogging(opts.RootOptions, cmd.ErrOrStderr())
	f := newFormatter(opts.RootOptions, cmd)

	a, _, err := openAgent(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer closeAgent(a)

	ctx, cancel := commandContext(cmd)
	defer cancel()

	entries, err := a.Store().ReadLedger(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeLedger, "failed to read ledger", err)
	}
	if opts.Record != "" {
		entries = slices.DeleteFunc(entries, func(e ir.LedgerEntry) bool {
			return !slices.Contains(e.Outputs, opts.Record)
		})
	}

	if f.IsJSON() {
		return f.Success(map[string]any{"entries": entries})
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No ledger entries.")
		return nil
	}
	for _, e := range entries {
		stage := e.Stage
		if e.Partial() {
			stage = "(partial)"
		}
		fmt.Fprintf(out, "%4d  %s  %-22s  %s\n", e.Seq, e.TSUTC, stage, strings.Join(e.Outputs, ","))
	}
	return nil
}
