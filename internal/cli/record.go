package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/evidenceledger/internal/ir"
	"github.com/roach88/evidenceledger/internal/provenance"
)

// RecordOptions holds flags for the record subcommands.
type RecordOptions struct {
	*RootOptions
	Type string
}

// NewRecordCommand creates the record command group.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Register and list evidence records",
	}
	cmd.AddCommand(newRecordPutCommand(rootOpts))
	cmd.AddCommand(newRecordListCommand(rootOpts))
	return cmd
}

func newRecordPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put --type <record-type> <record-id>",
		Short: "Register a record so audit checks its provenance",
		Long: `Register a record id with its type. The first registration wins;
registering the same id again is a no-op.

Types outside the provenance table are accepted and reported by audit as
unknown.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordPut(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "record type (required)")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runRecordPut(opts *RecordOptions, id string, cmd *cobra.Command) error {
	configureLogging(opts.RootOptions, cmd.ErrOrStderr())
	f := newFormatter(opts.RootOptions, cmd)

	a, _, err := openAgent(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer closeAgent(a)

	ctx, cancel := commandContext(cmd)
	defer cancel()

	rec := ir.Record{ID: id, RecordType: opts.Type}
	inserted, err := a.Store().PutRecord(ctx, rec)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeLedger, "failed to register record", err)
	}
	coverage := provenance.Classify(opts.Type)
	if coverage == provenance.CoverageUnknown {
		f.VerboseLog("record type %q has no provenance rule", opts.Type)
	}

	if f.IsJSON() {
		return f.Success(map[string]any{
			"record":   rec,
			"inserted": inserted,
			"coverage": coverage.String(),
		})
	}
	state := "registered"
	if !inserted {
		state = "already registered"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, %s)\n", id, state, opts.Type, coverage)
	return nil
}

func newRecordListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List registered records",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordList(rootOpts, cmd)
		},
	}
}

func runRecordList(opts *RootOptions, cmd *cobra.Command) error {
	configureLogging(opts, cmd.ErrOrStderr())
	f := newFormatter(opts, cmd)

	a, _, err := openAgent(opts, f)
	if err != nil {
		return err
	}
	defer closeAgent(a)

	ctx, cancel := commandContext(cmd)
	defer cancel()

	records, err := a.Store().ReadRecords(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeLedger, "failed to read records", err)
	}

	if f.IsJSON() {
		return f.Success(map[string]any{"records": records})
	}
	for _, r := range records {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", r.ID, r.RecordType)
	}
	return nil
}
