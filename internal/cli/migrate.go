package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/evidenceledger/internal/store"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Baseline     int64
	BaselineName string
	Status       bool
}

// MigrateResult is the outcome of a migrate run.
type MigrateResult struct {
	BaselineRecorded bool                     `json:"baseline_recorded"`
	Applied          []int64                  `json:"applied"`
	SchemaVersion    int64                    `json:"schema_version"`
	Migrations       []store.AppliedMigration `json:"migrations"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the metadata store",
		Long: `Apply every pending schema migration, each in its own transaction.

--baseline adopts a database whose schema was created outside this tool:
it records the given version as already applied, so only later
migrations run. A baseline can only be recorded on a database with no
migration history.

Examples:
  evledger migrate
  evledger migrate --status
  evledger migrate --baseline 2 --baseline-name legacy-schema`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Baseline, "baseline", 0, "record this version as applied before migrating")
	cmd.Flags().StringVar(&opts.BaselineName, "baseline-name", "baseline", "name stored with the baseline row")
	cmd.Flags().BoolVar(&opts.Status, "status", false, "only show applied migrations")

	return cmd
}

func runMigrate(opts *MigrateOptions, cmd *cobra.Command) error {
	configureLogging(opts.RootOptions, cmd.ErrOrStderr())
	f := newFormatter(opts.RootOptions, cmd)

	if opts.Status && opts.Baseline != 0 {
		return f.Fail(ExitCommandError, ErrCodeInput, "--status and --baseline are mutually exclusive", nil)
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o750); err != nil {
		return f.Fail(ExitCommandError, ErrCodeOpen, "failed to create database directory", err)
	}

	// Unmigrated, so a baseline can be recorded before anything runs.
	st, err := store.OpenUnmigrated(cfg.Database)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeOpen, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			f.VerboseLog("error closing database: %v", closeErr)
		}
	}()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	result := MigrateResult{Applied: []int64{}}

	if opts.Baseline != 0 {
		recorded, err := st.RecordBaseline(ctx, opts.Baseline, opts.BaselineName)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeMigration, "failed to record baseline", err)
		}
		if !recorded {
			return f.Fail(ExitCommandError, ErrCodeMigration,
				fmt.Sprintf("cannot record baseline %d: database already has migration history", opts.Baseline), nil)
		}
		result.BaselineRecorded = true
	}

	if !opts.Status {
		applied, err := st.ApplyMigrations(ctx, store.Migrations())
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeMigration, "migration failed", err)
		}
		if applied != nil {
			result.Applied = applied
		}
	}

	result.Migrations, err = st.AppliedMigrations(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeMigration, "failed to read migration history", err)
	}
	result.SchemaVersion, err = st.SchemaVersion(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeMigration, "failed to read schema version", err)
	}

	if f.IsJSON() {
		return f.Success(result)
	}

	out := cmd.OutOrStdout()
	if result.BaselineRecorded {
		fmt.Fprintf(out, "Recorded baseline %d (%s)\n", opts.Baseline, opts.BaselineName)
	}
	if !opts.Status {
		fmt.Fprintf(out, "Applied %d migration(s)\n", len(result.Applied))
	}
	for _, m := range result.Migrations {
		fmt.Fprintf(out, "  %3d  %-16s  %s\n", m.Version, m.Name, m.AppliedAt)
	}
	fmt.Fprintf(out, "Schema version: %d\n", result.SchemaVersion)
	return nil
}
