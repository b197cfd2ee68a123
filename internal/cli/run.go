package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Inbox string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the capture agent on an inbox directory",
		Long: `Start the capture agent. Every file that appears in the inbox is
submitted as a capture job and removed once admitted. When the queue is
full, jobs spill to the overflow spool and are drained back in later;
nothing is dropped.

Producers should write to a dot-prefixed name and rename into place.
On SIGINT or SIGTERM the agent stops admitting work, finishes every
admitted job and exits.

Example:
  evledger run --inbox ./inbox
  evledger run --config ./evledger.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Inbox, "inbox", "", "directory to watch (default <data-dir>/inbox)")

	return cmd
}

func runAgent(opts *RunOptions, cmd *cobra.Command) error {
	configureLogging(opts.RootOptions, cmd.ErrOrStderr())
	f := newFormatter(opts.RootOptions, cmd)

	a, cfg, err := openAgent(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer closeAgent(a)

	inbox := opts.Inbox
	if inbox == "" {
		inbox = filepath.Join(filepath.Dir(cfg.SpoolRoot), "inbox")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	slog.Info("agent starting", "inbox", inbox, "segments", cfg.SpoolRoot)
	if !f.IsJSON() {
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s. Press Ctrl-C to stop.\n", inbox)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Run(gctx)
	})
	g.Go(func() error {
		return a.WatchInbox(gctx, inbox, cfg.DrainInterval)
	})
	if err := g.Wait(); err != nil {
		return f.Fail(ExitFailure, ErrCodeGeneric, "agent error", err)
	}

	stats := a.Stats()
	slog.Info("agent stopped gracefully", "captured", stats.Captured, "failed", stats.Failed)

	if f.IsJSON() {
		return f.Success(stats)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Captured %d, failed %d, spooled %d, overflow pending %d\n",
		stats.Captured, stats.Failed, stats.Admission.Spooled, stats.OverflowPending)
	return nil
}
