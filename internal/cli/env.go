package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/evidenceledger/internal/agent"
	"github.com/roach88/evidenceledger/internal/config"
)

// configureLogging installs the process-wide slog handler. Logs go to w so
// they never mix with command output.
func configureLogging(opts *RootOptions, w io.Writer) {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// loadConfig resolves the configuration from --config, or from defaults
// rooted at --data-dir.
func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.Config != "" {
		return config.Load(opts.Config)
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	return config.Default(dataDir), nil
}

// openAgent loads configuration and opens every store. The caller must
// Close the agent.
func openAgent(opts *RootOptions, f *OutputFormatter) (*agent.Agent, config.Config, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, config.Config{}, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	f.VerboseLog("segments: %s, database: %s", cfg.SpoolRoot, cfg.Database)

	a, err := agent.New(cfg, agent.Deps{Logger: slog.Default()})
	if err != nil {
		return nil, config.Config{}, f.Fail(ExitCommandError, ErrCodeOpen, "failed to open storage", err)
	}
	return a, cfg, nil
}

// closeAgent closes a and logs instead of failing the command.
func closeAgent(a *agent.Agent) {
	if err := a.Close(); err != nil {
		slog.Error("error closing metadata store", "error", err)
	}
}

// commandContext returns the command's context, cancelled on SIGINT or
// SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan) // Prevent signal handler leak
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
