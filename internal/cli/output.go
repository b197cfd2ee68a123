package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/evidenceledger/internal/config"
	"github.com/roach88/evidenceledger/internal/spool"
	"github.com/roach88/evidenceledger/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Check failure (provenance gaps, unrepaired segments, etc.)
	ExitCommandError = 2 // Command error (bad config, unreadable input, store failures)
)

// Error codes reported in JSON error responses. Segment store failures use
// their own SPOOL_* codes.
const (
	ErrCodeGeneric   = "E001" // Generic/unknown error
	ErrCodeConfig    = "E002" // Config file invalid or unreadable
	ErrCodeOpen      = "E003" // Storage could not be opened
	ErrCodeInput     = "E004" // Bad input file or argument
	ErrCodeCapture   = "E005" // Capture failed
	ErrCodeLedger    = "E006" // Ledger or record write failed
	ErrCodeMigration = "E007" // Schema migration failed
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// newFormatter builds the formatter every command writes through.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "SPOOL_COLLISION", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// IsJSON reports whether output should be JSON.
func (f *OutputFormatter) IsJSON() bool {
	return f.Format == "json"
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.IsJSON() {
		encoder := json.NewEncoder(f.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.IsJSON() {
		encoder := json.NewEncoder(f.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns it as an ExitError.
//
// In JSON mode the error goes to the output stream as a CLIResponse so
// scripts always get a parsable document. In text mode nothing is written;
// main prints the returned error to stderr.
func (f *OutputFormatter) Fail(exitCode int, code, message string, err error) error {
	if f.IsJSON() {
		msg := message
		if err != nil {
			msg = fmt.Sprintf("%s: %v", message, err)
		}
		_ = f.Error(errorCode(err, code), msg, errorDetails(err))
	}
	if err == nil {
		return NewExitError(exitCode, message)
	}
	return WrapExitError(exitCode, message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// errorCode prefers the typed code carried by err over fallback.
func errorCode(err error, fallback string) string {
	var spoolErr *spool.Error
	if errors.As(err, &spoolErr) {
		return string(spoolErr.Code)
	}
	if store.IsMigrationError(err) {
		return ErrCodeMigration
	}
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		return ErrCodeConfig
	}
	return fallback
}

// errorDetails exposes structured context for typed errors.
func errorDetails(err error) any {
	var spoolErr *spool.Error
	if errors.As(err, &spoolErr) {
		return map[string]string{
			"segment_id": spoolErr.SegmentID,
			"path":       spoolErr.Path,
		}
	}
	var migErr *store.MigrationError
	if errors.As(err, &migErr) {
		return map[string]any{
			"version": migErr.Version,
			"name":    migErr.Name,
		}
	}
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		return map[string]string{"field": cfgErr.Field}
	}
	return nil
}
