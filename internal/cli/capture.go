package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/evidenceledger/internal/capture"
	"github.com/roach88/evidenceledger/internal/ir"
)

// CaptureOptions holds flags for the capture command.
type CaptureOptions struct {
	*RootOptions
	Meta     []string // key=value pairs, string values
	MetaJSON string   // JSON object merged over Meta
}

// CapturedSegment is one line of capture output.
type CapturedSegment struct {
	Source    string `json:"source"`
	SegmentID string `json:"segment_id"`
	BlobID    string `json:"blob_id"`
	TSUTC     string `json:"ts_utc"`
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CaptureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "capture [file...]",
		Short: "Capture files as durable segments",
		Long: `Capture each file (or stdin when no file or "-" is given) as one
segment. The payload goes to the blob store, the segment is written
exactly once, and its capture and segment.seal transitions are recorded
in the ledger.

Metadata is attached verbatim. Floats are rejected.

Examples:
  evledger capture frame.png --meta app=firefox --meta monitor=1
  evledger capture --meta-json '{"window":{"id":7}}' < frame.png`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(opts, args, cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Meta, "meta", "m", nil, "metadata key=value (repeatable)")
	cmd.Flags().StringVar(&opts.MetaJSON, "meta-json", "", "metadata as a JSON object")

	return cmd
}

func runCapture(opts *CaptureOptions, args []string, cmd *cobra.Command) error {
	configureLogging(opts.RootOptions, cmd.ErrOrStderr())
	f := newFormatter(opts.RootOptions, cmd)

	meta, err := parseMetadata(opts.Meta, opts.MetaJSON)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "invalid metadata", err)
	}

	if len(args) == 0 {
		args = []string{"-"}
	}

	a, _, err := openAgent(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer closeAgent(a)

	ctx, cancel := commandContext(cmd)
	defer cancel()

	results := make([]CapturedSegment, 0, len(args))
	for _, arg := range args {
		payload, err := readInput(arg, cmd.InOrStdin())
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeInput, "failed to read input", err)
		}

		job := capture.Job{Payload: payload, Metadata: meta.Clone()}
		seg, err := a.Capture(ctx, job)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeCapture, fmt.Sprintf("failed to capture %s", arg), err)
		}
		f.VerboseLog("captured %s (%d bytes)", arg, len(payload))

		results = append(results, CapturedSegment{
			Source:    arg,
			SegmentID: seg.SegmentID,
			BlobID:    seg.BlobID,
			TSUTC:     seg.TSUTC,
		})
	}

	if f.IsJSON() {
		return f.Success(map[string]any{"segments": results})
	}
	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", r.SegmentID, r.TSUTC, r.Source)
	}
	return nil
}

func readInput(arg string, stdin io.Reader) ([]byte, error) {
	if arg == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(filepath.Clean(arg))
}

// parseMetadata merges key=value pairs and a JSON object into one Object.
// JSON keys win over pairs with the same key.
func parseMetadata(pairs []string, rawJSON string) (ir.Object, error) {
	meta := ir.Object{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		meta[key] = ir.String(value)
	}

	if rawJSON == "" {
		return meta, nil
	}
	v, err := ir.ParseValue([]byte(rawJSON))
	if err != nil {
		return nil, fmt.Errorf("--meta-json: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("--meta-json: expected a JSON object")
	}
	for k, val := range obj {
		meta[k] = val
	}
	return meta, nil
}
