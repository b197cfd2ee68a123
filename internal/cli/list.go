package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/evidenceledger/internal/spool"
)

// Segment states reported by list.
const (
	SegmentIndexed   = "indexed"
	SegmentUnindexed = "unindexed"
	SegmentCorrupt   = "corrupt"
)

// ListedSegment is one segment in list output.
type ListedSegment struct {
	SegmentID string `json:"segment_id"`
	TSUTC     string `json:"ts_utc,omitempty"`
	BlobID    string `json:"blob_id,omitempty"`
	State     string `json:"state"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored segments",
		Long: `List every segment in the segment store with its registration state:
indexed (fully registered), unindexed (durable but not yet registered,
see reconcile) or corrupt.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
	return cmd
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	configureLogging(opts, cmd.ErrOrStderr())
	f := newFormatter(opts, cmd)

	a, _, err := openAgent(opts, f)
	if err != nil {
		return err
	}
	defer closeAgent(a)

	ctx, cancel := commandContext(cmd)
	defer cancel()

	ids, err := a.Segments().List()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeOpen, "failed to list segments", err)
	}

	segments := make([]ListedSegment, 0, len(ids))
	for _, id := range ids {
		seg, err := a.Segments().Get(id)
		if spool.IsCorrupt(err) {
			segments = append(segments, ListedSegment{SegmentID: id, State: SegmentCorrupt})
			continue
		}
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to read segment", err)
		}

		indexed, err := a.Store().SegmentIndexed(ctx, id)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to query segment index", err)
		}
		state := SegmentUnindexed
		if indexed {
			state = SegmentIndexed
		}
		segments = append(segments, ListedSegment{
			SegmentID: seg.SegmentID,
			TSUTC:     seg.TSUTC,
			BlobID:    seg.BlobID,
			State:     state,
		})
	}

	if f.IsJSON() {
		return f.Success(map[string]any{
			"count":    len(segments),
			"segments": segments,
		})
	}

	out := cmd.OutOrStdout()
	if len(segments) == 0 {
		fmt.Fprintln(out, "No segments stored.")
		return nil
	}
	for _, s := range segments {
		fmt.Fprintf(out, "%s  %-24s  %s\n", s.SegmentID, s.TSUTC, s.State)
	}
	fmt.Fprintf(out, "\n%d segment(s)\n", len(segments))
	return nil
}
