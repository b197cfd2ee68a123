package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/evidenceledger/internal/ir"
	"github.com/roach88/evidenceledger/internal/store"
)

// VersionInfo describes the binary and the formats it writes.
type VersionInfo struct {
	Agent         string `json:"agent"`
	SegmentFormat string `json:"segment_format"`
	SchemaVersion int64  `json:"schema_version"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print version information",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			info := currentVersion()
			if f.IsJSON() {
				return f.Success(info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evledger %s (segment format %s, schema %d)\n",
				info.Agent, info.SegmentFormat, info.SchemaVersion)
			return nil
		},
	}
}

func currentVersion() VersionInfo {
	var latest int64
	for _, m := range store.Migrations() {
		latest = max(latest, m.Version)
	}
	return VersionInfo{
		Agent:         ir.AgentVersion,
		SegmentFormat: ir.SegmentFormatVersion,
		SchemaVersion: latest,
	}
}
