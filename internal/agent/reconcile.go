package agent

import (
	"context"
	"fmt"

	"github.com/roach88/evidenceledger/internal/spool"
)

// ReconcileReport summarizes a scan of the segment store against the
// metadata store.
type ReconcileReport struct {
	Scanned    int      `json:"scanned"`
	Registered []string `json:"registered"`
	Repaired   []string `json:"repaired"`
	Unindexed  []string `json:"unindexed"`
	Corrupt    []string `json:"corrupt"`
}

// Reconcile walks every durable segment and closes gaps left by crashes
// between the segment write and its registration.
//
// Missing records are always registered. With repair, missing capture and
// segment.seal ledger transitions are appended and the segment is indexed;
// without it, such segments are listed as Unindexed. Corrupt segment files
// are reported and left untouched.
func (a *Agent) Reconcile(ctx context.Context, repair bool) (ReconcileReport, error) {
	ids, err := a.segments.List()
	if err != nil {
		return ReconcileReport{}, err
	}

	report := ReconcileReport{
		Scanned:    len(ids),
		Registered: []string{},
		Repaired:   []string{},
		Unindexed:  []string{},
		Corrupt:    []string{},
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		indexed, err := a.meta.SegmentIndexed(ctx, id)
		if err != nil {
			return report, err
		}
		if indexed {
			continue
		}

		seg, err := a.segments.Get(id)
		if spool.IsCorrupt(err) {
			a.logger.Error("corrupt segment found during reconcile", "segment_id", id, "error", err)
			report.Corrupt = append(report.Corrupt, id)
			continue
		}
		if err != nil {
			return report, err
		}

		inserted, err := a.meta.PutRecord(ctx, segmentRecord(id))
		if err != nil {
			return report, err
		}
		if inserted {
			report.Registered = append(report.Registered, id)
		}

		if !repair {
			report.Unindexed = append(report.Unindexed, id)
			continue
		}

		if err := a.appendMissingStages(ctx, id); err != nil {
			return report, fmt.Errorf("reconcile: %w", err)
		}
		if err := a.meta.IndexSegment(ctx, seg); err != nil {
			return report, err
		}
		report.Repaired = append(report.Repaired, id)
	}

	a.logger.Info("reconcile finished",
		"scanned", report.Scanned,
		"registered", len(report.Registered),
		"repaired", len(report.Repaired),
		"corrupt", len(report.Corrupt))
	return report, nil
}
