package reliability

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian/newsgraph/internal/docstore"
	"github.com/meridian/newsgraph/internal/domain"
	"github.com/meridian/newsgraph/internal/events"
	"github.com/meridian/newsgraph/internal/graph"
	"github.com/meridian/newsgraph/internal/vector"
)

// reconcileLookback bounds how far back one reconciliation pass scans
const reconcileLookback = 7 * 24 * time.Hour

// ReconcileReport summarizes one reconciliation pass
type ReconcileReport struct {
	FilesScanned int      `json:"files_scanned"`
	OrphanFiles  []string `json:"orphan_files"`  // canonical file without graph node
	OrphanChunks []string `json:"orphan_chunks"` // graph node without vector chunks
	Repaired     int      `json:"repaired"`
}

// Reconciler re-derives store consistency from the canonical file store.
// Failed best-effort compensations leave orphans; this is the contract
// that finds and repairs them. The canonical store is truth.
type Reconciler struct {
	files   *docstore.Store
	graph   *graph.Store
	vectors *vector.Index
	bus     *events.Bus
	repair  bool
	log     zerolog.Logger
}

// NewReconciler creates the reconciliation service. With repair enabled,
// orphaned canonical files are removed (the ingest that wrote them failed
// after the point of no return and rolled back incompletely).
func NewReconciler(files *docstore.Store, g *graph.Store, v *vector.Index, bus *events.Bus, repair bool, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		files:   files,
		graph:   g,
		vectors: v,
		bus:     bus,
		repair:  repair,
		log:     log.With().Str("service", "reconciler").Logger(),
	}
}

// Run scans every group partition within the lookback window
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	start := time.Now()
	r.bus.Publish(events.ReconciliationStarted, nil)
	report := &ReconcileReport{}

	groups, err := r.files.Groups()
	if err != nil {
		return nil, err
	}
	from := time.Now().Add(-reconcileLookback)
	to := time.Now()

	for _, groupID := range groups {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var iterErr error
		err := r.files.Iter(groupID, from, to, func(doc *domain.Document) bool {
			report.FilesScanned++
			if err := r.checkDocument(ctx, doc, report); err != nil {
				iterErr = err
				return false
			}
			return true
		})
		if err != nil {
			return report, err
		}
		if iterErr != nil {
			return report, iterErr
		}
	}

	r.log.Info().
		Int("files_scanned", report.FilesScanned).
		Int("orphan_files", len(report.OrphanFiles)).
		Int("orphan_chunks", len(report.OrphanChunks)).
		Int("repaired", report.Repaired).
		Msg("Reconciliation pass complete")
	r.bus.Publish(events.ReconciliationDone, &events.ReconciliationDoneData{
		FilesScanned:   report.FilesScanned,
		OrphanFiles:    len(report.OrphanFiles),
		OrphanChunks:   len(report.OrphanChunks),
		RepairedTotal:  report.Repaired,
		DurationMillis: int(time.Since(start).Milliseconds()),
	})
	return report, nil
}

// reconcileGrace skips documents young enough to still be mid-pipeline
const reconcileGrace = 10 * time.Minute

func (r *Reconciler) checkDocument(ctx context.Context, doc *domain.Document, report *ReconcileReport) error {
	if time.Since(doc.CreatedAt) < reconcileGrace {
		return nil
	}
	inGraph, err := r.graph.HasDocument(ctx, doc.DocumentID)
	if err != nil {
		return err
	}
	if !inGraph {
		// Canonical file without a graph node: a failed WRITE_GRAPH whose
		// compensation did not finish.
		report.OrphanFiles = append(report.OrphanFiles, doc.DocumentID)
		r.log.Warn().Str("document_id", doc.DocumentID).Msg("Orphan canonical file found")
		if r.repair {
			if err := r.files.Remove(doc.DocumentID, doc.GroupID, doc.CreatedAt); err != nil {
				return err
			}
			if err := r.vectors.Delete(ctx, doc.DocumentID); err != nil {
				return err
			}
			report.Repaired++
		}
		return nil
	}

	inVectors, err := r.vectors.HasDocument(ctx, doc.DocumentID)
	if err != nil {
		return err
	}
	if !inVectors {
		// Graph node without chunks: a failed WRITE_VECTOR. The document
		// is real; it just lost semantic retrieval. Flag only - the
		// repair needs fresh embeddings, which reconciliation does not
		// spend provider budget on.
		report.OrphanChunks = append(report.OrphanChunks, doc.DocumentID)
		r.log.Warn().Str("document_id", doc.DocumentID).Msg("Document missing vector chunks")
	}
	return nil
}
