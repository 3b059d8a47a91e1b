// Package recovery resumes interrupted work on startup. It is what makes
// a crashed or restarted server converge instead of stranding documents in
// processing forever.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperlinklaw/linkengine/internal/jobs"
	"github.com/hyperlinklaw/linkengine/internal/pipeline"
	"github.com/hyperlinklaw/linkengine/internal/store"
)

// Resumer scans the store for unfinished documents and resubmits them.
type Resumer struct {
	store    store.Store
	pool     *jobs.Pool
	pipeline *pipeline.Pipeline
	dataDir  string
	logger   *slog.Logger
}

func NewResumer(st store.Store, pool *jobs.Pool, pl *pipeline.Pipeline, dataDir string, logger *slog.Logger) *Resumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resumer{
		store:    st,
		pool:     pool,
		pipeline: pl,
		dataDir:  dataDir,
		logger:   logger,
	}
}

// Resume demotes every processing document back to queued and resubmits
// every queued document. Nothing can be in flight at process start, so a
// processing row is always an interrupted run regardless of when it began.
// Failures are isolated per document: one document that cannot be demoted
// or submitted never blocks the rest. It returns the number of documents
// resubmitted.
func (r *Resumer) Resume(ctx context.Context) (int, error) {
	if err := r.demoteInterrupted(ctx); err != nil {
		return 0, err
	}

	queued, err := r.store.ListDocumentsByStatus(ctx, store.OCRStatusQueued)
	if err != nil {
		return 0, fmt.Errorf("listing queued documents: %w", err)
	}

	resumed := 0
	for _, doc := range queued {
		job := &pipeline.DocumentJob{
			DocID:    doc.ID,
			PDFPath:  pipeline.DocumentPath(r.dataDir, doc.ID),
			Pipeline: r.pipeline,
		}
		if err := r.pool.Submit(job); err != nil {
			r.logger.Error("resubmitting document", "document_id", doc.ID, "error", err)
			continue
		}
		r.logger.Info("document resubmitted",
			"document_id", doc.ID,
			"pages_done", doc.PagesDone,
			"total_pages", doc.TotalPages)
		resumed++
	}
	return resumed, nil
}

// demoteInterrupted moves every processing document back to queued so the
// resubmission pass below picks it up. Persisted page results keep the
// rerun cheap.
func (r *Resumer) demoteInterrupted(ctx context.Context) error {
	processing, err := r.store.ListDocumentsByStatus(ctx, store.OCRStatusProcessing)
	if err != nil {
		return fmt.Errorf("listing processing documents: %w", err)
	}

	for _, doc := range processing {
		if err := r.store.UpdateDocumentStatus(ctx, doc.ID, store.OCRStatusQueued, ""); err != nil {
			r.logger.Error("demoting interrupted document", "document_id", doc.ID, "error", err)
			continue
		}
		r.logger.Warn("interrupted processing document demoted to queued",
			"document_id", doc.ID,
			"started_at", doc.StartedAt,
			"pages_done", doc.PagesDone)
	}
	return nil
}
