// Package pipeline chains the per-document stages: OCR batching, index
// detection, and link resolution. Each stage persists through the store,
// so a rerun after a crash picks up from whatever the previous run
// completed.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/hyperlinklaw/linkengine/internal/index"
	"github.com/hyperlinklaw/linkengine/internal/ocr"
	"github.com/hyperlinklaw/linkengine/internal/resolve"
	"github.com/hyperlinklaw/linkengine/internal/store"
)

// DocumentPath is the canonical on-disk location for a document's PDF.
// Uploads are saved here and recovery rebuilds the same path from the
// document ID alone.
func DocumentPath(dataDir, docID string) string {
	return filepath.Join(dataDir, docID+".pdf")
}

// Pipeline runs a document end to end.
type Pipeline struct {
	store     store.Store
	executor  *ocr.Executor
	extractor *index.Extractor
	resolver  *resolve.Resolver
	logger    *slog.Logger
}

func New(st store.Store, executor *ocr.Executor, extractor *index.Extractor, resolver *resolve.Resolver, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     st,
		executor:  executor,
		extractor: extractor,
		resolver:  resolver,
		logger:    logger,
	}
}

// Run processes one document. OCR failure stops the chain; the document is
// already marked failed by the executor. Index and resolution stages only
// run over completed OCR output.
func (p *Pipeline) Run(ctx context.Context, docID, pdfPath string) error {
	if err := p.executor.ProcessDocument(ctx, docID, pdfPath); err != nil {
		return fmt.Errorf("ocr stage: %w", err)
	}

	items, err := p.extractor.Extract(ctx, docID)
	if err != nil {
		return fmt.Errorf("index stage: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	if _, err := p.resolver.ResolveDocument(ctx, docID); err != nil {
		return fmt.Errorf("resolution stage: %w", err)
	}
	return nil
}

// DocumentJob adapts a pipeline run to the job pool.
type DocumentJob struct {
	DocID    string
	PDFPath  string
	Pipeline *Pipeline
}

func (j *DocumentJob) Key() string { return j.DocID }

func (j *DocumentJob) Execute(ctx context.Context) error {
	return j.Pipeline.Run(ctx, j.DocID, j.PDFPath)
}
