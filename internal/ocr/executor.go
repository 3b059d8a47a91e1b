package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"github.com/hyperlinklaw/linkengine/internal/pdf"
	"github.com/hyperlinklaw/linkengine/internal/progress"
	"github.com/hyperlinklaw/linkengine/internal/providers"
	"github.com/hyperlinklaw/linkengine/internal/store"
)

// retryable wraps errors that should trigger a batch retry (transport
// failures, rate limiting). Everything else fails the page immediately.
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

// Text-layer fast path: a page whose embedded text layer already carries at
// least this many characters is recorded without an OCR call, at a fixed
// high confidence since the text is digital rather than recognized.
const (
	textLayerMinChars   = 50
	textLayerConfidence = 0.99
)

// Options configures an Executor.
type Options struct {
	BatchSize       int
	MaxWorkers      int
	MaxRetries      int
	DocumentTimeout time.Duration
}

// Executor runs the OCR pipeline for a single document: it partitions the
// page space into batches, skips work already persisted, fans batches out
// to a bounded worker set, and recomputes document progress from the store
// after every batch. All state lives in the store, so a killed run resumes
// from persisted pages rather than restarting.
type Executor struct {
	store    store.Store
	provider providers.OCRProvider
	renderer pdf.Renderer
	gate     *Gate
	bus      *progress.Broadcaster
	limiter  *providers.RateLimiter
	opts     Options
	logger   *slog.Logger
}

func NewExecutor(st store.Store, provider providers.OCRProvider, renderer pdf.Renderer, gate *Gate, bus *progress.Broadcaster, opts Options, logger *slog.Logger) *Executor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.DocumentTimeout <= 0 {
		opts.DocumentTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:    st,
		provider: provider,
		renderer: renderer,
		gate:     gate,
		bus:      bus,
		limiter:  providers.NewRateLimiter(provider.RequestsPerSecond()),
		opts:     opts,
		logger:   logger,
	}
}

// ProcessDocument runs OCR for the document until every page is either
// completed or failed, then converges the document status. Rerunning it on
// a completed document is a no-op apart from store reads.
func (e *Executor) ProcessDocument(ctx context.Context, docID, pdfPath string) error {
	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", docID, err)
	}
	if doc.TotalPages <= 0 {
		return e.failDocument(ctx, doc, "document has no pages")
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.DocumentTimeout)
	defer cancel()

	if err := e.store.UpdateDocumentStatus(ctx, doc.ID, store.OCRStatusProcessing, ""); err != nil {
		return fmt.Errorf("marking document processing: %w", err)
	}
	e.publish(doc, string(store.OCRStatusProcessing), doc.PagesDone, doc.ConfidenceAvg, 0)

	ranges := PlanBatches(doc.TotalPages, e.opts.BatchSize)
	for _, r := range ranges {
		batch := &store.Batch{
			ID:         r.ID(doc.ID),
			DocumentID: doc.ID,
			StartPage:  r.Start,
			EndPage:    r.End,
			Status:     store.BatchStatusPending,
		}
		if err := e.store.UpsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("recording batch %s: %w", batch.ID, err)
		}
	}

	completed, err := e.store.CompletedPages(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("listing completed pages: %w", err)
	}
	pending := PendingRanges(ranges, completed)
	if len(completed) > 0 {
		e.logger.Info("resuming document with persisted pages",
			"document_id", doc.ID,
			"completed_pages", len(completed),
			"pending_batches", len(pending))
	}
	for _, r := range ranges {
		if !containsRange(pending, r) {
			e.markBatchDone(ctx, doc.ID, r)
		}
	}

	var failedBatches atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxWorkers)
	for _, r := range pending {
		r := r
		g.Go(func() error {
			if err := e.runBatch(gctx, doc, pdfPath, r, completed); err != nil {
				failedBatches.Add(1)
				e.logger.Error("batch failed after retries",
					"document_id", doc.ID,
					"batch", r.ID(doc.ID),
					"error", err)
			}
			e.syncProgress(gctx, doc, r.End)
			return nil
		})
	}
	_ = g.Wait()

	return e.converge(ctx, doc)
}

// runBatch processes one page range with retry. Retries rerun the whole
// range; per-page checksum dedup keeps that idempotent.
func (e *Executor) runBatch(ctx context.Context, doc *store.Document, pdfPath string, r Range, completed map[int]bool) error {
	batch := &store.Batch{
		ID:         r.ID(doc.ID),
		DocumentID: doc.ID,
		StartPage:  r.Start,
		EndPage:    r.End,
		Status:     store.BatchStatusProcessing,
	}
	if err := e.store.UpsertBatch(ctx, batch); err != nil {
		return err
	}

	err := retry.Do(
		func() error { return e.processRange(ctx, doc, pdfPath, r, completed) },
		retry.Context(ctx),
		retry.Attempts(uint(e.opts.MaxRetries)),
		retry.Delay(e.provider.RetryDelayBase()),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			var re retryable
			return errors.As(err, &re)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Warn("retrying batch",
				"document_id", doc.ID,
				"batch", batch.ID,
				"attempt", n+1,
				"error", err)
		}),
	)
	// Bookkeeping writes must land even when the run context has expired.
	bookCtx := context.WithoutCancel(ctx)
	if err != nil {
		e.failRemainingPages(bookCtx, doc.ID, r, err)
		batch.Status = store.BatchStatusFailed
	} else {
		batch.Status = store.BatchStatusCompleted
	}
	batch.PagesDone = e.countDone(bookCtx, doc.ID, r)
	if uerr := e.store.UpsertBatch(bookCtx, batch); uerr != nil {
		e.logger.Error("updating batch record", "batch", batch.ID, "error", uerr)
	}
	return err
}

func (e *Executor) processRange(ctx context.Context, doc *store.Document, pdfPath string, r Range, completed map[int]bool) error {
	for page := r.Start; page <= r.End; page++ {
		if completed[page] {
			continue
		}
		if err := e.processPage(ctx, doc, pdfPath, page); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) processPage(ctx context.Context, doc *store.Document, pdfPath string, pageNum int) error {
	img, err := e.renderer.RenderPage(ctx, pdfPath, pageNum)
	if err != nil {
		return retryable{fmt.Errorf("rendering page %d: %w", pageNum, err)}
	}
	checksum := pdf.Checksum(img)

	// Persisted result for identical input bytes is reused outright; this
	// is what makes rerunning a completed document free of provider calls.
	if existing, err := e.store.GetPage(ctx, doc.ID, pageNum); err == nil &&
		existing.Status == store.PageStatusCompleted && existing.Checksum == checksum {
		return nil
	}

	if text, ok := e.pageTextLayer(ctx, pdfPath, pageNum); ok {
		return e.store.UpsertPage(ctx, &store.PageRecord{
			DocumentID:         doc.ID,
			PageNumber:         pageNum,
			ExtractedText:      text,
			Confidence:         textLayerConfidence,
			Checksum:           checksum,
			VerificationMethod: MethodTextLayer,
			Status:             store.PageStatusCompleted,
			UpdatedAt:          time.Now(),
		})
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return retryable{err}
	}
	// Providers return a classified result alongside the error; the result's
	// taxonomy decides page fate, and only a missing result falls back to
	// the raw error.
	result, err := e.provider.ProcessImage(ctx, img, pageNum)
	if result == nil {
		if err == nil {
			err = fmt.Errorf("provider returned no result")
		}
		return retryable{fmt.Errorf("page %d: %w", pageNum, err)}
	}

	if !result.Success {
		switch result.ErrorType {
		case providers.ErrorTypeTransport, providers.ErrorTypeRateLimit:
			return retryable{fmt.Errorf("page %d: %s: %s", pageNum, result.ErrorType, result.ErrorMessage)}
		default:
			e.logger.Error("page failed OCR",
				"document_id", doc.ID,
				"page", pageNum,
				"error_type", result.ErrorType,
				"error", result.ErrorMessage)
			return e.store.UpsertPage(ctx, &store.PageRecord{
				DocumentID: doc.ID,
				PageNumber: pageNum,
				Checksum:   checksum,
				Status:     store.PageStatusFailed,
				UpdatedAt:  time.Now(),
			})
		}
	}

	method := MethodStandard
	if e.gate.NeedsReOCR(result) {
		if better := e.reOCR(ctx, doc.ID, img, pageNum, result); better != result {
			result = better
			method = MethodEnhanced
		}
	}

	e.gate.CheckText(ctx, doc.ID, pageNum, result.Text)

	return e.store.UpsertPage(ctx, &store.PageRecord{
		DocumentID:         doc.ID,
		PageNumber:         pageNum,
		ExtractedText:      result.Text,
		Confidence:         result.Confidence,
		Checksum:           checksum,
		VerificationMethod: method,
		Status:             store.PageStatusCompleted,
		UpdatedAt:          time.Now(),
	})
}

// pageTextLayer tries the document's embedded text layer for a page.
// Scanned pages come back empty; digital pages skip OCR entirely.
func (e *Executor) pageTextLayer(ctx context.Context, pdfPath string, pageNum int) (string, bool) {
	tr, ok := e.renderer.(pdf.TextReader)
	if !ok {
		return "", false
	}
	text, err := tr.PageText(ctx, pdfPath, pageNum)
	if err != nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	if len(text) < textLayerMinChars {
		return "", false
	}
	return text, true
}

// reOCR enhances the page image and retries once, returning whichever
// result scored higher.
func (e *Executor) reOCR(ctx context.Context, docID string, img []byte, pageNum int, original *providers.OCRResult) *providers.OCRResult {
	e.logger.Info("confidence below threshold, enhancing page",
		"document_id", docID,
		"page", pageNum,
		"confidence", original.Confidence)

	enhanced, err := EnhanceImage(img)
	if err != nil {
		e.logger.Warn("page enhancement failed, keeping original result",
			"document_id", docID, "page", pageNum, "error", err)
		return original
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return original
	}
	// A failed or absent retry keeps the original; Better never prefers an
	// unsuccessful result.
	second, _ := e.provider.ProcessImage(ctx, enhanced, pageNum)
	return Better(original, second)
}

// syncProgress recomputes document progress from persisted pages and
// broadcasts it. Failures here are logged, not fatal; the next batch or
// the converge step repeats the computation.
func (e *Executor) syncProgress(ctx context.Context, doc *store.Document, currentPage int) {
	agg, err := e.store.AggregateDocument(ctx, doc.ID)
	if err != nil {
		e.logger.Error("aggregating document progress", "document_id", doc.ID, "error", err)
		return
	}
	if err := e.store.UpdateDocumentProgress(ctx, doc.ID, agg.PagesDone, agg.ConfidenceAvg); err != nil {
		e.logger.Error("persisting document progress", "document_id", doc.ID, "error", err)
	}
	e.publish(doc, string(store.OCRStatusProcessing), agg.PagesDone, agg.ConfidenceAvg, currentPage)
}

// converge settles the final document status from the store: completed when
// every page succeeded, failed otherwise. Context expiry surfaces as a
// timeout failure.
func (e *Executor) converge(ctx context.Context, doc *store.Document) error {
	// The run context may be past its deadline; status writes use a fresh one.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	agg, err := e.store.AggregateDocument(finalCtx, doc.ID)
	if err != nil {
		return fmt.Errorf("final aggregation: %w", err)
	}
	if err := e.store.UpdateDocumentProgress(finalCtx, doc.ID, agg.PagesDone, agg.ConfidenceAvg); err != nil {
		return fmt.Errorf("persisting final progress: %w", err)
	}

	switch {
	case agg.PagesDone == doc.TotalPages:
		if err := e.store.UpdateDocumentStatus(finalCtx, doc.ID, store.OCRStatusCompleted, ""); err != nil {
			return err
		}
		e.publish(doc, string(store.OCRStatusCompleted), agg.PagesDone, agg.ConfidenceAvg, 0)
		e.logger.Info("document OCR completed",
			"document_id", doc.ID,
			"pages", doc.TotalPages,
			"confidence_avg", agg.ConfidenceAvg)
		return nil
	case ctx.Err() != nil:
		msg := fmt.Sprintf("timed out with %d/%d pages completed", agg.PagesDone, doc.TotalPages)
		e.failDocumentCtx(finalCtx, doc, msg, agg)
		return fmt.Errorf("document %s: %s", doc.ID, msg)
	default:
		msg := fmt.Sprintf("%d of %d pages failed", doc.TotalPages-agg.PagesDone, doc.TotalPages)
		e.failDocumentCtx(finalCtx, doc, msg, agg)
		return fmt.Errorf("document %s: %s", doc.ID, msg)
	}
}

func (e *Executor) failDocument(ctx context.Context, doc *store.Document, msg string) error {
	e.failDocumentCtx(ctx, doc, msg, &store.Aggregate{})
	return fmt.Errorf("document %s: %s", doc.ID, msg)
}

func (e *Executor) failDocumentCtx(ctx context.Context, doc *store.Document, msg string, agg *store.Aggregate) {
	if err := e.store.UpdateDocumentStatus(ctx, doc.ID, store.OCRStatusFailed, msg); err != nil {
		e.logger.Error("marking document failed", "document_id", doc.ID, "error", err)
	}
	e.publish(doc, string(store.OCRStatusFailed), agg.PagesDone, agg.ConfidenceAvg, 0)
}

// failRemainingPages records a failed page row for every page in the range
// that never reached completed, so progress math accounts for them.
func (e *Executor) failRemainingPages(ctx context.Context, docID string, r Range, cause error) {
	e.logger.Error("failing remaining pages in batch",
		"document_id", docID,
		"batch", r.ID(docID),
		"cause", cause)
	completed, err := e.store.CompletedPages(ctx, docID)
	if err != nil {
		e.logger.Error("listing pages after batch failure", "document_id", docID, "error", err)
		completed = map[int]bool{}
	}
	for page := r.Start; page <= r.End; page++ {
		if completed[page] {
			continue
		}
		rec := &store.PageRecord{
			DocumentID: docID,
			PageNumber: page,
			Status:     store.PageStatusFailed,
			UpdatedAt:  time.Now(),
		}
		if err := e.store.UpsertPage(ctx, rec); err != nil {
			e.logger.Error("recording failed page", "document_id", docID, "page", page, "error", err)
		}
	}
}

func (e *Executor) countDone(ctx context.Context, docID string, r Range) int {
	completed, err := e.store.CompletedPages(ctx, docID)
	if err != nil {
		return 0
	}
	n := 0
	for page := r.Start; page <= r.End; page++ {
		if completed[page] {
			n++
		}
	}
	return n
}

func (e *Executor) markBatchDone(ctx context.Context, docID string, r Range) {
	batch := &store.Batch{
		ID:         r.ID(docID),
		DocumentID: docID,
		StartPage:  r.Start,
		EndPage:    r.End,
		Status:     store.BatchStatusCompleted,
		PagesDone:  r.Pages(),
	}
	if err := e.store.UpsertBatch(ctx, batch); err != nil {
		e.logger.Error("updating batch record", "batch", batch.ID, "error", err)
	}
}

func (e *Executor) publish(doc *store.Document, status string, pagesDone int, confidenceAvg float64, currentPage int) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(progress.Event{
		DocumentID:    doc.ID,
		Status:        status,
		PagesDone:     pagesDone,
		TotalPages:    doc.TotalPages,
		CurrentPage:   currentPage,
		AvgConfidence: confidenceAvg,
		Timestamp:     time.Now(),
	})
}

func containsRange(ranges []Range, r Range) bool {
	for _, x := range ranges {
		if x == r {
			return true
		}
	}
	return false
}
