package ocr

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hyperlinklaw/linkengine/internal/providers"
)

// Verification method labels recorded on each page.
const (
	MethodStandard  = "standard"
	MethodEnhanced  = "enhanced-reocr"
	MethodTextLayer = "text-layer"
)

// Gate applies the two-tier quality check to OCR output.
//
// Tier one is the confidence re-OCR: a page whose mean confidence falls
// below the threshold is enhanced and retried once, and whichever pass
// scored higher is kept. Tier two is the advisory text check against an
// external verifier; it never blocks the pipeline. Verifier outages or
// short pages fail open.
type Gate struct {
	verifier       providers.Verifier
	reocrThreshold float64
	minChars       int
	logger         *slog.Logger
}

func NewGate(verifier providers.Verifier, reocrThreshold float64, minChars int, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		verifier:       verifier,
		reocrThreshold: reocrThreshold,
		minChars:       minChars,
		logger:         logger,
	}
}

// NeedsReOCR reports whether a successful result's confidence is below the
// enhancement threshold.
func (g *Gate) NeedsReOCR(result *providers.OCRResult) bool {
	return result != nil && result.Success && result.Confidence < g.reocrThreshold
}

// Better returns the result with the higher confidence. Ties keep the
// original so reruns stay deterministic.
func Better(original, retry *providers.OCRResult) *providers.OCRResult {
	if retry == nil || !retry.Success {
		return original
	}
	if original == nil || !original.Success {
		return retry
	}
	if retry.Confidence > original.Confidence {
		return retry
	}
	return original
}

// CheckText runs the advisory verifier against extracted page text. It
// returns true when the page passes or when the check cannot run; pages
// shorter than the minimum character count are skipped, and verifier
// errors are logged at WARN and treated as a pass.
func (g *Gate) CheckText(ctx context.Context, docID string, pageNum int, text string) bool {
	if g.verifier == nil {
		return true
	}
	if len(strings.TrimSpace(text)) < g.minChars {
		return true
	}

	result, err := g.verifier.CheckText(ctx, text, pageNum)
	if err != nil {
		g.logger.Warn("text verification unavailable, continuing without it",
			"document_id", docID,
			"page", pageNum,
			"error", err)
		return true
	}
	if !result.OK {
		g.logger.Warn("page failed advisory text verification",
			"document_id", docID,
			"page", pageNum,
			"reason", result.Reason)
		return false
	}
	return true
}
