package providers

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FallbackOCR wraps a primary OCR provider with an offline fallback engine.
// When the primary fails with a billing or permission error the fallback is
// selected for the rest of the process lifetime; transient errors stay with
// the primary so normal retry handling applies.
type FallbackOCR struct {
	primary  OCRProvider
	fallback OCRProvider
	logger   *slog.Logger

	mu      sync.RWMutex
	demoted bool
}

// NewFallbackOCR creates a provider that prefers primary and demotes to
// fallback on billing/permission failures.
func NewFallbackOCR(primary, fallback OCRProvider, logger *slog.Logger) *FallbackOCR {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackOCR{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// Name returns the currently active provider's identifier.
func (f *FallbackOCR) Name() string {
	return f.active().Name()
}

// RequestsPerSecond returns the active provider's rate limit.
func (f *FallbackOCR) RequestsPerSecond() float64 {
	return f.active().RequestsPerSecond()
}

// MaxRetries returns the active provider's retry budget.
func (f *FallbackOCR) MaxRetries() int {
	return f.active().MaxRetries()
}

// RetryDelayBase returns the active provider's backoff base.
func (f *FallbackOCR) RetryDelayBase() time.Duration {
	return f.active().RetryDelayBase()
}

// Demoted reports whether the offline fallback is active.
func (f *FallbackOCR) Demoted() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.demoted
}

func (f *FallbackOCR) active() OCRProvider {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.demoted {
		return f.fallback
	}
	return f.primary
}

// ProcessImage runs OCR on the active provider, demoting to the fallback
// engine if the primary reports a billing/permission failure.
func (f *FallbackOCR) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	result, err := f.active().ProcessImage(ctx, image, pageNum)

	if result != nil && !result.Success && result.ErrorType == ErrorTypeBilling && !f.Demoted() {
		f.mu.Lock()
		f.demoted = true
		f.mu.Unlock()
		f.logger.Warn("primary OCR provider demoted, switching to offline engine",
			"primary", f.primary.Name(),
			"fallback", f.fallback.Name(),
			"error", result.ErrorMessage,
		)
		return f.fallback.ProcessImage(ctx, image, pageNum)
	}

	return result, err
}
