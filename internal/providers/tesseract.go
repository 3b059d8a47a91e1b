package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
)

const TesseractName = "tesseract"

// TesseractClient implements OCRProvider using a local Tesseract engine via
// gosseract. It is the offline fallback selected when the primary provider
// fails with a billing or permission error. Slower and less accurate than
// the GPU worker, so its reported confidence is scaled down.
type TesseractClient struct {
	language string
}

// TesseractConfig holds configuration for the offline engine.
type TesseractConfig struct {
	Language string // default "eng"
}

// NewTesseractClient creates an offline OCR client.
func NewTesseractClient(cfg TesseractConfig) *TesseractClient {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	return &TesseractClient{language: cfg.Language}
}

// Name returns the provider identifier.
func (c *TesseractClient) Name() string {
	return TesseractName
}

// RequestsPerSecond returns the local processing rate limit.
func (c *TesseractClient) RequestsPerSecond() float64 {
	return 4.0
}

// MaxRetries returns the maximum retry attempts. Local failures are
// deterministic, so one retry is enough.
func (c *TesseractClient) MaxRetries() int {
	return 1
}

// RetryDelayBase returns the base delay for retry backoff.
func (c *TesseractClient) RetryDelayBase() time.Duration {
	return time.Second
}

// ProcessImage runs Tesseract over the page image.
func (c *TesseractClient) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(c.language); err != nil {
		return failedResult(c.Name(), start, fmt.Errorf("failed to set language: %w", err))
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return failedResult(c.Name(), start, fmt.Errorf("failed to load image: %w", err))
	}

	text, err := client.Text()
	if err != nil {
		return failedResult(c.Name(), start, fmt.Errorf("tesseract failed on page %d: %w", pageNum, err))
	}

	words, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		// Text extraction succeeded; fall back to a flat confidence.
		words = nil
	}

	confidences := make([]float64, 0, len(words))
	var sum float64
	for _, w := range words {
		conf := w.Confidence / 100.0
		confidences = append(confidences, conf)
		sum += conf
	}

	pageConf := 0.5
	if len(confidences) > 0 {
		pageConf = sum / float64(len(confidences))
	}

	return &OCRResult{
		Success:         true,
		Text:            strings.TrimSpace(text),
		WordConfidences: confidences,
		Confidence:      pageConf,
		Provider:        c.Name(),
		ExecutionTime:   time.Since(start),
	}, nil
}

func failedResult(provider string, start time.Time, err error) (*OCRResult, error) {
	return &OCRResult{
		Success:       false,
		ErrorType:     ErrorTypeProvider,
		ErrorMessage:  err.Error(),
		Provider:      provider,
		ExecutionTime: time.Since(start),
	}, err
}
