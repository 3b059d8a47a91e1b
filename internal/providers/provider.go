// Package providers contains the external service clients used by the
// pipeline: OCR engines, the advisory text-quality verifier, and the
// deterministic arbitration service. Provider responses are mapped at this
// boundary into tagged result types so downstream logic never branches on
// ad hoc field presence.
package providers

import (
	"context"
	"time"
)

// OCRProvider handles image-to-text extraction for a single page.
type OCRProvider interface {
	// Name returns the provider identifier (e.g., "paddle-gpu", "tesseract").
	Name() string

	// ProcessImage extracts text from a page image.
	ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error)

	// Rate limiting properties
	RequestsPerSecond() float64
	MaxRetries() int
	RetryDelayBase() time.Duration
}

// OCRResult is the tagged outcome of an OCR call. Success carries the
// extracted text and confidences; failure carries a typed error.
type OCRResult struct {
	Success bool `json:"success"`

	// Success fields
	Text            string    `json:"text,omitempty"`
	WordConfidences []float64 `json:"word_confidences,omitempty"`
	Confidence      float64   `json:"confidence"`

	// Failure fields
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Provider      string        `json:"provider,omitempty"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
}

// Error types reported by OCR providers.
const (
	ErrorTypeTransport = "transport"  // timeouts, connection resets; retryable
	ErrorTypeMalformed = "malformed"  // provider returned an unparseable body
	ErrorTypeBilling   = "billing"    // quota/payment/permission; triggers offline fallback
	ErrorTypeRateLimit = "rate_limit" // 429; retryable after backoff
	ErrorTypeProvider  = "provider"   // provider-reported processing failure
)

// VerifyResult is the advisory outcome of a text-quality check.
type VerifyResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Verifier is the secondary text-quality check service. It inspects
// extracted text for truncation, broken sequential numbering, or anomalous
// brevity. Callers treat it as advisory and fail-open: its unavailability
// never blocks pipeline progress.
type Verifier interface {
	CheckText(ctx context.Context, text string, pageNum int) (*VerifyResult, error)
}

// Arbiter submits an ambiguous reference plus its candidates to the
// external arbitration service and returns the raw JSON decision body.
// Decoding parameters (zero temperature, fixed nucleus mass, fixed seed)
// are mandatory so identical inputs reproduce identical decisions.
type Arbiter interface {
	// Decide sends the fixed-schema request payload and returns the raw
	// decision JSON. useFallback selects the fallback model after a failed
	// first attempt.
	Decide(ctx context.Context, payload []byte, useFallback bool) ([]byte, error)
}
