package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	PaddleOCRName           = "paddle-gpu"
	paddleOCRDefaultTimeout = 120 * time.Second
	paddleOCRDefaultRPS     = 8.0
)

// PaddleOCRConfig holds configuration for the GPU OCR worker client.
type PaddleOCRConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RateLimit  float64      // requests per second
	HTTPClient *http.Client // optional (tests)
}

// PaddleOCRClient implements OCRProvider against the PaddleOCR GPU worker's
// HTTP API.
type PaddleOCRClient struct {
	baseURL   string
	apiKey    string
	rateLimit float64
	client    *http.Client
}

// NewPaddleOCRClient creates a new GPU OCR worker client.
func NewPaddleOCRClient(cfg PaddleOCRConfig) *PaddleOCRClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = paddleOCRDefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = paddleOCRDefaultRPS
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &PaddleOCRClient{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		rateLimit: cfg.RateLimit,
		client:    client,
	}
}

// Name returns the provider identifier.
func (c *PaddleOCRClient) Name() string {
	return PaddleOCRName
}

// RequestsPerSecond returns the configured rate limit.
func (c *PaddleOCRClient) RequestsPerSecond() float64 {
	return c.rateLimit
}

// MaxRetries returns the maximum retry attempts.
func (c *PaddleOCRClient) MaxRetries() int {
	return 3
}

// RetryDelayBase returns the base delay for exponential backoff.
func (c *PaddleOCRClient) RetryDelayBase() time.Duration {
	return 2 * time.Second
}

type paddleOCRRequest struct {
	ImageBase64 string `json:"image_base64"`
	PageNumber  int    `json:"page_number"`
}

type paddleOCRResponse struct {
	Text            string    `json:"text"`
	WordConfidences []float64 `json:"word_confidences"`
	PageConfidence  float64   `json:"page_confidence"`
}

// ProcessImage extracts text from a page image via the GPU worker.
func (c *PaddleOCRClient) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()

	reqBody := paddleOCRRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(image),
		PageNumber:  pageNum,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OCR request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &OCRResult{
			Success:       false,
			ErrorType:     ErrorTypeTransport,
			ErrorMessage:  err.Error(),
			Provider:      c.Name(),
			ExecutionTime: time.Since(start),
		}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &OCRResult{
			Success:       false,
			ErrorType:     ErrorTypeTransport,
			ErrorMessage:  err.Error(),
			Provider:      c.Name(),
			ExecutionTime: time.Since(start),
		}, err
	}

	if resp.StatusCode != http.StatusOK {
		errType := classifyHTTPStatus(resp.StatusCode)
		return &OCRResult{
			Success:       false,
			ErrorType:     errType,
			ErrorMessage:  fmt.Sprintf("OCR worker returned %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
			Provider:      c.Name(),
			ExecutionTime: time.Since(start),
		}, fmt.Errorf("OCR worker returned %d", resp.StatusCode)
	}

	var parsed paddleOCRResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return &OCRResult{
			Success:       false,
			ErrorType:     ErrorTypeMalformed,
			ErrorMessage:  fmt.Sprintf("unparseable OCR response: %v", err),
			Provider:      c.Name(),
			ExecutionTime: time.Since(start),
		}, fmt.Errorf("unparseable OCR response: %w", err)
	}

	return &OCRResult{
		Success:         true,
		Text:            parsed.Text,
		WordConfidences: parsed.WordConfidences,
		Confidence:      parsed.PageConfidence,
		Provider:        c.Name(),
		ExecutionTime:   time.Since(start),
	}, nil
}

// classifyHTTPStatus maps HTTP status codes to the provider error taxonomy.
// Billing and permission failures select the offline fallback engine.
func classifyHTTPStatus(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusPaymentRequired:
		return ErrorTypeBilling
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	default:
		if status >= 500 {
			return ErrorTypeTransport
		}
		return ErrorTypeProvider
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
