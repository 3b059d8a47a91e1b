package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const verifierDefaultTimeout = 15 * time.Second

// HTTPVerifier calls the text-quality check service over HTTP.
// The caller (the verification gate) treats any error as an advisory miss,
// never as a pipeline failure.
type HTTPVerifier struct {
	baseURL string
	client  *http.Client
}

// VerifierConfig holds configuration for the text-quality service client.
type VerifierConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client // optional (tests)
}

// NewHTTPVerifier creates a text-quality check client.
func NewHTTPVerifier(cfg VerifierConfig) *HTTPVerifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = verifierDefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPVerifier{baseURL: cfg.BaseURL, client: client}
}

type verifyRequest struct {
	Text       string `json:"text"`
	PageNumber int    `json:"page_number"`
}

// CheckText asks the service whether the extracted text looks truncated,
// has broken sequential numbering, or is anomalously brief.
func (v *HTTPVerifier) CheckText(ctx context.Context, text string, pageNum int) (*VerifyResult, error) {
	body, err := json.Marshal(verifyRequest{Text: text, PageNumber: pageNum})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verify service returned %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read verify response: %w", err)
	}

	var result VerifyResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unparseable verify response: %w", err)
	}
	return &result, nil
}
