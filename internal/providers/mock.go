package providers

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockOCR is a configurable OCR provider for tests. It records every call
// so tests can assert that checksum dedup skipped provider work.
type MockOCR struct {
	mu sync.Mutex

	// Results maps page number to the result to return. Pages without an
	// entry get a generic success.
	Results map[int]*OCRResult

	// DefaultConfidence is used for pages without an explicit result.
	DefaultConfidence float64

	// Err, if set, is returned for every call.
	Err error

	// Delay simulates provider latency.
	Delay time.Duration

	calls []int
}

// NewMockOCR creates a mock provider returning confident text for any page.
func NewMockOCR() *MockOCR {
	return &MockOCR{
		Results:           make(map[int]*OCRResult),
		DefaultConfidence: 0.95,
	}
}

func (m *MockOCR) Name() string                  { return "mock-ocr" }
func (m *MockOCR) RequestsPerSecond() float64    { return 1000 }
func (m *MockOCR) MaxRetries() int               { return 3 }
func (m *MockOCR) RetryDelayBase() time.Duration { return time.Millisecond }

// Calls returns the page numbers processed, in call order.
func (m *MockOCR) Calls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the total number of ProcessImage invocations.
func (m *MockOCR) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockOCR) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, pageNum)
	err := m.Err
	result := m.Results[pageNum]
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	if err != nil {
		return &OCRResult{
			Success:      false,
			ErrorType:    ErrorTypeTransport,
			ErrorMessage: err.Error(),
			Provider:     m.Name(),
		}, err
	}

	if result != nil {
		cp := *result
		cp.Provider = m.Name()
		return &cp, nil
	}

	return &OCRResult{
		Success:    true,
		Text:       fmt.Sprintf("mock text for page %d", pageNum),
		Confidence: m.DefaultConfidence,
		Provider:   m.Name(),
	}, nil
}

// MockVerifier is a scripted text-quality check for tests.
type MockVerifier struct {
	mu sync.Mutex

	Result *VerifyResult
	Err    error

	calls int
}

func (m *MockVerifier) CheckText(_ context.Context, text string, pageNum int) (*VerifyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result != nil {
		return m.Result, nil
	}
	return &VerifyResult{OK: true}, nil
}

// CallCount returns the number of CheckText invocations.
func (m *MockVerifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockArbiter returns scripted decision bodies for tests. Responses are
// returned in order; the last response repeats. Distinguishes primary and
// fallback calls so tests can assert the retry path.
type MockArbiter struct {
	mu sync.Mutex

	Responses         []string
	FallbackResponses []string
	Err               error
	FallbackErr       error

	primaryCalls  int
	fallbackCalls int
	payloads      [][]byte
}

func (m *MockArbiter) Decide(_ context.Context, payload []byte, useFallback bool) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.payloads = append(m.payloads, cp)

	if useFallback {
		m.fallbackCalls++
		if m.FallbackErr != nil {
			return nil, m.FallbackErr
		}
		return []byte(pick(m.FallbackResponses, m.fallbackCalls-1)), nil
	}

	m.primaryCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	return []byte(pick(m.Responses, m.primaryCalls-1)), nil
}

// PrimaryCalls returns the number of primary-model calls.
func (m *MockArbiter) PrimaryCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.primaryCalls
}

// FallbackCalls returns the number of fallback-model calls.
func (m *MockArbiter) FallbackCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallbackCalls
}

// Payloads returns the request payloads received, in order.
func (m *MockArbiter) Payloads() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.payloads))
	copy(out, m.payloads)
	return out
}

func pick(responses []string, i int) string {
	if len(responses) == 0 {
		return `{"decision":"needs_review"}`
	}
	if i >= len(responses) {
		i = len(responses) - 1
	}
	return responses[i]
}
