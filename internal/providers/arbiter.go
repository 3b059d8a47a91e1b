package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	arbiterDefaultModel         = "gpt-5"
	arbiterDefaultFallbackModel = "gpt-4o"
	arbiterDefaultTimeout       = 60 * time.Second

	// arbiterSeed pins sampling so identical inputs reproduce identical
	// decisions.
	arbiterSeed = 42
)

// arbiterSystemPrompt is the fixed decision contract. The service may only
// pick from the provided candidates or answer needs_review.
const arbiterSystemPrompt = `Role: Hyperlink Orchestrator (Deterministic).
Mission: Apply the provided non-LLM mapping rules exactly. Do not generate content. Do not invent pages. Your decisions must be reproducible.
Rules:
1. Only consider the candidates provided.
2. If any candidate >= min_confidence, select using this priority: highest confidence -> lowest page number -> method_order.
3. If all candidates < min_confidence, respond needs_review.
4. Output only strict JSON: {"decision":"pick","dest_page":N,"reason":"..."} or {"decision":"needs_review"}.
Prohibited: speculation, external links, references to any pages not in candidates.`

// ArbiterConfig holds configuration for the arbitration client.
type ArbiterConfig struct {
	APIKey        string
	Model         string // primary model (default "gpt-5")
	FallbackModel string // fallback after a failed first attempt (default "gpt-4o")
	Timeout       time.Duration
	BaseURL       string       // optional (tests)
	HTTPClient    *http.Client // optional (tests)
}

// OpenAIArbiter implements Arbiter using the official OpenAI SDK with
// deterministic decoding parameters on every request.
type OpenAIArbiter struct {
	model         string
	fallbackModel string
	client        openai.Client
}

// NewOpenAIArbiter creates a new arbitration client.
func NewOpenAIArbiter(cfg ArbiterConfig) *OpenAIArbiter {
	if cfg.Model == "" {
		cfg.Model = arbiterDefaultModel
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = arbiterDefaultFallbackModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = arbiterDefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// SDK-level retries are disabled; the resolver manages the
		// primary-then-fallback budget itself.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIArbiter{
		model:         cfg.Model,
		fallbackModel: cfg.FallbackModel,
		client:        openai.NewClient(opts...),
	}
}

// Decide submits the fixed-schema payload and returns the raw decision JSON.
func (a *OpenAIArbiter) Decide(ctx context.Context, payload []byte, useFallback bool) ([]byte, error) {
	model := a.model
	if useFallback {
		model = a.fallbackModel
	}

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(arbiterSystemPrompt),
			openai.UserMessage(string(payload)),
		},
		Temperature: openai.Float(0),
		TopP:        openai.Float(1),
		Seed:        openai.Int(arbiterSeed),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("arbitration call failed (model %s): %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("arbitration returned no choices (model %s)", model)
	}
	return []byte(resp.Choices[0].Message.Content), nil
}
