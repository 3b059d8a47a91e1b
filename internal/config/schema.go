package config

import "time"

// Config holds linkengine configuration.
// Loaded from ./config.yaml or ~/.linkengine/config.yaml; every key can be
// overridden with a LINKENGINE_ environment variable.
type Config struct {
	Server   ServerCfg   `mapstructure:"server" yaml:"server"`
	Store    StoreCfg    `mapstructure:"store" yaml:"store"`
	OCR      OCRCfg      `mapstructure:"ocr" yaml:"ocr"`
	Verifier VerifierCfg `mapstructure:"verifier" yaml:"verifier"`
	Arbiter  ArbiterCfg  `mapstructure:"arbiter" yaml:"arbiter"`
	Pipeline PipelineCfg `mapstructure:"pipeline" yaml:"pipeline"`
	Resolver ResolverCfg `mapstructure:"resolver" yaml:"resolver"`
}

// ServerCfg configures the HTTP API server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// StoreCfg selects the persistence backend.
type StoreCfg struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`           // "memory" or "postgres"
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url"` // supports ${ENV_VAR} syntax
}

// OCRCfg configures the OCR providers.
type OCRCfg struct {
	WorkerURL        string  `mapstructure:"worker_url" yaml:"worker_url"` // PaddleOCR GPU worker
	APIKey           string  `mapstructure:"api_key" yaml:"api_key"`       // supports ${ENV_VAR} syntax
	RateLimit        float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second
	TimeoutSeconds   int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	FallbackEnabled  bool    `mapstructure:"fallback_enabled" yaml:"fallback_enabled"`
	FallbackLanguage string  `mapstructure:"fallback_language" yaml:"fallback_language"`
}

// VerifierCfg configures the advisory text-quality check service.
type VerifierCfg struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// ArbiterCfg configures the deterministic arbitration service.
type ArbiterCfg struct {
	APIKey        string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Model         string `mapstructure:"model" yaml:"model"`
	FallbackModel string `mapstructure:"fallback_model" yaml:"fallback_model"`
}

// PipelineCfg configures OCR batching and document scheduling.
type PipelineCfg struct {
	BatchSize           int     `mapstructure:"batch_size" yaml:"batch_size"`
	MaxDocuments        int     `mapstructure:"max_documents" yaml:"max_documents"`         // concurrent documents
	MaxBatchWorkers     int     `mapstructure:"max_batch_workers" yaml:"max_batch_workers"` // concurrent batches per document
	MaxBatchRetries     int     `mapstructure:"max_batch_retries" yaml:"max_batch_retries"`
	ReOCRThreshold      float64 `mapstructure:"reocr_threshold" yaml:"reocr_threshold"`   // enhance-and-retry below this
	VerifyMinChars      int     `mapstructure:"verify_min_chars" yaml:"verify_min_chars"` // text-quality check above this
	DocumentTimeoutMins int     `mapstructure:"document_timeout_mins" yaml:"document_timeout_mins"`
}

// ResolverCfg configures candidate selection and arbitration escalation.
type ResolverCfg struct {
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence"` // direct-resolve floor
	MaxCandidates int     `mapstructure:"max_candidates" yaml:"max_candidates"` // candidates sent to arbitration
	MaxIndexItems int     `mapstructure:"max_index_items" yaml:"max_index_items"`
}

// DefaultConfig returns configuration with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Store: StoreCfg{
			Backend:     "memory",
			PostgresURL: "${DATABASE_URL}",
		},
		OCR: OCRCfg{
			WorkerURL:        "http://localhost:8001",
			APIKey:           "${OCR_WORKER_API_KEY}",
			RateLimit:        8.0,
			TimeoutSeconds:   120,
			FallbackEnabled:  true,
			FallbackLanguage: "eng",
		},
		Verifier: VerifierCfg{
			BaseURL:        "http://localhost:8002",
			Enabled:        true,
			TimeoutSeconds: 15,
		},
		Arbiter: ArbiterCfg{
			APIKey:        "${OPENAI_API_KEY}",
			Model:         "gpt-5",
			FallbackModel: "gpt-4o",
		},
		Pipeline: PipelineCfg{
			BatchSize:           50,
			MaxDocuments:        2,
			MaxBatchWorkers:     8,
			MaxBatchRetries:     3,
			ReOCRThreshold:      0.7,
			VerifyMinChars:      50,
			DocumentTimeoutMins: 10,
		},
		Resolver: ResolverCfg{
			MinConfidence: 0.92,
			MaxCandidates: 3,
			MaxIndexItems: 200,
		},
	}
}

// DocumentTimeout returns the per-document wall-clock timeout.
func (p PipelineCfg) DocumentTimeout() time.Duration {
	return time.Duration(p.DocumentTimeoutMins) * time.Minute
}
