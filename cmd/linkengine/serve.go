package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperlinklaw/linkengine/internal/config"
	"github.com/hyperlinklaw/linkengine/internal/index"
	"github.com/hyperlinklaw/linkengine/internal/jobs"
	"github.com/hyperlinklaw/linkengine/internal/ocr"
	"github.com/hyperlinklaw/linkengine/internal/pdf"
	"github.com/hyperlinklaw/linkengine/internal/pipeline"
	"github.com/hyperlinklaw/linkengine/internal/progress"
	"github.com/hyperlinklaw/linkengine/internal/providers"
	"github.com/hyperlinklaw/linkengine/internal/recovery"
	"github.com/hyperlinklaw/linkengine/internal/resolve"
	"github.com/hyperlinklaw/linkengine/internal/server"
	"github.com/hyperlinklaw/linkengine/internal/store"
)

var (
	serveHost    string
	servePort    string
	serveDataDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the linkengine server",
	Long: `Start the linkengine HTTP server.

On startup the server demotes interrupted processing documents back to
queued and resubmits every queued document, so interrupted work resumes
from the pages already persisted.

Examples:
  linkengine serve                    # Start on default port 8080
  linkengine serve --port 3000        # Start on custom port
  linkengine serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		cfgMgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()
		cfg := cfgMgr.Get()

		if serveHost == "" {
			serveHost = cfg.Server.Host
		}
		if servePort == "" {
			servePort = cfg.Server.Port
		}

		dataDir := serveDataDir
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			dataDir = filepath.Join(home, ".linkengine", "documents")
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}

		st, err := openStore(cmd, cfg, logger)
		if err != nil {
			return err
		}

		provider := buildOCRProvider(cfg, logger)
		gate := ocr.NewGate(buildVerifier(cfg), cfg.Pipeline.ReOCRThreshold, cfg.Pipeline.VerifyMinChars, logger)
		bus := progress.NewBroadcaster(0, logger)

		executor := ocr.NewExecutor(st, provider, &pdf.PopplerRenderer{}, gate, bus, ocr.Options{
			BatchSize:       cfg.Pipeline.BatchSize,
			MaxWorkers:      cfg.Pipeline.MaxBatchWorkers,
			MaxRetries:      cfg.Pipeline.MaxBatchRetries,
			DocumentTimeout: cfg.Pipeline.DocumentTimeout(),
		}, logger)

		extractor := index.NewExtractor(st, index.Options{
			ScanPages: cfg.Pipeline.BatchSize,
			MaxItems:  cfg.Resolver.MaxIndexItems,
		}, logger)

		arbiter := providers.NewOpenAIArbiter(providers.ArbiterConfig{
			APIKey:        config.ResolveEnvVars(cfg.Arbiter.APIKey),
			Model:         cfg.Arbiter.Model,
			FallbackModel: cfg.Arbiter.FallbackModel,
		})
		resolver := resolve.NewResolver(st, arbiter, resolve.Options{
			MinConfidence: cfg.Resolver.MinConfidence,
			MaxCandidates: cfg.Resolver.MaxCandidates,
		}, logger)

		pl := pipeline.New(st, executor, extractor, resolver, logger)
		pool := jobs.NewPool(64, cfg.Pipeline.MaxDocuments, logger)
		resumer := recovery.NewResumer(st, pool, pl, dataDir, logger)

		srv, err := server.New(server.Config{
			Host:        serveHost,
			Port:        servePort,
			DataDir:     dataDir,
			Store:       st,
			Pool:        pool,
			Pipeline:    pl,
			Broadcaster: bus,
			Resumer:     resumer,
			Logger:      logger,
		})
		if err != nil {
			return err
		}

		return srv.Start(ctx)
	},
}

func openStore(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		url := config.ResolveEnvVars(cfg.Store.PostgresURL)
		if url == "" {
			return nil, fmt.Errorf("store backend is postgres but postgres_url is empty")
		}
		pg, err := store.NewPostgres(cmd.Context(), url)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := pg.EnsureSchema(cmd.Context()); err != nil {
			return nil, fmt.Errorf("ensuring schema: %w", err)
		}
		logger.Info("using postgres store")
		return pg, nil
	default:
		logger.Warn("using in-memory store; documents will not survive a restart")
		return store.NewMemory(), nil
	}
}

// buildOCRProvider assembles the OCR stack: the GPU worker as primary,
// wrapped with the offline engine when fallback is enabled so billing
// failures demote instead of halting.
func buildOCRProvider(cfg *config.Config, logger *slog.Logger) providers.OCRProvider {
	primary := providers.NewPaddleOCRClient(providers.PaddleOCRConfig{
		BaseURL:   cfg.OCR.WorkerURL,
		APIKey:    config.ResolveEnvVars(cfg.OCR.APIKey),
		Timeout:   time.Duration(cfg.OCR.TimeoutSeconds) * time.Second,
		RateLimit: cfg.OCR.RateLimit,
	})
	if !cfg.OCR.FallbackEnabled {
		return primary
	}
	offline := providers.NewTesseractClient(providers.TesseractConfig{
		Language: cfg.OCR.FallbackLanguage,
	})
	return providers.NewFallbackOCR(primary, offline, logger)
}

func buildVerifier(cfg *config.Config) providers.Verifier {
	if !cfg.Verifier.Enabled {
		return nil
	}
	return providers.NewHTTPVerifier(providers.VerifierConfig{
		BaseURL: cfg.Verifier.BaseURL,
		Timeout: time.Duration(cfg.Verifier.TimeoutSeconds) * time.Second,
	})
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "Directory for uploaded PDFs (default ~/.linkengine/documents)")

	rootCmd.AddCommand(serveCmd)
}
