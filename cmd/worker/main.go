// Package main provides the entry point for the Kafka-driven aggregation worker.
// It consumes aggregation requests from Kafka instead of serving the REST API;
// both intakes share the same job store so either process can report status.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-aggregation-service/internal/analysis"
	"github.com/helixir/paper-aggregation-service/internal/config"
	"github.com/helixir/paper-aggregation-service/internal/database"
	"github.com/helixir/paper-aggregation-service/internal/domain"
	"github.com/helixir/paper-aggregation-service/internal/enrich"
	"github.com/helixir/paper-aggregation-service/internal/jobs"
	"github.com/helixir/paper-aggregation-service/internal/observability"
	"github.com/helixir/paper-aggregation-service/internal/papersources"
	"github.com/helixir/paper-aggregation-service/internal/papersources/arxiv"
	"github.com/helixir/paper-aggregation-service/internal/papersources/crossref"
	"github.com/helixir/paper-aggregation-service/internal/papersources/openalex"
	"github.com/helixir/paper-aggregation-service/internal/papersources/pubmed"
	"github.com/helixir/paper-aggregation-service/internal/papersources/semanticscholar"
	"github.com/helixir/paper-aggregation-service/internal/pdf"
	"github.com/helixir/paper-aggregation-service/internal/repository"
	"github.com/helixir/paper-aggregation-service/internal/retry"
	"github.com/helixir/paper-aggregation-service/internal/search"
	"github.com/helixir/paper-aggregation-service/internal/storage"
	"github.com/helixir/paper-aggregation-service/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("kafka must be enabled for the worker")
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("paper-aggregation-service worker starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Create repositories.
	jobRepo := repository.NewPgJobRepository(db)

	// Create paper source registry and register enabled sources.
	registry := papersources.NewRegistry()
	registerPaperSources(registry, cfg, logger)

	// Create durable PDF storage.
	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}

	// Create metrics.
	metrics := observability.NewMetrics("paper_aggregation")

	// Build the aggregation pipeline.
	orchestrator := buildOrchestrator(cfg, registry, store, metrics, logger)
	analyzer := analysis.NewCorpusAnalyzer()

	// Create the job lifecycle manager.
	manager := jobs.NewManager(jobRepo, orchestrator, analyzer, store, jobs.Config{
		MaxConcurrent:  cfg.Jobs.MaxConcurrent,
		QueueSize:      cfg.Jobs.QueueSize,
		RecoveryPolicy: cfg.Jobs.RecoveryPolicy,
	}, metrics, logger)

	// Publish terminal job events to Kafka if a result topic is configured.
	if cfg.Kafka.ResultTopic != "" {
		emitter := tasks.NewEmitter(tasks.EmitterConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.ResultTopic,
		}, logger)
		defer func() {
			if closeErr := emitter.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close result emitter")
			}
		}()
		manager.SetNotifier(emitter)
		logger.Info().Str("topic", cfg.Kafka.ResultTopic).Msg("result emitter started")
	}

	// Recover jobs left over from a previous process, then start the workers.
	if err := manager.Recover(ctx); err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	manager.Start(ctx)

	// Create the request listener.
	listener := tasks.NewListener(tasks.ListenerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.RequestTopic,
		GroupID: cfg.Kafka.GroupID,
	}, manager, logger)
	defer func() {
		if closeErr := listener.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close request listener")
		}
	}()

	// Channel to collect background errors.
	errCh := make(chan error, 2)

	// Run the request listener in a background goroutine.
	go func() {
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("request listener error: %w", err)
		}
	}()
	logger.Info().
		Str("topic", cfg.Kafka.RequestTopic).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("request listener started")

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	logger.Info().Msg("paper-aggregation-service worker is ready")

	// Wait for shutdown signal or background error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("worker error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down worker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	// Drain running jobs with timeout. Jobs still running when the timeout
	// expires stay in the running state and are picked up by recovery on the
	// next start.
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("job manager shutdown timed out")
	}

	logger.Info().Msg("worker shutdown complete")
	return nil
}

// buildStore creates the durable PDF store selected by configuration.
func buildStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendS3:
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:        cfg.Storage.Bucket,
			Region:        cfg.Storage.Region,
			Endpoint:      cfg.Storage.Endpoint,
			UsePathStyle:  cfg.Storage.UsePathStyle,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Str("bucket", cfg.Storage.Bucket).Msg("s3 storage connected")
		return store, nil

	case config.StorageBackendMemory:
		logger.Warn().Msg("using in-memory storage, stored PDFs do not survive a restart")
		return storage.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

// buildOrchestrator wires the search pipeline: fan-out registry, Crossref
// enrichment, and PDF resolution into durable storage.
func buildOrchestrator(
	cfg *config.Config,
	registry *papersources.Registry,
	store storage.Store,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *search.Orchestrator {
	var enricher *enrich.Enricher
	if cfg.Enrichment.Enabled {
		crCfg := cfg.PaperSources.Crossref
		lookup := crossref.New(crossref.Config{
			BaseURL:    crCfg.BaseURL,
			Email:      crCfg.Email,
			Timeout:    crCfg.Timeout,
			RateLimit:  crCfg.RateLimit,
			MaxResults: crCfg.MaxResults,
			Enabled:    true,
		})
		enricher = enrich.New(lookup, enrich.Config{
			Concurrency: cfg.Enrichment.Concurrency,
			Retry:       retry.NewPolicy(cfg.Enrichment.MaxRetries, 0, cfg.Enrichment.RetryDelay),
		}, logger)
	}

	downloader := pdf.NewDownloader(pdf.Config{
		Timeout: cfg.PDF.DownloadTimeout,
		MaxSize: cfg.PDF.MaxSizeBytes,
	})
	resolver := pdf.NewResolver(downloader, store, pdf.ResolverConfig{
		Concurrency: cfg.PDF.Concurrency,
		Retry:       retry.NewPolicy(cfg.PDF.MaxRetries, 0, 0),
	}, logger)

	return search.New(registry, enricher, resolver, nil, search.Config{
		MaxRounds:         cfg.Search.MaxRounds,
		AdapterTimeout:    cfg.Search.AdapterTimeout,
		DefaultTargetSize: cfg.Search.DefaultTargetSize,
		SourcePriority:    sourcePriority(cfg.Search.SourcePriority),
	}, metrics, logger)
}

// sourcePriority converts the configured source names, dropping unknown ones.
func sourcePriority(names []string) []domain.SourceType {
	types := make([]domain.SourceType, 0, len(names))
	for _, name := range names {
		if st := domain.SourceType(name); domain.IsValidSourceType(st) {
			types = append(types, st)
		}
	}
	return types
}

// registerPaperSources registers all enabled paper sources with the registry.
func registerPaperSources(registry *papersources.Registry, cfg *config.Config, logger zerolog.Logger) {
	// Semantic Scholar.
	if cfg.PaperSources.SemanticScholar.Enabled {
		ssCfg := cfg.PaperSources.SemanticScholar
		ssClient := semanticscholar.NewClient(semanticscholar.Config{
			BaseURL:    ssCfg.BaseURL,
			APIKey:     ssCfg.APIKey,
			Timeout:    ssCfg.Timeout,
			RateLimit:  ssCfg.RateLimit,
			MaxResults: ssCfg.MaxResults,
			Enabled:    true,
		}, nil)
		registry.Register(ssClient)
		logger.Info().Msg("registered paper source: Semantic Scholar")
	}

	// OpenAlex.
	if cfg.PaperSources.OpenAlex.Enabled {
		oaCfg := cfg.PaperSources.OpenAlex
		oaClient := openalex.New(openalex.Config{
			BaseURL:    oaCfg.BaseURL,
			Email:      oaCfg.Email,
			Timeout:    oaCfg.Timeout,
			RateLimit:  oaCfg.RateLimit,
			MaxResults: oaCfg.MaxResults,
			Enabled:    true,
		})
		registry.Register(oaClient)
		logger.Info().Msg("registered paper source: OpenAlex")
	}

	// Crossref.
	if cfg.PaperSources.Crossref.Enabled {
		crCfg := cfg.PaperSources.Crossref
		crClient := crossref.New(crossref.Config{
			BaseURL:    crCfg.BaseURL,
			Email:      crCfg.Email,
			Timeout:    crCfg.Timeout,
			RateLimit:  crCfg.RateLimit,
			MaxResults: crCfg.MaxResults,
			Enabled:    true,
		})
		registry.Register(crClient)
		logger.Info().Msg("registered paper source: Crossref")
	}

	// PubMed.
	if cfg.PaperSources.PubMed.Enabled {
		pmCfg := cfg.PaperSources.PubMed
		pmClient := pubmed.New(pubmed.Config{
			BaseURL:    pmCfg.BaseURL,
			APIKey:     pmCfg.APIKey,
			Timeout:    pmCfg.Timeout,
			RateLimit:  pmCfg.RateLimit,
			MaxResults: pmCfg.MaxResults,
			Enabled:    true,
		})
		registry.Register(pmClient)
		logger.Info().Msg("registered paper source: PubMed")
	}

	// arXiv.
	if cfg.PaperSources.ArXiv.Enabled {
		axCfg := cfg.PaperSources.ArXiv
		axClient := arxiv.New(arxiv.Config{
			BaseURL:    axCfg.BaseURL,
			Timeout:    axCfg.Timeout,
			RateLimit:  axCfg.RateLimit,
			MaxResults: axCfg.MaxResults,
			Enabled:    true,
		})
		registry.Register(axClient)
		logger.Info().Msg("registered paper source: arXiv")
	}
}
