package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	appMiddleware "github.com/markdave123-py/knosi/internal/api/middlewares"
	"github.com/markdave123-py/knosi/internal/config"
	"github.com/markdave123-py/knosi/internal/core"
	db "github.com/markdave123-py/knosi/internal/core/database"
	"github.com/markdave123-py/knosi/internal/core/ingestion_engine"
	"github.com/markdave123-py/knosi/internal/core/llm"
	objectclient "github.com/markdave123-py/knosi/internal/core/object-client"
	"github.com/markdave123-py/knosi/internal/core/progress"
	"github.com/markdave123-py/knosi/internal/metrics"
	"github.com/markdave123-py/knosi/internal/services"
)

type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Ingestor     *ingestion_engine.DocumentIngestor
	Hub          *progress.Hub
	Server       *Server

	genai *genai.Client
	cfg   *config.Config
	log   *slog.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a := &App{cfg: cfg, log: log}

	a.DBClient, err = db.NewClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("database initialized and ready", "in_memory", cfg.DatabaseURL == config.MemoryDatabaseURL)

	if cfg.ObjectStorageEnabled() {
		objClient, err := objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.ObjectClient = objClient
		log.Info("object client initialized and ready")
	} else {
		log.Warn("object storage not configured, original files will not be downloadable")
	}

	a.genai, err = llm.NewGeminiClient(ctx, cfg.AIAPIKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the model client: %w", err)
	}
	gate := llm.NewGate(cfg.LLMConcurrency, m)
	embedder := llm.NewGeminiEmbedder(a.genai, cfg.EmbedModel, cfg.EmbedDim, gate)
	generator := llm.NewGeminiLLM(a.genai, cfg.GenModel, gate)
	vision := llm.NewGeminiVision(a.genai, cfg.VisionModel, gate, log)

	a.Hub = progress.NewHub(log).WithIdleGrace(cfg.ProgressGrace)

	limiter := ingestion_engine.NewRateLimiter(cfg.PDFBatchesPerMinute, log)
	extractor := ingestion_engine.NewDocumentExtractor(
		vision,
		ingestion_engine.NewPDFToolkit(),
		limiter,
		a.Hub,
		m,
		ingestion_engine.ExtractConfig{
			PDFBatchSize:   cfg.PDFBatchSize,
			PDFMaxBatches:  cfg.PDFMaxBatches,
			PDFLargeBytes:  int64(cfg.PDFLargeSizeMB) << 20,
			PDFLargePages:  cfg.PDFLargePages,
			ImageMaxBytes:  cfg.ImageMaxBytes,
			ExtractTimeout: cfg.ExtractTimeout,
		},
		log,
	)

	ingCfg := &ingestion_engine.IngestConfig{
		ChunkSize:     cfg.ChunkSize,
		ChunkOverlap:  cfg.ChunkOverlap,
		MaxFileSize:   cfg.MaxFileSizeBytes(),
		ProgressGrace: cfg.ProgressGrace,
	}
	a.Ingestor = ingestion_engine.NewDocumentIngestor(a.DBClient, a.ObjectClient, embedder, extractor, a.Hub, m, ingCfg, log)

	a.Server = NewServer(cfg, Deps{
		Auth:      appMiddleware.NewAuthenticator(cfg),
		Ingestor:  a.Ingestor,
		Documents: services.NewDocumentService(a.DBClient, a.ObjectClient, log),
		Retrieval: services.NewRetrievalService(a.DBClient, embedder, generator, log),
		Hub:       a.Hub,
		Gatherer:  reg,
	}, log)

	log.Info("knosi configured",
		"max_file_size_mb", cfg.MaxFileSizeMB,
		"auth", cfg.AuthEnabled(),
		"ingest_workers", cfg.IngestWorkers,
		"embed_dim", embedder.Dimension(),
		"pdf_batch_interval", limiter.Interval(),
		"supported", ingestion_engine.SupportedExtensions(),
	)
	return a, nil
}

// StartWorkers runs the ingestion worker pool until ctx is done.
func (a *App) StartWorkers(ctx context.Context) {
	a.Ingestor.Start(ctx, a.cfg.IngestWorkers)
}

func (a *App) Close() {
	if a.Hub != nil {
		a.Hub.Shutdown()
	}
	if a.genai != nil {
		_ = a.genai.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
