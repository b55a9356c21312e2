package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/docextract/internal/config"
	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
	"github.com/kirillkom/docextract/internal/core/usecase"
	"github.com/kirillkom/docextract/internal/infrastructure/chunking"
	"github.com/kirillkom/docextract/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/docextract/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/docextract/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docextract/internal/infrastructure/llm/openai"
	"github.com/kirillkom/docextract/internal/infrastructure/llm/vertex"
	"github.com/kirillkom/docextract/internal/infrastructure/merging"
	"github.com/kirillkom/docextract/internal/infrastructure/queue/inproc"
	"github.com/kirillkom/docextract/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docextract/internal/infrastructure/ratelimit"
	"github.com/kirillkom/docextract/internal/infrastructure/repository/memory"
	"github.com/kirillkom/docextract/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
	"github.com/kirillkom/docextract/internal/infrastructure/storage/gcs"
	"github.com/kirillkom/docextract/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docextract/internal/infrastructure/templates"
	"github.com/kirillkom/docextract/internal/infrastructure/tokens"
	"github.com/kirillkom/docextract/internal/observability/metrics"
)

type Options struct {
	// Service labels logs and metrics.
	Service string
	// InProcess swaps Postgres and NATS for the in-memory repository and a channel queue.
	InProcess bool
	Logger    *slog.Logger
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue     ports.MessageQueue
	Repo      ports.SessionRepository
	Templates *templates.Registry
	Admission *ratelimit.Controller
	Executor  *resilience.Executor
	Breakers  *resilience.Executor

	WorkerMetrics *metrics.WorkerMetrics
	HTTPMetrics   *metrics.HTTPServerMetrics

	SubmitUC  *usecase.SubmitBatchUseCase
	ProcessUC *usecase.ProcessSessionUseCase
	QueryUC   *usecase.SessionQueryUseCase
	AbortUC   *usecase.AbortSessionUseCase
	PreviewUC *usecase.PlanPreviewUseCase
	Exporter  *xlsx.Exporter

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (app *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	service := opts.Service
	if service == "" {
		service = "docextract"
	}

	app = &App{
		Config:        cfg,
		Logger:        logger,
		WorkerMetrics: metrics.NewWorkerMetrics(service),
		HTTPMetrics:   metrics.NewHTTPServerMetrics(service),
		Executor:      resilience.NewExecutor(resilience.DefaultConfig(), logger),
	}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	repo, err := app.newRepository(ctx, opts.InProcess)
	if err != nil {
		return nil, err
	}
	app.Repo = repo

	storage, err := app.newStorage(ctx)
	if err != nil {
		return nil, err
	}

	queue, err := app.newQueue(opts.InProcess)
	if err != nil {
		return nil, err
	}
	app.Queue = queue

	registry, err := templates.Load(cfg.TemplatesFile)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	app.Templates = registry

	runtime, err := NewPipeline(ctx, cfg, app.WorkerMetrics, logger)
	if err != nil {
		return nil, err
	}
	app.closeFns = append(app.closeFns, runtime.Close)
	app.Admission = runtime.Admission
	app.Breakers = runtime.Breakers
	pipeline := runtime.Pipeline

	app.SubmitUC = usecase.NewSubmitBatchUseCase(repo, storage, queue, registry, cfg.APIMaxFilesPerSession, logger)
	app.ProcessUC = usecase.NewProcessSessionUseCase(
		repo,
		storage,
		registry,
		pipeline,
		app.WorkerMetrics,
		usecase.ProcessOptions{FileConcurrency: cfg.FileConcurrency},
		logger,
	)
	app.QueryUC = usecase.NewSessionQueryUseCase(
		repo,
		time.Duration(cfg.SessionCacheTTLSeconds)*time.Second,
		uint64(max(cfg.SessionCacheCapacity, 0)),
	)
	app.AbortUC = usecase.NewAbortSessionUseCase(repo, queue, logger)
	app.PreviewUC = usecase.NewPlanPreviewUseCase(registry, pipeline, logger)
	app.Exporter = xlsx.NewExporter(logger)
	return app, nil
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

func (a *App) newRepository(ctx context.Context, inProcess bool) (ports.SessionRepository, error) {
	backend := strings.ToLower(a.Config.RepositoryBackend)
	if inProcess || backend == "memory" {
		return memory.NewSessionRepository(), nil
	}
	if backend != "postgres" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "repository backend", fmt.Errorf("unknown backend %q", backend))
	}

	db, err := postgres.OpenDB(a.Config.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	a.closeFns = append(a.closeFns, func() { _ = db.Close() })

	repo := postgres.NewSessionRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, nil
}

func (a *App) newStorage(ctx context.Context) (ports.ObjectStorage, error) {
	switch strings.ToLower(a.Config.StorageBackend) {
	case "", "local":
		storage, err := localfs.New(a.Config.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		return storage, nil
	case "gcs":
		storage, err := gcs.New(ctx, a.Config.GCSBucket, a.Config.GCSPrefix)
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		a.closeFns = append(a.closeFns, func() { _ = storage.Close() })
		return storage, nil
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "storage backend", fmt.Errorf("unknown backend %q", a.Config.StorageBackend))
	}
}

func (a *App) newQueue(inProcess bool) (ports.MessageQueue, error) {
	if inProcess {
		queue := inproc.New(0, a.Logger)
		a.closeFns = append(a.closeFns, queue.Close)
		return queue, nil
	}

	retry := a.Config.NATSRetryConnect
	queue, err := nats.New(a.Config.NATSURL, nats.Options{
		AcceptedSubject:      a.Config.NATSAcceptedSubject,
		AbortSubject:         a.Config.NATSAbortSubject,
		RetryOnFailedConnect: &retry,
		ResilienceExecutor:   a.Executor,
		Logger:               a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	a.closeFns = append(a.closeFns, queue.Close)
	return queue, nil
}

// PipelineRuntime is the wired pipeline plus the process-wide state behind it.
// Admission is shared by every session processed in this process; Breakers guards
// completion calls.
type PipelineRuntime struct {
	Pipeline  usecase.Pipeline
	Admission *ratelimit.Controller
	Breakers  *resilience.Executor
	Close     func()
}

func NewPipeline(ctx context.Context, cfg config.Config, observer ratelimit.Observer, logger *slog.Logger) (*PipelineRuntime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	estimatorCfg := tokens.DefaultConfig()
	estimatorCfg.MaxOutputTokens = cfg.MaxOutputTokens
	estimator := tokens.NewEstimator(estimatorCfg, newCounter(cfg, logger))

	planner, err := chunking.NewPlanner(chunking.PlannerConfig{
		MaxTokensPerChunk:     cfg.PlannerMaxTokensPerChunk,
		PagesPerChunk:         cfg.PlannerPagesPerChunk,
		SafetyMargin:          cfg.PlannerSafetyMargin,
		BoundaryOverlapPages:  cfg.PlannerOverlapPages,
		MinBoundaryConfidence: cfg.PlannerMinConfidence,
	}, estimator)
	if err != nil {
		return nil, fmt.Errorf("init planner: %w", err)
	}

	admission, err := ratelimit.NewController(domain.RateLimitConfig{
		TokensPerMinute:   cfg.RateLimitTokensPerMinute,
		RequestsPerMinute: cfg.RateLimitRequestsPerMinute,
		Window:            time.Duration(cfg.RateLimitWindowSeconds) * time.Second,
		SafetyMargin:      cfg.RateLimitSafetyMargin,
		MaxWait:           time.Duration(cfg.RateLimitMaxWaitSeconds) * time.Second,
	}, logger, observer)
	if err != nil {
		return nil, fmt.Errorf("init rate limiter: %w", err)
	}

	breakerCfg := resilience.CompletionConfig()
	breakerCfg.RetryMaxAttempts = cfg.CompletionRetryAttempts
	breakerCfg.BreakerEnabled = cfg.CompletionBreaker
	breakers := resilience.NewExecutor(breakerCfg, logger)
	completion, closeCompletion, err := newCompletion(ctx, cfg, breakers, logger)
	if err != nil {
		return nil, err
	}

	pipeline := usecase.Pipeline{
		Parser:     pdftext.NewParser(logger),
		Detector:   chunking.NewBoundaryDetector(cfg.BoundaryThreshold),
		Estimator:  estimator,
		Planner:    planner,
		Admission:  admission,
		Completion: completion,
		Validator:  templates.NewValidator(),
		Merger:     merging.NewMerger(logger),
	}
	return &PipelineRuntime{
		Pipeline:  pipeline,
		Admission: admission,
		Breakers:  breakers,
		Close:     closeCompletion,
	}, nil
}

func newCompletion(ctx context.Context, cfg config.Config, executor *resilience.Executor, logger *slog.Logger) (ports.CompletionService, func(), error) {
	noop := func() {}

	switch strings.ToLower(cfg.CompletionBackend) {
	case "", "ollama":
		return ollama.New(ollama.Config{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
			Timeout: cfg.CompletionTimeout(),
			NumCtx:  cfg.OllamaNumCtx,
		}, executor, logger), noop, nil
	case "openai":
		return openai.New(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.CompletionTimeout(),
		}, executor, logger), noop, nil
	case "vertex":
		client, err := vertex.New(ctx, vertex.Config{
			ProjectID: cfg.VertexProjectID,
			Region:    cfg.VertexRegion,
			Model:     cfg.VertexModel,
			Timeout:   cfg.CompletionTimeout(),
		}, executor, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init vertex client: %w", err)
		}
		return client, func() { _ = client.Close() }, nil
	default:
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "completion backend", errors.New("unknown backend "+cfg.CompletionBackend))
	}
}

// newCounter prefers the offline BPE tokenizer; an empty encoding or a load failure
// falls back to the character heuristic.
func newCounter(cfg config.Config, logger *slog.Logger) tokens.Counter {
	if strings.TrimSpace(cfg.TokenizerEncoding) == "" || strings.EqualFold(cfg.TokenizerEncoding, "heuristic") {
		return tokens.NewHeuristicCounter(cfg.HeuristicCharsPerTok)
	}
	counter, err := tokens.NewTiktokenCounter(cfg.TokenizerEncoding, cfg.TokenizerPadding)
	if err != nil {
		logger.Warn("tokenizer_fallback", "encoding", cfg.TokenizerEncoding, "error", err)
		return tokens.NewHeuristicCounter(cfg.HeuristicCharsPerTok)
	}
	return counter
}
