package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/hybrid-retrieval/internal/config"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
	"github.com/kirillkom/hybrid-retrieval/internal/core/usecase"
	rediscache "github.com/kirillkom/hybrid-retrieval/internal/infrastructure/cache/redis"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/chunking"
	kafkaevents "github.com/kirillkom/hybrid-retrieval/internal/infrastructure/events/kafka"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/extractor/elements"
	badgerlex "github.com/kirillkom/hybrid-retrieval/internal/infrastructure/lexical/badger"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/queue/nats"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/rerank/crossencoder"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/vector/pgvector"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/vector/qdrant"
)

// App holds the wired use cases shared by the api and worker binaries.
type App struct {
	Config config.Config

	Queue     ports.MessageQueue
	Documents ports.DocumentReader
	IngestUC  ports.DocumentIngestor
	ProcessUC ports.DocumentProcessor
	DeleteUC  ports.DocumentDeleter
	SearchUC  ports.SegmentSearcher

	closers []func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg}
	ready := false
	defer func() {
		if !ready {
			app.Close()
		}
	}()

	db, err := postgres.OpenDB(cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	docRepo := postgres.NewDocumentRepository(db)
	segRepo := postgres.NewSegmentRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilienceConfig(cfg), resilience.WithLogger(logger))

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		QueueGroup:         cfg.NATSQueueGroup,
		HandlerTimeout:     cfg.DocumentTimeout,
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	app.onClose(queue.Close)

	dense, lexical, err := app.newIndexes(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Interface-typed so an unconfigured cache or publisher stays a true nil.
	var cache ports.SearchCache
	if cfg.RedisAddr != "" {
		client, err := rediscache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPoolSize)
		if err != nil {
			return nil, fmt.Errorf("init search cache: %w", err)
		}
		app.onClose(func() { _ = client.Close() })
		cache = rediscache.NewQueryCache(client, cfg.RedisCacheTTL, logger)
	}
	var events ports.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafkaevents.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		app.onClose(func() { _ = publisher.Close() })
		events = publisher
	}

	ollamaClient := ollama.New(
		cfg.OllamaURL,
		cfg.OllamaGenModel,
		cfg.OllamaEmbedModel,
		ollama.WithRateLimit(cfg.OllamaRPS, cfg.OllamaBurst),
		ollama.WithExecutor(executor),
		ollama.WithTimeout(cfg.EmbedTimeout),
	)
	embedder := ollama.NewEmbedder(ollamaClient, cfg.EmbedBatchSize)
	summarizer := ollama.NewSummarizer(ollamaClient)
	scorer := crossencoder.New(cfg.RerankURL, cfg.RerankTimeout)

	tokens, err := chunking.NewTokenCounter(cfg.TokenEncoding)
	if err != nil {
		logger.Warn("token_encoding_unavailable", "encoding", cfg.TokenEncoding, "error", err)
		tokens = chunking.NewApproxTokenCounter()
	}

	assembler := usecase.NewAssembler(summarizer, cfg.CaptionMaxRunes, logger)
	segmenter, err := usecase.NewSegmenter(
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		chunking.NewTableFormatter(),
		tokens,
		summarizer,
		embedder,
		usecase.SegmenterConfig{
			TableSplitThreshold: cfg.TableSplitThreshold,
			EmbedMaxTokens:      cfg.EmbedMaxTokens,
			PoolSize:            cfg.WorkerPoolSize,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init segmenter: %w", err)
	}
	app.onClose(segmenter.Close)

	persister := usecase.NewPersister(segRepo, dense, lexical, executor, usecase.PersisterConfig{
		BatchSize:    cfg.PersistBatchSize,
		WriteTimeout: cfg.StoreWriteTimeout,
	}, logger)
	retriever := usecase.NewHybridRetriever(embedder, dense, lexical, usecase.RetrieverConfig{
		KDense:         cfg.KDense,
		KLexical:       cfg.KLexical,
		DenseTimeout:   cfg.DenseTimeout,
		LexicalTimeout: cfg.LexicalTimeout,
		ParentBoost:    cfg.ParentBoost,
	}, logger)
	reranker := usecase.NewReranker(scorer, usecase.RerankerConfig{
		BatchSize: cfg.RerankBatchSize,
		Timeout:   cfg.RerankTimeout,
	}, logger)

	app.Queue = queue
	app.Documents = docRepo
	app.IngestUC = usecase.NewIngestDocumentUseCase(docRepo, storage, queue)
	app.ProcessUC = usecase.NewProcessDocumentUseCase(
		docRepo,
		elements.NewLoader(storage),
		assembler,
		segmenter,
		persister,
		events,
		cache,
		logger,
	)
	app.DeleteUC = usecase.NewDeleteDocumentUseCase(docRepo, persister, storage, events, cache, logger)
	app.SearchUC = usecase.NewSearchUseCase(retriever, segRepo, reranker, cache, usecase.SearchConfig{
		TopK:     cfg.RerankTopK,
		KDense:   cfg.KDense,
		KLexical: cfg.KLexical,
	}, logger)

	logger.Info("bootstrap_ready",
		"vector_backend", cfg.VectorBackend,
		"lexical_backend", cfg.LexicalBackend,
		"search_cache", cache != nil,
		"events", events != nil,
	)
	ready = true
	return app, nil
}

// newIndexes opens the dense and lexical backends named by the config.
func (a *App) newIndexes(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.VectorIndex, ports.LexicalIndex, error) {
	var dense ports.VectorIndex
	switch cfg.VectorBackend {
	case config.VectorBackendPGVector:
		idx, err := pgvector.Open(ctx, cfg.PostgresDSN, cfg.PGVectorTable, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, nil, fmt.Errorf("open pgvector index: %w", err)
		}
		a.onClose(idx.Close)
		if err := idx.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure pgvector schema: %w", err)
		}
		dense = idx
	case config.VectorBackendQdrant:
		dense = qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
	default:
		return nil, nil, fmt.Errorf("unsupported vector backend %q", cfg.VectorBackend)
	}

	var lexical ports.LexicalIndex
	switch cfg.LexicalBackend {
	case config.LexicalBackendBadger:
		idx, err := badgerlex.Open(cfg.BadgerPath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open lexical index: %w", err)
		}
		a.onClose(func() { _ = idx.Close() })
		lexical = idx
	case config.LexicalBackendQdrant:
		lexical = qdrant.NewLexicalIndex(cfg.QdrantURL, cfg.QdrantCollection+"_lexical")
	default:
		return nil, nil, fmt.Errorf("unsupported lexical backend %q", cfg.LexicalBackend)
	}
	return dense, lexical, nil
}

func resilienceConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.RetryMaxAttempts = cfg.RetryMaxAttempts
	rc.RetryInitialBackoff = cfg.RetryInitialBackoff
	rc.RetryMaxBackoff = cfg.RetryMaxBackoff
	rc.BreakerEnabled = cfg.BreakerEnabled
	rc.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	return rc
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
