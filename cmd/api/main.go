package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/data/sqlStore"
	"github.com/akolanti/GoRAG/internal/data/store"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	jobmodel "github.com/akolanti/GoRAG/internal/domain/jobModel"
	"github.com/akolanti/GoRAG/internal/handlers"
	"github.com/akolanti/GoRAG/internal/job"
	"github.com/akolanti/GoRAG/internal/mcpServer"
	"github.com/akolanti/GoRAG/internal/middleware"
	"github.com/akolanti/GoRAG/internal/rag"
	"github.com/akolanti/GoRAG/internal/rag/chunker"
	"github.com/akolanti/GoRAG/internal/rag/content"
	"github.com/akolanti/GoRAG/internal/rag/embedding"
	"github.com/akolanti/GoRAG/internal/rag/embedding/googleEmbedding"
	"github.com/akolanti/GoRAG/internal/rag/embedding/hashEmbedding"
	"github.com/akolanti/GoRAG/internal/rag/embedding/openaiEmbedding"
	"github.com/akolanti/GoRAG/internal/rag/ingest"
	"github.com/akolanti/GoRAG/internal/rag/llm"
	"github.com/akolanti/GoRAG/internal/rag/llm/gemini"
	"github.com/akolanti/GoRAG/internal/rag/llm/openaiLLM"
	"github.com/akolanti/GoRAG/internal/rag/retrieval"
	"github.com/akolanti/GoRAG/internal/rag/usage"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB/memoryDB"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB/qdrantDB"
	"github.com/akolanti/GoRAG/internal/server"
	"github.com/akolanti/GoRAG/internal/worker"
	"github.com/akolanti/GoRAG/pkg/logger_i"
)

var (
	configPath        string
	listenAddr        string
	requestCount      int64
	stopWorkerChannel chan bool
	workerWaitGroup   sync.WaitGroup
)

// catalog is what every catalog backend provides
type catalog interface {
	commonModels.ProjectStore
	commonModels.DocumentStore
}

func main() {
	flag.StringVar(&configPath, "config", os.Getenv("GORAG_CONFIG"), "path to a yaml config file")
	flag.StringVar(&listenAddr, "listen-addr", "", "server listen address, overrides the config")
	flag.Parse()

	settings, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	if listenAddr != "" {
		settings.Server.ListenAddr = listenAddr
	}

	logger_i.Init(settings.Server.IsProd)
	var logger = logger_i.NewLogger("main")
	middleware.Configure(settings.Server)

	//init buffered job channel
	jobChannel := make(chan jobmodel.Job, config.BufferLimit)
	dispatcherChannel := make(chan bool, 1)
	stopWorkerChannel = make(chan bool, 1)

	serviceContext, closeExternalServices := context.WithCancel(context.Background())
	defer closeExternalServices()

	//stores
	jobStore, catalogStore, chatStore, generations := initStores(serviceContext, settings, logger)

	serviceConfig := job.ServiceConfig{
		JobChannel:        jobChannel,
		RequestCount:      requestCount,
		DispatcherChannel: dispatcherChannel,
		JobStore:          jobStore,
	}
	logger.Info("Starting job service")
	service := job.InitJobService(serviceConfig)

	//external services
	embedder := initEmbedder(serviceContext, settings.Embedding)
	llmProvider := initLLM(serviceContext, settings.LLM)
	if embedder == nil || llmProvider == nil {
		logger.Error("One or more external services failed to initialize. Shutting down.")
		logger.Debug("Available services", "EmbeddingService", embedder != nil, "LLMProvider", llmProvider != nil)
		return
	}
	if embedder.Dimension() != settings.Embedding.Dimension {
		logger.Error("Embedding dimension does not match the configuration",
			"provider", embedder.Dimension(), "configured", settings.Embedding.Dimension)
		return
	}
	generator := embedding.NewGenerator(embedder,
		embedding.WithBatchLimits(settings.Embedding.BatchSize, settings.Embedding.BatchMaxChars),
		embedding.WithRetry(settings.Embedding.MaxAttempts, settings.Embedding.BaseDelay, settings.Embedding.MaxDelay),
		embedding.WithCallTimeout(settings.Embedding.CallTimeout),
		embedding.WithRateLimit(settings.Embedding.RatePerSecond),
	)

	index := initIndex(serviceContext, settings, generations, logger)
	if index == nil {
		logger.Error("Vector index is unavailable. Shutting down.")
		return
	}

	//ingestion
	pipeline, err := initPipeline(serviceContext, settings, catalogStore, generator, index)
	if err != nil {
		logger.Error("Could not start the ingestion pipeline", "error", err)
		return
	}

	//services
	retriever := retrieval.New(generator, index, settings.Retrieval)
	ragService := rag.NewService(rag.Deps{
		Projects:  catalogStore,
		Documents: catalogStore,
		Chats:     chatStore,
		Retriever: retriever,
		LLM:       llmProvider,
		Usage:     usage.Fanout{usage.NewLogSink(), usage.PrometheusSink{}},
	}, settings)
	projectService := rag.NewProjectService(rag.ProjectDeps{
		Projects:  catalogStore,
		Documents: catalogStore,
		Chats:     chatStore,
		Index:     index,
		Ingestion: pipeline,
	})

	handlers.InitHandlers(handlers.Deps{
		Jobs:        service,
		Chat:        ragService,
		Projects:    projectService,
		ContentRoot: settings.Ingestion.ContentRoot,
	})

	//init worker pool
	worker.InitServices(service, ragService)
	worker.InitWorkerPool(stopWorkerChannel, &workerWaitGroup)

	//server handling
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)
	stopExecution := make(chan bool, 1)

	shutdownParams := server.ShutdownParams{
		GracefulShutdown: gracefulShutdown,
		StopExecution:    stopExecution,
		WorkerStop:       stopWorkerChannel,
		Group:            &workerWaitGroup,
		CloseServices:    closeExternalServices,
		DrainIngestion: func(timeout time.Duration) {
			if err := pipeline.Close(timeout); err != nil {
				logger.Warn("Ingestion did not drain", "error", err)
			}
		},
	}
	go server.ShutDownHandler(shutdownParams)
	go server.CreateServer(server.Options{
		ListenAddr: settings.Server.ListenAddr,
		MCP:        mcpServer.New(ragService, projectService).Handler(),
	})

	<-stopExecution
	logger.Info("Server stopped")
}

// initStores picks the catalog and chat backend. Jobs and index generations use redis whenever it
// is reachable and fall back to memory otherwise.
func initStores(ctx context.Context, settings *config.Settings, logger *logger_i.Logger) (jobmodel.JobStore, catalog, commonModels.ChatStore, vectorDB.GenerationRegistry) {
	var jobStore jobmodel.JobStore = store.InitInMemoryJobStore()
	var generations = vectorDB.NewMemoryGenerations()
	if rj := store.GetRedisJobStore(ctx, settings.Redis); rj != nil {
		jobStore = rj
	} else if config.FALLBACK_REDIS_TO_INTERNALSTORE {
		logger.Error("Redis job store is offline, using memory")
	}
	if rg := store.GetRedisGenerationStore(ctx, settings.Redis); rg != nil {
		generations = rg
	}

	var cat catalog = store.InitInMemoryCatalogStore()
	var chats commonModels.ChatStore = store.InitInMemoryChatStore()

	switch settings.Storage.Backend {
	case config.StoragePostgres:
		db, err := sqlStore.Open(ctx, settings.Postgres)
		if err != nil {
			logger.Error("Postgres is unavailable, using memory", "error", err)
			break
		}
		cat, chats = db, db
	case config.StorageRedis:
		rc := store.GetRedisCatalogStore(ctx, settings.Redis)
		rs := store.GetRedisChatStore(ctx, settings.Redis)
		if rc == nil || rs == nil {
			logger.Error("Redis catalog is offline, using memory")
			break
		}
		cat, chats = rc, rs
	}
	logger.Info("Stores ready", "backend", settings.Storage.Backend)
	return jobStore, cat, chats, generations
}

func initEmbedder(ctx context.Context, s config.EmbeddingSettings) embedding.Provider {
	switch s.Provider {
	case "google":
		return googleEmbedding.GetGoogleEmbeddingClient(ctx, s.Model, s.APIKey, s.Dimension)
	case "openai":
		return openaiEmbedding.New(s.APIKey, s.BaseURL, s.Model, s.Dimension)
	case "hash":
		return hashEmbedding.New(s.Dimension)
	}
	return nil
}

func initLLM(ctx context.Context, s config.LLMSettings) llm.Provider {
	switch s.Provider {
	case "gemini":
		return gemini.GetGeminiClient(ctx, s.Model, s.APIKey)
	case "openai":
		return openaiLLM.New(s.APIKey, s.BaseURL, s.Model)
	}
	return nil
}

func initIndex(ctx context.Context, settings *config.Settings, generations vectorDB.GenerationRegistry, logger *logger_i.Logger) vectorDB.Index {
	if !settings.Qdrant.Enabled {
		logger.Warn("Qdrant is disabled, chunks live in memory only")
		return memoryDB.New()
	}
	// queries only return generations the registry publishes, so it must outlive restarts as Qdrant does
	if _, durable := generations.(*store.RedisGenerationStore); !durable {
		logger.Error("Qdrant needs redis for its generation registry, and redis is unreachable")
		return nil
	}
	if q := qdrantDB.GetQuadrantClient(ctx, settings.Qdrant, settings.Embedding.Dimension, generations); q != nil {
		return q
	}
	return nil
}

func initPipeline(ctx context.Context, settings *config.Settings, docs commonModels.DocumentStore, generator *embedding.Generator, index vectorDB.Index) (*ingest.Pipeline, error) {
	local, err := content.NewLocalFetcher(settings.Ingestion.ContentRoot)
	if err != nil {
		return nil, fmt.Errorf("content root: %w", err)
	}
	var gcs content.Fetcher
	if f, err := content.NewGCSFetcher(ctx); err == nil {
		gcs = f
	} else {
		logger_i.NewLogger("main").Warn("Object storage is not configured, gs:// references will fail", "error", err)
	}

	chunks, err := chunker.New(
		chunker.WithChunkSize(settings.Chunking.Size),
		chunker.WithOverlap(settings.Chunking.Overlap),
		chunker.WithTolerance(settings.Chunking.Tolerance),
	)
	if err != nil {
		return nil, err
	}
	if generator == nil {
		return nil, errors.New("no embedder")
	}
	return ingest.New(ingest.Deps{
		Documents: docs,
		Fetcher:   content.NewRouter(local, gcs),
		Chunker:   chunks,
		Embedder:  generator,
		Index:     index,
	}, ingest.WithRejectPolicy(settings.Embedding.RejectedChunks), ingest.WithSettings(settings.Ingestion))
}
