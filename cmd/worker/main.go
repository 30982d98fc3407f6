// Command worker runs the document ingestion consumer: it connects to the
// task broker, the object store, the vector store, and Ollama, then drains
// the task queue through a bounded worker pool until shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docworker/ingestworker/internal/broker"
	"github.com/docworker/ingestworker/internal/modelloader"
	"github.com/docworker/ingestworker/internal/pipeline"
	"github.com/docworker/ingestworker/internal/storage"
	"github.com/docworker/ingestworker/internal/task"
	"github.com/docworker/ingestworker/internal/vectorstore"
	"github.com/docworker/ingestworker/internal/workerpool"
	"github.com/docworker/ingestworker/pkg/metrics"
	"github.com/docworker/ingestworker/pkg/ollama"
	"github.com/docworker/ingestworker/pkg/resilience"
)

var met = metrics.New()

var (
	mTasksTotal    = func(status string) *metrics.Counter { return met.Counter(metrics.WithLabels("docworker_tasks_total", "status", status), "Tasks reaching a terminal status") }
	mTasksActive   = met.Gauge("docworker_tasks_active", "Tasks currently PROCESSING")
	mTaskDuration  = met.Histogram("docworker_task_duration_seconds", "End-to-end task duration", nil)
	mChunksWritten = met.Counter("docworker_chunks_written_total", "Chunks written to the vector store")
)

// Config holds all environment-based configuration.
type Config struct {
	AMQPURL       string
	TaskQueue     string
	ResultQueue   string
	Heartbeat     time.Duration
	Workers       int
	ShutdownGrace time.Duration
	MetricsPort   int

	MinioEndpoint string
	MinioRegion   string
	MinioAccess   string
	MinioSecret   string
	PDFBucket     string
	PrepBucket    string

	MilvusAddr        string
	MilvusUser        string
	MilvusPassword    string
	MilvusDB          string
	DefaultCollection string
	DefaultPartition  string

	OllamaURL   string
	OllamaModel string

	ChunkerStrategy string
}

func loadConfig() Config {
	amqpURL := fmt.Sprintf("amqp://%s:%s@%s:%s/",
		envOr("RABBITMQ_USER", "guest"),
		envOr("RABBITMQ_PASSWORD", "guest"),
		envOr("RABBITMQ_HOST", "localhost"),
		envOr("RABBITMQ_PORT", "5672"),
	)
	milvusAddr := fmt.Sprintf("%s:%s",
		envOr("MILVUS_HOST", "localhost"),
		envOr("MILVUS_PORT", "19530"),
	)
	return Config{
		AMQPURL:       amqpURL,
		TaskQueue:     envOr("RABBITMQ_TASK_QUEUE", "taskQueue"),
		ResultQueue:   envOr("RABBITMQ_RESULT_QUEUE", "respQueue"),
		Heartbeat:     envDuration("RABBITMQ_HEARTBEAT", 600*time.Second),
		Workers:       envInt("RABBITMQ_CONSUMER_WORKERS", 4),
		ShutdownGrace: envDuration("SHUTDOWN_GRACE", 30*time.Second),
		MetricsPort:   envInt("METRICS_PORT", 9091),

		MinioEndpoint: envOr("MINIO_ENDPOINT", "http://localhost:9000"),
		MinioRegion:   envOr("MINIO_REGION", "us-east-1"),
		MinioAccess:   envOr("MINIO_ACCESS", "minioadmin"),
		MinioSecret:   envOr("MINIO_SECRET", "minioadmin"),
		PDFBucket:     envOr("MINIO_PDF_BUCKET", "mybucket"),
		PrepBucket:    envOr("MINIO_PREPROCESSED_FILES_BUCKET", "prep"),

		MilvusAddr:        milvusAddr,
		MilvusUser:        envOr("MILVUS_USER", ""),
		MilvusPassword:    envOr("MILVUS_PASSWORD", ""),
		MilvusDB:          envOr("MILVUS_DB", "default"),
		DefaultCollection: envOr("MILVUS_DEFAULT_COLLECTION", "docworker"),
		DefaultPartition:  envOr("MILVUS_DEFAULT_PARTITION", "_default"),

		OllamaURL:   envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel: envOr("OLLAMA_EMBED_MODEL", "nomic-embed-text"),

		ChunkerStrategy: envOr("CHUNKER_STRATEGY", "sentence"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// instrumented wraps a pipeline constructor so every task run feeds the
// process metrics, keeping instrumentation out of the library packages.
func instrumented(ctor pipeline.Constructor) pipeline.Constructor {
	return func(loader *modelloader.Loader, backend storage.Backend, collection string) pipeline.Pipeline {
		return metered{inner: ctor(loader, backend, collection)}
	}
}

type metered struct {
	inner pipeline.Pipeline
}

func (m metered) Process(ctx context.Context, doc task.Document) ([]string, [][]float32, error) {
	start := time.Now()
	mTasksActive.Inc()
	defer func() {
		mTasksActive.Dec()
		mTaskDuration.Since(start)
	}()
	chunks, embeddings, err := m.inner.Process(ctx, doc)
	if err != nil {
		mTasksTotal("failed").Inc()
		return nil, nil, err
	}
	return chunks, embeddings, nil
}

func (m metered) StoreEmbedding(ctx context.Context, chunks []string, embeddings [][]float32, doc task.Document, collection, partition string) error {
	if err := m.inner.StoreEmbedding(ctx, chunks, embeddings, doc, collection, partition); err != nil {
		mTasksTotal("failed").Inc()
		return err
	}
	mTasksTotal("done").Inc()
	mChunksWritten.Add(int64(len(chunks)))
	return nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	met.CollectRuntime("docworker_worker", 15*time.Second)
	met.ServeAsync(cfg.MetricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := storage.NewS3Backend(ctx, cfg.MinioEndpoint, cfg.MinioRegion, cfg.MinioAccess, cfg.MinioSecret, true,
		storage.Policy{PDFBucket: cfg.PDFBucket, PreprocessedBucket: cfg.PrepBucket},
		storage.WithS3Breaker(resilience.NewBreaker(resilience.DefaultBreakerOpts)),
		storage.WithS3Limiter(resilience.NewLimiter(resilience.LimiterOpts{Rate: 100, Burst: 200})),
	)
	if err != nil {
		logger.Error("storage backend init failed", "error", err)
		os.Exit(1)
	}

	vstore, err := vectorstore.New(ctx, cfg.MilvusAddr, cfg.MilvusUser, cfg.MilvusPassword, cfg.MilvusDB,
		cfg.DefaultCollection, cfg.DefaultPartition,
		vectorstore.WithBreaker(resilience.NewBreaker(resilience.DefaultBreakerOpts)),
		vectorstore.WithLimiter(resilience.NewLimiter(resilience.LimiterOpts{Rate: 50, Burst: 100})),
	)
	if err != nil {
		logger.Error("vector store connect failed", "error", err)
		os.Exit(1)
	}
	defer vstore.Close()
	if err := vstore.EnsureCollection(ctx, cfg.DefaultCollection); err != nil {
		logger.Error("vector store ensure collection failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to vector store", "address", cfg.MilvusAddr, "collection", cfg.DefaultCollection)

	embedder := ollama.NewEmbedClient(cfg.OllamaURL, cfg.OllamaModel, vectorstore.EmbeddingDim)

	loader := modelloader.New(
		modelloader.NewDefaultParser,
		func() modelloader.Chunker { return modelloader.NewSentenceChunker() },
		func() modelloader.Chunker { return modelloader.NewSemanticChunker(nil) },
		func() modelloader.Embedder { return embedder },
	)
	loader.PreloadAll(backend)
	defer loader.ClearCache()

	registry := pipeline.NewRegistry()
	registry.Register(pipeline.DefaultTaskType, instrumented(pipeline.NewDefaultPipelineFactory(vstore, cfg.ChunkerStrategy, logger)))

	consumer := broker.New(broker.Config{
		URL:         cfg.AMQPURL,
		TaskQueue:   cfg.TaskQueue,
		ResultQueue: cfg.ResultQueue,
		Heartbeat:   cfg.Heartbeat,
		Prefetch:    cfg.Workers,
	}, logger)

	pool := workerpool.New(cfg.Workers, registry, loader, backend, cfg.DefaultCollection, cfg.DefaultPartition,
		consumer.Completions(), logger)
	consumer.AttachPool(pool)

	logger.Info("starting worker", "workers", cfg.Workers, "task_queue", cfg.TaskQueue, "result_queue", cfg.ResultQueue)
	if err := consumer.Start(ctx); err != nil {
		logger.Error("consumer stopped with error", "error", err)
	}

	logger.Info("shutting down", "grace", cfg.ShutdownGrace)
	consumer.Stop(cfg.ShutdownGrace)
}
