// Command lectern-core runs the indexing worker: it drains the task queue,
// runs the maintenance loop and exposes a local health/metrics listener.
// The user-facing API is a separate deployable that talks to the same
// Postgres, Redis and Qdrant.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/lectern-ai/lectern-core/internal/adapters/driven/convert"
	"github.com/lectern-ai/lectern-core/internal/adapters/driven/jina"
	minioadapter "github.com/lectern-ai/lectern-core/internal/adapters/driven/minio"
	"github.com/lectern-ai/lectern-core/internal/adapters/driven/postgres"
	"github.com/lectern-ai/lectern-core/internal/adapters/driven/qdrant"
	postgresqueue "github.com/lectern-ai/lectern-core/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/lectern-ai/lectern-core/internal/adapters/driven/queue/redis"
	redisadapter "github.com/lectern-ai/lectern-core/internal/adapters/driven/redis"
	"github.com/lectern-ai/lectern-core/internal/config"
	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driving"
	"github.com/lectern-ai/lectern-core/internal/core/services"
	"github.com/lectern-ai/lectern-core/internal/embedder"
	"github.com/lectern-ai/lectern-core/internal/enricher"
	"github.com/lectern-ai/lectern-core/internal/metrics"
	"github.com/lectern-ai/lectern-core/internal/sparse"
	"github.com/lectern-ai/lectern-core/internal/splitter"
	"github.com/lectern-ai/lectern-core/internal/uploader"
	"github.com/lectern-ai/lectern-core/internal/worker"
)

var version = "dev"

func main() {
	// Local development keeps credentials in .env; containers set real env.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Service.LogLevel),
	}))
	slog.SetDefault(logger)
	logger.Info("lectern-core starting", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("lectern-core stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// ===== PostgreSQL: documents, chunks, quotas, snapshots, schedules =====
	db, err := postgres.Connect(ctx, postgres.DefaultConfig(cfg.Postgres.URL))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	logger.Info("postgres connected")

	documentStore := postgres.NewDocumentStore(db)
	chunkStore := postgres.NewChunkStore(db)
	quotaStore := postgres.NewQuotaStore(db, cfg.Quota.DefaultLimitBytes)
	snapshotStore := postgres.NewCorpusSnapshotStore(db)
	schedulerStore := postgres.NewSchedulerStore(db)

	// ===== Redis: cache, corpus statistics and optionally the queue =====
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("redis connected")

	cache := redisadapter.NewCache(redisClient)
	statsStore := redisadapter.NewCorpusStatsStore(redisClient)

	// ===== Task queue and duty lock, per the configured driver =====
	var (
		taskQueue driven.TaskQueue
		dutyLock  driven.DistributedLock
	)
	switch strings.ToLower(cfg.Queue.Driver) {
	case "redis", "":
		taskQueue, err = redisqueue.NewQueue(redisClient, fmt.Sprintf("worker-%d", os.Getpid()))
		if err != nil {
			return fmt.Errorf("create redis queue: %w", err)
		}
		dutyLock = redisadapter.NewLock(redisClient)
	case "postgres":
		taskQueue = postgresqueue.NewQueue(db.DB)
		dutyLock = postgres.NewAdvisoryLock(db)
	default:
		return fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
	logger.Info("task queue ready", "driver", cfg.Queue.Driver)

	// ===== Embedding provider, doubling as the tokenizer =====
	provider, err := jina.NewClient(jina.Config{
		BaseURL:      cfg.Embedding.BaseURL,
		APIKey:       cfg.Embedding.APIKey,
		Model:        cfg.Embedding.Model,
		Dimensions:   cfg.Embedding.Dimensions,
		Timeout:      cfg.Embedding.Timeout(),
		RateLimitRPS: cfg.Embedding.RateLimitRPS,
	})
	if err != nil {
		return fmt.Errorf("create embedding client: %w", err)
	}
	defer provider.Close()

	// ===== Qdrant: the hybrid vector index =====
	vectorStore := qdrant.NewVectorStore(qdrant.Config{
		URL:        cfg.Qdrant.URL,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
		Timeout:    cfg.Qdrant.Timeout(),
	})
	if err := vectorStore.EnsureCollection(ctx, provider.Dimensions()); err != nil {
		return fmt.Errorf("ensure vector collection: %w", err)
	}
	logger.Info("qdrant collection ready",
		"collection", cfg.Qdrant.Collection, "dimensions", provider.Dimensions())

	// ===== Object store for the raw uploaded artifacts =====
	blobStore, err := minioadapter.NewBlobStore(ctx, minioadapter.Config{
		Endpoint:  cfg.Blob.Endpoint,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
		Bucket:    cfg.Blob.Bucket,
		UseSSL:    cfg.Blob.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}
	logger.Info("blob store ready", "bucket", cfg.Blob.Bucket)

	// ===== Pipeline stages =====
	collector := metrics.NewCollector(nil)

	split, err := splitter.New(splitter.Config{
		ParentSize: cfg.Splitter.ParentSize,
		ChildSize:  cfg.Splitter.ChildSize,
		Overlap:    cfg.Splitter.Overlap,
	}, provider)
	if err != nil {
		return fmt.Errorf("create splitter: %w", err)
	}

	sparseGen, err := sparse.NewGenerator(sparse.Config{
		K1:        cfg.Sparse.K1,
		B:         cfg.Sparse.B,
		VocabSize: cfg.Sparse.VocabSize,
	})
	if err != nil {
		return fmt.Errorf("create sparse generator: %w", err)
	}

	embedCfg := embedder.DefaultConfig()
	embedCfg.CacheTTL = cfg.Embedding.CacheTTL()
	batcher := embedder.New(embedCfg, provider, provider, cache, logger, collector)

	uploadCfg := uploader.DefaultConfig()
	uploadCfg.BatchSize = cfg.Upload.BatchSize
	up, err := uploader.New(uploadCfg, vectorStore, logger, collector)
	if err != nil {
		return fmt.Errorf("create uploader: %w", err)
	}

	// ===== Core services =====
	ingestService := services.NewIngestService(services.DefaultIngestConfig(), services.IngestDeps{
		Documents: documentStore,
		Chunks:    chunkStore,
		Quotas:    quotaStore,
		Blobs:     blobStore,
		Vectors:   vectorStore,
		Stats:     statsStore,
		Cache:     cache,
		Queue:     taskQueue,
		Converter: convert.NewMarkdownConverter(),
		Splitter:  split,
		Enricher:  enricher.New(),
		Sparse:    sparseGen,
		Batcher:   batcher,
		Uploader:  up,
		Logger:    logger,
		Metrics:   collector,
	})

	searchService := services.NewSearchService(services.SearchConfig{
		RRFK:         cfg.Search.RRFK,
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
		CacheTTL:     cfg.Search.CacheTTL(),
	}, batcher, sparseGen, statsStore, vectorStore, chunkStore, cache, logger, collector)

	maintenanceService := services.NewMaintenanceService(services.DefaultMaintenanceConfig(), services.MaintenanceDeps{
		Documents: documentStore,
		Stats:     statsStore,
		Snapshots: snapshotStore,
		Cache:     cache,
		Queue:     taskQueue,
		Scheduler: schedulerStore,
		Lock:      dutyLock,
		Logger:    logger,
	})

	// ===== Worker =====
	w := worker.New(worker.Config{
		Queue:       taskQueue,
		Ingest:      ingestService,
		Maintenance: maintenanceService,
		Logger:      logger,
		Metrics:     collector,
		Concurrency: cfg.Worker.Concurrency,
	})

	if err := maintenanceService.Start(ctx); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		_ = maintenanceService.Stop(context.Background())
		return fmt.Errorf("start worker: %w", err)
	}

	// ===== Local health/metrics listener =====
	srv := newOpsServer(cfg.Worker.Port, w, searchService, collector, []namedHealther{
		{"postgres", func(ctx context.Context) error { return db.PingContext(ctx) }},
		{"redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		{"qdrant", vectorStore.HealthCheck},
		{"blob", blobStore.HealthCheck},
	}, logger)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops listener failed", "error", err)
		}
	}()
	logger.Info("worker running", "ops_port", cfg.Worker.Port, "concurrency", cfg.Worker.Concurrency)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	w.Stop()
	if err := maintenanceService.Stop(shutdownCtx); err != nil {
		logger.Warn("maintenance stop", "error", err)
	}
	return nil
}

type namedHealther struct {
	name  string
	check func(context.Context) error
}

// newOpsServer builds the local listener: /healthz with per-backend status,
// /metrics with the Prometheus registry, and an internal search endpoint
// for operators to probe the index. None of this is the product API.
func newOpsServer(port int, w *worker.Worker, search driving.SearchService, collector *metrics.Collector, checks []namedHealther, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/internal/search", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Query    string               `json:"query"`
			OrgID    string               `json:"org_id"`
			CourseID string               `json:"course_id"`
			Options  domain.SearchOptions `json:"options"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		tenant := domain.Tenant{OrgID: req.OrgID, CourseID: req.CourseID}
		result, err := search.Search(r.Context(), req.Query, tenant, req.Options)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, domain.ErrValidation) {
				status = http.StatusBadRequest
			}
			http.Error(rw, err.Error(), status)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(rw).Encode(result); err != nil {
			logger.Error("failed to write search response", "error", err)
		}
	})
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := w.Health(ctx)
		backends := make(map[string]string, len(checks))
		healthy := health.Running && health.QueueHealth
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				backends[c.name] = err.Error()
				healthy = false
			} else {
				backends[c.name] = "ok"
			}
		}

		rw.Header().Set("Content-Type", "application/json")
		if !healthy {
			rw.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(rw).Encode(map[string]any{
			"worker":   health,
			"backends": backends,
		}); err != nil {
			logger.Error("failed to write health response", "error", err)
		}
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
