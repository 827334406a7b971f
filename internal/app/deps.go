package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/reelscout/backend/internal/audio"
	"github.com/reelscout/backend/internal/auth"
	"github.com/reelscout/backend/internal/config"
	"github.com/reelscout/backend/internal/db"
	"github.com/reelscout/backend/internal/handlers"
	"github.com/reelscout/backend/internal/instagram"
	"github.com/reelscout/backend/internal/metrics"
	"github.com/reelscout/backend/internal/middleware"
	"github.com/reelscout/backend/internal/notify"
	"github.com/reelscout/backend/internal/queue"
	"github.com/reelscout/backend/internal/refresh"
	"github.com/reelscout/backend/internal/repositories"
	"github.com/reelscout/backend/internal/scoring"
	"github.com/reelscout/backend/internal/storage"
	"github.com/reelscout/backend/internal/videos"
	"github.com/reelscout/backend/internal/vision"
)

// components holds the long-lived collaborators shared by the HTTP API,
// the queue workers and the refresh scheduler.
type components struct {
	pool      db.Pool
	metrics   *metrics.Metrics
	redis     *redis.Client
	backend   queue.Backend
	producer  *queue.Producer
	tasks     *repositories.PostgresTaskRepository
	videos    *repositories.PostgresVideoRepository
	connector *instagram.Connector
	processor videos.Processor
	refresher *refresh.Refresher
	limiter   middleware.RateLimiter
}

// cleanupFunc releases resources acquired by buildComponents.
type cleanupFunc func(ctx context.Context) error

// buildComponents wires together concrete implementations. The returned
// cleanup drains pending notifications and closes the Redis client.
func buildComponents(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (*components, cleanupFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	closeRedis := func() error {
		if err := redisClient.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return fmt.Errorf("close redis client: %w", err)
		}
		return nil
	}

	m := metrics.New()
	backend := queue.NewRedisBackend(redisClient)
	taskRepo := repositories.NewPostgresTaskRepository(pool)
	videoRepo := repositories.NewPostgresVideoRepository(pool)
	scorer := scoring.NewEngine(cfg.Thresholds)

	client := instagram.NewClient(instagram.ClientConfig{
		WebBaseURL:    cfg.Instagram.WebBaseURL,
		MobileBaseURL: cfg.Instagram.MobileBaseURL,
		SearchTimeout: cfg.Instagram.SearchTimeout,
		ClaimTimeout:  cfg.Instagram.ClaimTimeout,
	}, cfg.Instagram.Cookies)
	claims := auth.NewClaimCache(client, cfg.Instagram.ClaimTTL)

	notifier := notify.Async(notify.Multi{
		notify.LogNotifier{Logger: logger},
		notify.NewRedisNotifier(redisClient, cfg.Queue.EventsChannel),
	}, logger)
	cleanup := func(ctx context.Context) error {
		return errors.Join(notifier.Close(ctx), closeRedis())
	}

	connector := instagram.NewConnector(instagram.ConnectorDeps{
		Searcher: client,
		Claims:   claims,
		Cookies:  cfg.Instagram.Cookies,
		Scorer:   scorer,
		Videos:   videoRepo,
		Tasks:    taskRepo,
		Notifier: notifier,
		Metrics:  m,
	}, instagram.ConnectorConfig{
		MaxPages:      cfg.Instagram.MaxPages,
		MaxCandidates: cfg.Instagram.MaxCandidates,
		PageDelay:     cfg.Instagram.PageDelay,
		ItemDelay:     cfg.Instagram.ItemDelay,
	})

	processor, err := newProcessor(ctx, cfg, m)
	if err != nil {
		_ = cleanup(ctx)
		return nil, nil, err
	}

	return &components{
		pool:      pool,
		metrics:   m,
		redis:     redisClient,
		backend:   backend,
		producer:  queue.NewProducer(backend),
		tasks:     taskRepo,
		videos:    videoRepo,
		connector: connector,
		processor: processor,
		refresher: refresh.NewRefresher(videoRepo, client, claims, scorer, m),
		limiter:   middleware.NewIPRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateWindow, cfg.HTTP.RateBurst, 0),
	}, cleanup, nil
}

// handlerDependencies exposes the components needed by the HTTP API.
func (c *components) handlerDependencies(cfg config.Config) handlers.Dependencies {
	return handlers.Dependencies{
		Tasks:       c.tasks,
		Queue:       c.producer,
		SearchQueue: cfg.Queue.SearchQueue,
		Videos:      c.videos,
		Processor:   c.processor,
		Limiter:     c.limiter,
		Metrics:     c.metrics,
		SourceHosts: cfg.Acquisition.AllowedHosts,
		HealthChecks: map[string]handlers.HealthCheck{
			"database": c.pingDatabase,
			"redis": func(ctx context.Context) error {
				return c.redis.Ping(ctx).Err()
			},
		},
	}
}

func (c *components) pingDatabase(ctx context.Context) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	return conn.Ping(ctx)
}

// newProcessor builds the acquisition pipeline behind a result cache. The
// object store archive is attached only when a bucket is configured.
func newProcessor(ctx context.Context, cfg config.Config, m *metrics.Metrics) (videos.Processor, error) {
	deps := videos.OrchestratorDeps{
		Downloader: videos.RoutingDownloader{
			Direct: videos.NewHTTPDownloader(cfg.Acquisition.DownloadTimeout, cfg.Acquisition.AllowedHosts),
			Pages:  videos.NewYTDLPDownloader(cfg.Acquisition.YTDLPPath, cfg.Acquisition.YTDLPTimeout),
		},
		Transcoder: videos.NewFFmpeg(cfg.Acquisition.FFmpegPath, cfg.Acquisition.TranscodeTimeout),
		Vision:     vision.NewAnalyzer(vision.NewCommandDetector(cfg.Models.DetectCommand, cfg.Models.Timeout)),
		Audio: audio.NewAnalyzer(
			audio.NewNormalizer(cfg.Acquisition.FFmpegPath, cfg.Acquisition.TranscodeTimeout),
			audio.NewCommandTranscriber(cfg.Models.TranscribeCommand, cfg.Models.Language, cfg.Models.Timeout),
			audio.NewCommandClassifier(cfg.Models.ClassifyCommand, cfg.Models.Timeout),
		),
		Frames:  vision.Frames,
		Metrics: m,
	}
	if cfg.ObjectStore.Enabled() {
		archive, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("configure object store: %w", err)
		}
		deps.Archive = archive
	}

	orchestrator := videos.NewOrchestrator(cfg.ScratchDir, deps)
	return videos.NewCachingProcessor(orchestrator, cfg.Acquisition.ResultCacheTTL), nil
}
