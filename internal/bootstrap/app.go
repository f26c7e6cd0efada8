package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"chatpdf/internal/ai"
	"chatpdf/internal/app"
	"chatpdf/internal/budget"
	"chatpdf/internal/cache"
	"chatpdf/internal/config"
	"chatpdf/internal/embedding"
	"chatpdf/internal/model"
	"chatpdf/internal/pkg/extract"
	"chatpdf/internal/pkg/segment"
	mysqlClient "chatpdf/internal/platform/mysql"
	rabbitmqClient "chatpdf/internal/platform/rabbitmq"
	redisClient "chatpdf/internal/platform/redis"
	"chatpdf/internal/repository"
	"chatpdf/internal/storage"
	"chatpdf/internal/transport/http/handler"
	"chatpdf/internal/worker"
)

type App struct {
	Config *config.Config
	Logger zerolog.Logger

	MySQL     *gorm.DB
	Redis     *redis.Client
	MQConn    *amqp.Connection
	Store     *storage.SessionStore
	Publisher *rabbitmqClient.SnapshotPublisher
	Worker    *worker.HistoryPersistWorker

	Ingest   *app.IngestService
	Query    *app.QueryService
	Sessions *app.SessionService
	History  *app.HistoryService

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger := NewLogger(cfg.App)

	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	store, err := storage.NewSessionStore(cfg.IndexDir(), cfg.UploadsDir(), a.Logger)
	if err != nil {
		return err
	}
	a.Store = store

	a.MySQL, err = mysqlClient.New(ctx, cfg.MySQLDSN(), mysqlClient.DefaultOptions(), &model.ChatSession{}, &model.ChatMessage{})
	if err != nil {
		return err
	}
	a.Redis, err = redisClient.New(ctx, redisClient.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.HistoryPersistQueue)
	if err != nil {
		return err
	}

	counter := budget.NewEstimator(a.Logger)
	governor := budget.NewGovernor(budget.Limits{
		MaxPerDocument: cfg.Ingest.MaxTokensPerDocument,
		MaxPerSession:  cfg.Ingest.MaxTokensPerSession,
	})
	client := ai.NewClient(ai.Config{
		Provider:       cfg.LLM.Provider,
		BaseURL:        cfg.LLM.BaseURL,
		AccountID:      cfg.LLM.AccountID,
		APIKey:         cfg.LLM.APIKey,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		ChatModel:      cfg.LLM.ChatModel,
		Timeout:        cfg.LLMTimeout(),
	})
	batcher := embedding.NewBatcher(client, counter, embedding.Options{
		MaxTokensPerBatch: cfg.Ingest.MaxTokensPerBatch,
		BatchTimeout:      cfg.LLMTimeout(),
	}, a.Logger)

	segOpts := segment.DefaultOptions()
	segOpts.ChunkSize = cfg.Ingest.ChunkSize
	segOpts.Overlap = cfg.Ingest.ChunkOverlap
	segOpts.PrefixMaxTokens = cfg.Ingest.PrefixMaxTokens

	historyRepo := repository.NewChatHistoryRepository(a.MySQL)
	historyCache := cache.NewHistoryCache(a.Redis,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	a.Publisher = rabbitmqClient.NewSnapshotPublisher(a.MQConn, cfg.RabbitMQ.HistoryPersistQueue)
	a.Worker = worker.NewHistoryPersistWorker(a.MQConn, historyRepo, historyCache, cfg.RabbitMQ.HistoryPersistQueue, a.Logger)
	if err := a.Worker.Start(ctx); err != nil {
		return fmt.Errorf("start history worker failed: %w", err)
	}

	a.History = app.NewHistoryService(historyRepo, historyCache, a.Publisher, a.Logger)
	a.Ingest = app.NewIngestService(store, extract.NewRegistry(cfg.Ingest.AllowedExtensions), counter, governor, batcher, app.IngestOptions{
		MaxUploadBytes:     cfg.Ingest.MaxUploadBytes,
		HardDocumentTokens: cfg.Ingest.MaxTokensPerDocument,
		Segment:            segOpts,
		Workers:            cfg.Ingest.ExtractWorkers,
	}, a.Logger)
	a.Query = app.NewQueryService(store, batcher, client, counter, cfg.Ingest.MaxContextTokens, a.Logger)
	a.Sessions = app.NewSessionService(store, batcher, counter, governor, a.History, a.Logger)

	a.Logger.Info().
		Str("provider", client.Provider()).
		Str("data_dir", cfg.Storage.DataDir).
		Int("max_tokens_per_session", governor.Limits().MaxPerSession).
		Msg("application initialized")
	return nil
}

// HealthChecks lists the dependencies reported by /healthz.
func (a *App) HealthChecks() map[string]handler.Check {
	return map[string]handler.Check{
		"mysql": func(ctx context.Context) error { return mysqlClient.Ping(ctx, a.MySQL) },
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx, a.Redis) },
		"rabbitmq": func(context.Context) error {
			return rabbitmqClient.Ping(a.MQConn)
		},
		"storage": func(context.Context) error { return a.Store.Check() },
	}
}

// NewLogger writes human readable output in dev and JSON elsewhere.
func NewLogger(cfg config.AppConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Env == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("app", cfg.Name).Logger()
}

func (a *App) Close() error {
	var closeErr error
	if a.Worker != nil {
		a.Worker.Close()
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		if err := mysqlClient.Close(a.MySQL); err != nil {
			closeErr = err
		}
	}
	return closeErr
}
