// Package bootstrap constructs every shared resource once at startup and
// hands explicit references down; nothing in the process reaches for a
// global client.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pdfchat/internal/ai"
	appsvc "pdfchat/internal/app"
	"pdfchat/internal/cache"
	"pdfchat/internal/chunk"
	"pdfchat/internal/config"
	"pdfchat/internal/index"
	"pdfchat/internal/loader"
	"pdfchat/internal/model"
	mysqlClient "pdfchat/internal/platform/mysql"
	rabbitmqClient "pdfchat/internal/platform/rabbitmq"
	redisClient "pdfchat/internal/platform/redis"
	"pdfchat/internal/repository"
	"pdfchat/internal/worker"
)

type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	MySQL       *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	ChatService *appsvc.ChatService
	TurnWorker  *worker.TurnPersistWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger, err := newLogger(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("build logger failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(
		&model.Session{},
		&model.Turn{},
		&model.DocumentIndex{},
		&model.IndexedChunk{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	turnRepo := repository.NewTurnRepository(mysqlDB)
	sessionRepo := repository.NewSessionRepository(mysqlDB)
	indexRepo := repository.NewIndexRepository(mysqlDB)

	turnWorker := worker.NewTurnPersistWorker(mqConn, turnRepo, cfg.RabbitMQ.TurnPersistQueue, logger)
	if err := turnWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start turn worker failed: %w", err)
	}

	aiClient := ai.NewClient(ai.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		ChatModel:      cfg.LLM.ChatModel,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	})

	splitter := chunk.NewSplitter(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
	indexStore := index.NewStore(
		indexRepo,
		aiClient,
		splitter,
		cfg.Retrieval.IndexCacheSize,
		cfg.Retrieval.EmbedBatchSize,
		cfg.LLM.MaxRetries,
		logger,
	)
	retriever := index.NewRetriever(aiClient, cfg.LLM.MaxRetries)

	docLoader := loader.NewObjectLoader(
		time.Duration(cfg.Loader.TimeoutSeconds)*time.Second,
		int64(cfg.Loader.MaxPDFSizeMB)<<20,
	)

	historyCache := cache.NewHistoryCache(
		redisCli,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	publisher := rabbitmqClient.NewTurnPublisher(mqConn, cfg.RabbitMQ.TurnPersistQueue)

	chatService := appsvc.NewChatService(
		appsvc.NewSessionManager(),
		sessionRepo,
		turnRepo,
		indexStore,
		retriever,
		aiClient,
		docLoader,
		publisher,
		historyCache,
		logger,
		appsvc.ChatServiceConfig{
			TopK:            cfg.Retrieval.TopK,
			MaxHistoryTurns: cfg.LLM.MaxHistoryTurns,
			MaxRetries:      cfg.LLM.MaxRetries,
		},
	)

	return &App{
		Config:      cfg,
		Logger:      logger,
		MySQL:       mysqlDB,
		Redis:       redisCli,
		MQConn:      mqConn,
		ChatService: chatService,
		TurnWorker:  turnWorker,
		StartedAt:   time.Now(),
	}, nil
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" || env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func (a *App) Close() error {
	var closeErr error
	if a.TurnWorker != nil {
		a.TurnWorker.Close()
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
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}
