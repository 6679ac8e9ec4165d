package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"tradeops/internal/alerts"
	"tradeops/internal/api"
	"tradeops/internal/api/middleware"
	"tradeops/internal/config"
	"tradeops/internal/exchange"
	"tradeops/internal/repository"
	"tradeops/internal/service"
	"tradeops/internal/websocket"
	"tradeops/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		utils.InitLogger(utils.LogConfig{}).Fatal("failed to load config", zap.Error(err))
	}

	logger := utils.InitLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer logger.Sync()

	ctx := context.Background()

	// AWS конфигурация нужна только для DynamoDB и SNS
	var awsCfg *aws.Config
	if cfg.Store.Backend == config.StoreBackendDynamoDB || cfg.Alerts.SNSTopicARN != "" {
		loaded, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Store.AWSRegion))
		if err != nil {
			logger.Fatal("failed to load aws config", zap.Error(err))
		}
		awsCfg = &loaded
	}

	// Хранилище ордеров
	store, closeStore, err := initStore(ctx, cfg, awsCfg, logger.Logger)
	if err != nil {
		logger.Fatal("failed to init order store", zap.Error(err))
	}
	defer closeStore()

	// Адаптеры бирж
	registry := initExchanges(cfg, logger.WithComponent("exchanges").Logger)
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("error closing exchange adapters", zap.Error(err))
		}
	}()

	// Сервисы
	manager := service.NewOrderManager(store, registry, logger.Named("order_manager"))
	tracker := service.NewStuckOrderTracker(cfg.StuckOrderConfig())
	stuckOrders := service.NewStuckOrderService(store, manager, tracker, logger.Named("stuck_orders"))

	// WebSocket hub - push эскалаций операторам
	hub := websocket.NewHub(logger.WithComponent("websocket").Logger)
	go hub.Run()
	defer hub.Stop()
	stuckOrders.AddNotifier(hub)

	// SNS - внешние алерты
	if cfg.Alerts.SNSTopicARN != "" {
		notifier, err := alerts.NewSNSNotifier(
			sns.NewFromConfig(*awsCfg, func(o *sns.Options) {
				if cfg.Store.AWSEndpoint != "" {
					o.BaseEndpoint = aws.String(cfg.Store.AWSEndpoint)
				}
			}),
			alerts.Config{
				TopicARN:   cfg.Alerts.SNSTopicARN,
				MaxRetries: uint(cfg.Alerts.MaxRetries),
			},
			logger.Logger,
		)
		if err != nil {
			logger.Fatal("failed to init sns notifier", zap.Error(err))
		}
		defer notifier.Close()
		stuckOrders.AddNotifier(notifier)
		logger.Info("sns alerts enabled", zap.String("topic_arn", cfg.Alerts.SNSTopicARN))
	}

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		StuckOrderService: stuckOrders,
		Hub:               hub,
		Auth: middleware.AuthConfig{
			Username:     cfg.Security.OperatorUser,
			PasswordHash: cfg.Security.OperatorPasswordHash,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger.Logger,
	})

	// HTTP сервер
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Exchanges.RequestTimeout + 15*time.Second, // ответ ждёт биржу
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("starting server",
			zap.String("addr", server.Addr),
			zap.String("order_store", cfg.Store.Backend),
			zap.Strings("exchanges", registry.Names()))

		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// доотправка событий эскалации до остановки hub и SNS
	if err := stuckOrders.WaitNotifications(shutdownCtx); err != nil {
		logger.Warn("pending intervention notifications dropped", zap.Error(err))
	}

	logger.Info("server exited")
}

// initStore создает хранилище ордеров выбранного бэкенда
func initStore(ctx context.Context, cfg *config.Config, awsCfg *aws.Config, logger *zap.Logger) (service.OrderStoreInterface, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendDynamoDB:
		client := dynamodb.NewFromConfig(*awsCfg, func(o *dynamodb.Options) {
			if cfg.Store.AWSEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Store.AWSEndpoint)
			}
		})
		logger.Info("using dynamodb order store",
			zap.String("table", cfg.Store.DynamoTable),
			zap.String("region", cfg.Store.AWSRegion))
		return repository.NewDynamoOrderRepository(client, cfg.Store.DynamoTable), func() {}, nil

	default:
		db, err := initDatabase(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))
		return repository.NewOrderRepository(db), func() { db.Close() }, nil
	}
}

// initDatabase создает подключение к базе данных
func initDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// initExchanges регистрирует адаптеры бирж, для которых заданы ключи
func initExchanges(cfg *config.Config, logger *zap.Logger) *exchange.Registry {
	registry := exchange.NewRegistry()

	httpCfg := exchange.DefaultHTTPClientConfig()
	httpCfg.TotalTimeout = cfg.Exchanges.RequestTimeout

	if b := cfg.Exchanges.Bybit; b.Enabled() {
		adapter := exchange.NewBybit(exchange.BybitConfig{
			APIKey:    b.APIKey,
			SecretKey: b.SecretKey,
			BaseURL:   b.BaseURL,
			Category:  b.Category,
			RateLimit: b.RateLimit,
			Burst:     b.Burst,
		}, exchange.NewHTTPClient(httpCfg))

		if err := registry.Register(adapter); err != nil {
			logger.Warn("failed to register exchange", utils.Exchange(adapter.Name()), zap.Error(err))
		}
	} else {
		logger.Warn("bybit credentials not set, exchange actions will be unavailable")
	}

	return registry
}
