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

	_ "github.com/lib/pq"

	"riskguard/internal/api"
	"riskguard/internal/bot"
	"riskguard/internal/broker"
	"riskguard/internal/config"
	"riskguard/internal/repository"
	"riskguard/internal/service"
	"riskguard/internal/websocket"
	"riskguard/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer logger.Sync()

	logger.Info("starting riskguard",
		utils.String("mode", cfg.TradingMode),
		utils.String("broker", cfg.Broker.Name),
		utils.Dur("interval", cfg.Monitor.Interval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// База данных опциональна: без неё работаем только в памяти
	var (
		db               *sql.DB
		tradeRepo        service.TradeRepositoryInterface
		settingsRepo     service.SettingsRepositoryInterface
		notificationRepo service.NotificationRepositoryInterface
		recorder         bot.TradeRecorder
	)
	if cfg.Database.Enabled {
		db, err = initDatabase(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to connect to database",
				utils.String("dsn", cfg.Database.DSNWithoutPassword()), utils.Err(err))
		}
		defer db.Close()
		logger.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

		trades := repository.NewTradeRepository(db)
		tradeRepo, recorder = trades, trades
		settingsRepo = repository.NewSettingsRepository(db)
		notificationRepo = repository.NewNotificationRepository(db)
	} else {
		logger.Warn("database disabled, trades and notifications are kept in memory only")
	}

	// Брокер
	b, err := broker.NewBroker(broker.Options{
		Name: cfg.Broker.Name,
		Alpaca: broker.AlpacaConfig{
			APIKey:    cfg.Broker.APIKey,
			APISecret: cfg.Broker.APISecret,
			BaseURL:   cfg.Broker.BaseURL,
			DataURL:   cfg.Broker.DataURL,
			RateLimit: cfg.Broker.RateLimit,
		},
		PaperCash: cfg.Broker.PaperCash,
		HTTP:      broker.GetGlobalHTTPClient(),
	})
	if err != nil {
		logger.Fatal("failed to create broker", utils.Err(err))
	}

	// Ядро защиты
	notifier := bot.NewNotifier(cfg.Notifications.Buffer)

	riskManager, err := bot.NewRiskManager(cfg.Risk, notifier, logger)
	if err != nil {
		logger.Fatal("invalid risk limits", utils.Err(err))
	}

	registry := bot.NewStopRegistry(bot.RegistryOptions{
		MaxFetchFailures: cfg.Monitor.MaxFetchFailures,
		BackoffBase:      cfg.Monitor.BackoffBase,
		BackoffMax:       cfg.Monitor.BackoffMax,
	}, logger)

	retryCfg := bot.DefaultDispatcherConfig().Retry
	retryCfg.MaxAttempts = cfg.Dispatch.MaxRetries + 1
	dispatcher := bot.NewOrderDispatcher(b, registry, riskManager, recorder, notifier, bot.DispatcherConfig{
		CallTimeout:      cfg.Dispatch.CallTimeout,
		Retry:            retryCfg,
		FillPollInterval: cfg.Dispatch.FillPollInterval,
		FillTimeout:      cfg.Dispatch.FillTimeout,
	}, logger)

	// WebSocket hub
	websocket.SetAllowedOrigins(cfg.Security.AllowedOrigins)
	hub := websocket.NewHub(logger)
	go hub.Run()

	monitor := bot.NewMonitor(b, registry, riskManager, dispatcher, notifier, hub, bot.MonitorConfig{
		Interval:     cfg.Monitor.Interval,
		FetchTimeout: cfg.Monitor.FetchTimeout,
		MaxParallel:  cfg.Monitor.MaxParallel,
	}, logger)

	// Сервисы
	stopService := service.NewStopService(registry, b, logger)
	stopService.SetWebSocketHub(hub)

	riskService := service.NewRiskService(riskManager, b, settingsRepo, tradeRepo, logger)
	riskService.SetWebSocketHub(hub)

	notificationService := service.NewNotificationService(notificationRepo, logger)
	notificationService.SetWebSocketHub(hub)

	tradeService := service.NewTradeService(tradeRepo)

	// Восстановление состояния с начала текущей торговой сессии
	sessionStart := utils.LastOccurrence(time.Now(), cfg.DailyReset.At, cfg.DailyReset.Location)
	riskService.Restore(ctx, sessionStart)

	notificationsDone := make(chan struct{})
	go func() {
		defer close(notificationsDone)
		notificationService.Run(ctx, notifier.C())
	}()

	if notificationRepo != nil {
		go runNotificationCleanup(ctx, notificationService, cfg.Notifications, logger)
	}

	scheduler := bot.NewDailyResetScheduler(riskManager, cfg.DailyReset.At, cfg.DailyReset.Location, logger)
	go scheduler.Run(ctx)

	if err := monitor.Start(ctx); err != nil {
		logger.Fatal("failed to start monitor", utils.Err(err))
	}

	// HTTP
	router := api.SetupRoutes(&api.Dependencies{
		StopService:         stopService,
		RiskService:         riskService,
		NotificationService: notificationService,
		TradeService:        tradeService,
		Monitor:             monitor,
		Hub:                 hub,
		AuthTokenHash:       cfg.Security.APITokenHash,
		CORSOrigins:         cfg.Security.AllowedOrigins,
		Logger:              logger,
	})
	if cfg.Security.APITokenHash == "" {
		logger.Warn("API_TOKEN_HASH is empty, operator API is not authenticated")
	}

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", utils.String("addr", server.Addr), utils.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", utils.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("server failed", utils.Err(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", utils.Err(err))
	}

	// Новых циклов нет, начатые выходы дожидаются подтверждения
	monitor.Stop()
	dispatcher.Wait()

	cancel()
	<-notificationsDone
	hub.Stop()

	if err := b.Close(); err != nil {
		logger.Warn("error closing broker", utils.Err(err))
	}

	logger.Info("server exited")
}

// initDatabase создает подключение к базе данных и схему
func initDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := repository.EnsureSchema(pingCtx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare schema: %w", err)
	}

	return db, nil
}

// runNotificationCleanup периодически обрезает историю уведомлений
func runNotificationCleanup(ctx context.Context, svc *service.NotificationService, cfg config.NotificationConfig, logger *utils.Logger) {
	if cfg.CleanupPeriod <= 0 || cfg.Keep <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := svc.CleanupOld(cfg.Keep)
			if err != nil {
				logger.Warn("notification cleanup failed", utils.Err(err))
				continue
			}
			if deleted > 0 {
				logger.Debug("notifications cleaned up", utils.Int64("deleted", deleted))
			}
		}
	}
}
