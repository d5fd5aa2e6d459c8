package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/internal/application/dispatcher"
	"github.com/taskflowhq/taskflow/internal/application/service"
	"github.com/taskflowhq/taskflow/internal/config"
	"github.com/taskflowhq/taskflow/internal/infrastructure/persistence/repository"
	"github.com/taskflowhq/taskflow/internal/infrastructure/worker"
	httpiface "github.com/taskflowhq/taskflow/internal/interfaces/http"
	"github.com/taskflowhq/taskflow/internal/token"
	"github.com/taskflowhq/taskflow/pkg/database"
	"github.com/taskflowhq/taskflow/pkg/utils"
)

func main() {
	// Local development secrets; absence is fine in production.
	_ = gotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting task lifecycle engine",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Database and migrations
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	if err := database.NewMigrator(db, logger).Run(); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	taskRepo := repository.NewTaskRepository(db, logger)
	historyRepo := repository.NewHistoryRepository(db, logger)
	notifRepo := repository.NewNotificationRepository(db, logger)
	actorRepo := repository.NewActorRepository(db, logger)

	// Event dispatcher; Close drains in-flight async handlers on shutdown.
	svcLogger := utils.NewServiceLogger(logger)
	d := dispatcher.New(dispatcher.WithLogger(svcLogger))

	// Services
	codec := token.NewCodec([]byte(cfg.Token.SigningKey), token.WithTTL(cfg.Token.TTL))
	taskService := service.NewTaskService(taskRepo, historyRepo, actorRepo, d, svcLogger)
	approvalService := service.NewApprovalService(taskRepo, historyRepo, actorRepo, d, svcLogger)
	tokenService := service.NewTokenService(codec, taskRepo, historyRepo, actorRepo, d, svcLogger)
	notificationService := service.NewNotificationService(notifRepo, taskRepo, svcLogger)
	notificationService.Register(d)

	// Background workers
	sweeper := worker.NewReminderSweeper(taskRepo, d, logger,
		worker.WithInterval(cfg.Reminder.Interval),
		worker.WithStaleThreshold(cfg.Reminder.StaleThreshold),
		worker.WithResendWindow(cfg.Reminder.ResendWindow),
	)
	workers := worker.NewManager(logger)
	if cfg.Reminder.Enabled {
		workers.Register(sweeper)
	}
	if err := workers.StartAll(context.Background()); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	// HTTP server
	server := httpiface.NewServer(
		httpiface.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		taskService,
		approvalService,
		tokenService,
		notificationService,
		historyRepo,
		actorRepo,
		sweeper,
		svcLogger,
	)

	serverCtx, serverCancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(serverCtx)
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Stop accepting requests first, then let workers finish their sweep,
	// then drain the dispatcher so no notification is lost.
	select {
	case <-quit:
		logger.Info("Shutting down...")
		serverCancel()
		if err := <-serverErr; err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
	case err := <-serverErr:
		serverCancel()
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	if err := workers.StopAll(); err != nil {
		logger.Error("Worker shutdown failed", zap.Error(err))
	}
	if err := d.Close(); err != nil {
		logger.Error("Dispatcher shutdown failed", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
