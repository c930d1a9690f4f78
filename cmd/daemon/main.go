package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shiomiya/notihub/internal/circuitbreaker"
	"github.com/shiomiya/notihub/internal/config"
	"github.com/shiomiya/notihub/internal/db"
	"github.com/shiomiya/notihub/internal/dispatch"
	"github.com/shiomiya/notihub/internal/observ"
	"github.com/shiomiya/notihub/internal/redis"
	"github.com/shiomiya/notihub/internal/scheduler"
	"github.com/shiomiya/notihub/internal/settings"
	"github.com/shiomiya/notihub/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// The daemon logs to its own file so the management API can tail
	// it, with a stderr copy for interactive runs.
	logger, closeLogger, err := observ.NewDaemonLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer closeLogger()

	// The PID file is the supervisor's handle on this process; write it
	// first so a start request can confirm liveness.
	pidFile := supervisor.NewPIDFile(cfg.PIDFile)
	if err := pidFile.Write(os.Getpid()); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	defer pidFile.Remove()

	logger.Info("scheduler daemon boot",
		zap.Int("pid", os.Getpid()),
		zap.String("pid_file", cfg.PIDFile),
		zap.String("heartbeat_file", cfg.HeartbeatFile),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		AppName:  "notihub-daemon",
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	var settingsCache *redis.SettingsCache
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, settings cache disabled", zap.Error(err))
	} else {
		settingsCache = redis.NewSettingsCache(redisClient, logger)
		defer redisClient.Close()
	}

	settingsStore := settings.New(database, settingsCache, logger)
	schedCfg, err := settingsStore.LoadScheduler(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scheduler settings: %w", err)
	}

	messages := db.NewMessageRepository(database, logger)
	channels := db.NewChannelRepository(database, logger)
	results := db.NewDeliveryResultRepository(database, logger)

	providerTimeout := time.Duration(cfg.ProviderTimeout) * time.Second
	lineSender := circuitbreaker.NewProtectedSender(
		dispatch.NewLineSender(logger, dispatch.LineConfig{Timeout: providerTimeout}),
		circuitbreaker.New(circuitbreaker.DefaultConfig("line"), logger),
		logger,
	)
	telegramSender := circuitbreaker.NewProtectedSender(
		dispatch.NewTelegramSender(logger, dispatch.TelegramConfig{Timeout: providerTimeout}),
		circuitbreaker.New(circuitbreaker.DefaultConfig("telegram"), logger),
		logger,
	)
	multiSender := dispatch.NewMultiSender(lineSender, telegramSender)

	recorder := scheduler.NewRecorder(messages, results, logger)
	processor := scheduler.NewProcessor(messages, channels, recorder, multiSender, logger)
	heartbeat := scheduler.NewHeartbeat(cfg.HeartbeatFile)

	daemon := scheduler.NewDaemon(schedCfg, messages, processor, heartbeat, logger)
	if err := daemon.Run(ctx); err != nil {
		return fmt.Errorf("daemon stopped: %w", err)
	}

	logger.Info("scheduler daemon exited cleanly")
	return nil
}
