package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/shiomiya/notihub/internal/api"
	"github.com/shiomiya/notihub/internal/circuitbreaker"
	"github.com/shiomiya/notihub/internal/config"
	"github.com/shiomiya/notihub/internal/db"
	"github.com/shiomiya/notihub/internal/dispatch"
	"github.com/shiomiya/notihub/internal/metrics"
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
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting notihub api",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		AppName:  "notihub-api",
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Repositories
	messages := db.NewMessageRepository(database, logger)
	channels := db.NewChannelRepository(database, logger)
	results := db.NewDeliveryResultRepository(database, logger)

	// Redis backs the settings cache; the API degrades to
	// Postgres-only reads without it.
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	var settingsCache *redis.SettingsCache
	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, settings cache disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		settingsCache = redis.NewSettingsCache(redisClient, logger)
		defer redisClient.Close()
	}

	settingsStore := settings.New(database, settingsCache, logger)

	// Providers for the immediate (unscheduled) send path. Scheduled
	// delivery goes through the daemon process instead.
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

	// Daemon supervision
	pidFile := supervisor.NewPIDFile(cfg.PIDFile)
	sup := supervisor.New(supervisor.Config{DaemonBin: cfg.DaemonBin}, pidFile, logger)
	heartbeat := scheduler.NewHeartbeat(cfg.HeartbeatFile)
	healthChecker := supervisor.NewHealthChecker(
		heartbeat, pidFile, database, messages, settingsStore, cfg.LogFile, logger,
	)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(
		logger, messages, results, channels, processor,
		sup, healthChecker, settingsStore, cfg.LogFile,
	)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", handler.CreateMessage)
		r.Post("/messages/schedule", handler.ScheduleMessage)
		r.Get("/messages", handler.ListMessages)
		r.Get("/messages/{id}", handler.GetMessage)
		r.Delete("/messages/{id}", handler.DeleteMessage)

		r.Post("/channels", handler.CreateChannel)
		r.Get("/channels", handler.ListChannels)
		r.Patch("/channels/{id}", handler.PatchChannel)
		r.Delete("/channels/{id}", handler.DeleteChannel)

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/status", handler.GetSchedulerStatus)
			r.Get("/logs", handler.GetSchedulerLogs)
			r.Post("/start", handler.StartScheduler)
			r.Post("/stop", handler.StopScheduler)
			r.Post("/restart", handler.RestartScheduler)
		})

		r.Get("/settings/scheduler", handler.GetSchedulerSettings)
		r.Put("/settings/scheduler", handler.PutSchedulerSettings)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
