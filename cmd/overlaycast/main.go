package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/services"
	httphandlers "overlaycast/internal/handlers/http"
	infrabackup "overlaycast/internal/infrastructure/backup"
	"overlaycast/internal/infrastructure/iplookup"
	"overlaycast/internal/infrastructure/middleware"
	"overlaycast/internal/infrastructure/monitoring"
	repositories "overlaycast/internal/infrastructure/repositories"
	socket "overlaycast/internal/infrastructure/signal"
	"overlaycast/pkg/backup"
	"overlaycast/pkg/config"
	"overlaycast/pkg/logger"
	"overlaycast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const version = "1.0.0"

func main() {
	startTime := time.Now()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		logger.New("info", "json").Sugar().Fatalw("failed to load config", "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	rootCtx, stopRoot := context.WithCancel(context.Background())
	defer stopRoot()

	repoFactory, err := repositories.NewRepositoryFactory(rootCtx, cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	eventRepo := repoFactory.EventRepository()
	log.Infow("layout storage ready", "backend", repoFactory.Backend(), "instance_id", repoFactory.InstanceID())

	collector := monitoring.NewPrometheusCollector(nil)

	storeCfg := services.LayoutStoreConfig{
		Bounds:       domain.Bounds{Width: cfg.Layout.ContainerWidth, Height: cfg.Layout.ContainerHeight},
		LoadTimeout:  cfg.Layout.LoadTimeout,
		WriteTimeout: cfg.Layout.WriteTimeout,
	}
	eventService := services.NewEventService(eventRepo, iplookup.New(cfg, log), collector, log, storeCfg)

	socketServer := socket.NewLayoutSocketServer(eventService, socket.ServerConfigFromConfig(cfg), collector, log)
	eventHandler := httphandlers.NewEventHandler(eventService)

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddStorageCheck(repoFactory.Backend(), repoFactory, 2*time.Second)
	healthChecker.AddConnectionLimitCheck(socketServer.ConnectionCount, cfg.RateLimiting.WebSocket.MaxConcurrent)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RequestIDMiddleware(),
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.AccessLogMiddleware(logger.NewContextLogger(log)),
		middleware.ErrorHandlerMiddleware(log),
	)
	if cfg.Monitoring.PrometheusEnabled {
		router.Use(collector.Middleware())
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    monitoring.StatusHealthy,
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"version":   version,
		})
	})
	router.GET("/ready", healthChecker.ReadinessHandler)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(collector.Handler()))
		log.Infow("Prometheus metrics enabled", "path", cfg.Monitoring.MetricsPath)
	}

	// Sockets are long-lived; the HTTP limiter only guards the REST API.
	events := router.Group("/event/:eventId", middleware.EventIDMiddleware())
	events.GET("/admin", socketServer.HandleAdmin)
	events.GET("/watch", socketServer.HandleWatch)

	api := router.Group("/api/v1", middleware.NewHTTPRateLimitMiddleware(cfg))
	eventHandler.SetupRoutes(api)

	var scheduler *infrabackup.Scheduler
	if cfg.Backup.Enabled {
		storage, err := backup.NewFileStorage(cfg.Backup.Directory)
		if err != nil {
			log.Fatalw("failed to create backup storage", "error", err)
		}
		backupService := backup.NewBackupService(storage, version)
		scheduler = infrabackup.NewScheduler(backupService, eventRepo, infrabackup.Config{
			Interval:      cfg.Backup.Interval,
			RetentionDays: cfg.Backup.RetentionDays,
		}, log)
		if lm := repoFactory.LockManager(); lm != nil {
			scheduler.WithLock(func() infrabackup.Locker {
				return lm.AcquireLock("backup", time.Minute)
			})
		}
		restoreService := infrabackup.NewRestoreService(backupService, eventRepo, log)

		httphandlers.NewBackupHandler(scheduler, backupService, restoreService).SetupRoutes(api)
		go scheduler.Start(rootCtx)
		log.Infow("scheduled backups enabled", "directory", cfg.Backup.Directory, "interval", cfg.Backup.Interval)
	}

	// Upgraded sockets replace these deadlines with their own ping/pong ones.
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting overlaycast server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down overlaycast server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if scheduler != nil {
		scheduler.Stop()
	}

	// Shutdown does not wait for hijacked connections.
	socketServer.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := eventService.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error flushing layout sessions", "error", err)
	}

	stopRoot()
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("overlaycast server stopped")
}

// loadConfig reads the first config file that exists. Without one, defaults
// and environment overrides apply.
func loadConfig() (*config.Config, error) {
	paths := []string{
		os.Getenv("OVERLAYCAST_CONFIG"),
		"configs/config.yaml",
		"/etc/overlaycast/config.yaml",
		"config.yaml",
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}
	return config.Load("")
}
