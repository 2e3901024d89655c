package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/logbridge/internal/config"
	"github.com/GoPolymarket/logbridge/internal/deobf"
	"github.com/GoPolymarket/logbridge/internal/handler"
	"github.com/GoPolymarket/logbridge/internal/middleware"
	"github.com/GoPolymarket/logbridge/internal/model"
	"github.com/GoPolymarket/logbridge/internal/pkg/logger"
	"github.com/GoPolymarket/logbridge/internal/repository"
	"github.com/GoPolymarket/logbridge/internal/service"
	"github.com/GoPolymarket/logbridge/internal/sink"
	"github.com/GoPolymarket/logbridge/internal/symbols"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Logger
	logger.Init(cfg.Logging.Level)

	clientLevel, err := model.ParseLevel(cfg.Logging.ClientLevel)
	if err != nil {
		logger.Warn("invalid logging.client_level, using DEBUG", "value", cfg.Logging.ClientLevel)
		clientLevel = model.LevelDebug
	}

	// 3. Initialize Persistence (both optional)
	var redisClient *repository.RedisClient
	if cfg.Redis.Addr != "" {
		redisClient, err = repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
		} else {
			logger.Error("⚠️ Failed to connect to Redis, recent records stay in memory only", "error", err)
			redisClient = nil
		}
	}

	var recordRepo *repository.RecordRepo
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			recordRepo = repository.NewRecordRepo(db)
			if err := recordRepo.Migrate(); err != nil {
				logger.Error("⚠️ Failed to migrate client_logs, database sink disabled", "error", err)
				recordRepo = nil
			} else {
				logger.Info("✅ Connected to database", "driver", cfg.Database.Driver)
			}
		} else {
			logger.Error("⚠️ Failed to connect to DB, records will not be persisted", "error", err)
		}
	}

	// 4. Symbol maps
	var sources []symbols.Source
	for _, dir := range cfg.Symbols.Dirs {
		sources = append(sources, symbols.NewDirSource(dir))
	}
	if cfg.Symbols.RedisEnabled {
		if redisClient != nil {
			sources = append(sources, repository.NewRedisSymbolSource(redisClient.Client, cfg.Symbols.RedisPrefix))
		} else {
			logger.Warn("symbols.redis_enabled is set but Redis is not connected")
		}
	}
	store := symbols.NewStore(logger.Get(), sources...)
	if !store.HasSources() {
		logger.Warn("In order to enable stack trace deobfuscation, set symbols.dirs or symbols.redis_enabled")
	} else {
		validateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store.Validate(validateCtx)
		cancel()
	}

	// 5. Sinks
	buffer := sink.NewBuffer(cfg.Sink.BufferSize)
	hub := sink.NewHub()
	sinks := sink.Multi{
		sink.NewSlogSink(os.Stdout, clientLevel),
		buffer,
		hub,
	}
	var asyncSinks []*sink.Async
	var redisRecords *repository.RedisRecordRepo
	if redisClient != nil {
		redisRecords = repository.NewRedisRecordRepo(redisClient.Client, cfg.Redis.ListKey, cfg.Redis.ListMax)
		a := sink.NewAsync("redis", redisRecords, cfg.Sink.AsyncQueue, logger.Get())
		asyncSinks = append(asyncSinks, a)
		sinks = append(sinks, a)
	}
	if recordRepo != nil {
		a := sink.NewAsync("database", recordRepo, cfg.Sink.AsyncQueue, logger.Get())
		asyncSinks = append(asyncSinks, a)
		sinks = append(sinks, a)
	}

	// 6. Core Services
	deobfuscator := deobf.New(store, deobf.Options{
		DevPermutation: cfg.Symbols.DevPermutation,
		Warnings:       sinks,
		Logger:         logger.Get(),
	})
	logSvc := service.NewLogService(deobfuscator, sinks, service.LogServiceOptions{
		ReturnResolved: cfg.Server.ReturnResolved,
		Logger:         logger.Get(),
	})

	// 7. Handlers
	logHandler := handler.NewLogHandler(logSvc, cfg.Server.MaxBodyBytes)
	recordsHandler := handler.NewRecordsHandler(buffer, redisRecords, recordRepo)
	permHandler := handler.NewPermutationHandler(store, deobfuscator)
	tailHandler := handler.NewTailHandler(hub)
	limiter := middleware.NewIPLimiter(cfg.Rate)

	// 8. Setup Router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestMiddleware())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.ErrorHandler())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"service":     "logbridge",
			"sources":     store.SourceNames(),
			"subscribers": hub.Subscribers(),
		})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg))
	v1.Use(middleware.RateLimitMiddleware(limiter))
	{
		v1.POST("/log", logHandler.Ingest)
		v1.POST("/log/:level", logHandler.LogLevel)
	}

	admin := r.Group("/v1")
	admin.Use(middleware.AdminMiddleware(cfg))
	{
		admin.GET("/records", recordsHandler.List)
		admin.GET("/tail", tailHandler.Stream)
		admin.GET("/permutations", permHandler.List)
	}

	// 9. Background maintenance
	bgCtx, stopBackground := context.WithCancel(context.Background())
	go sweepLimiter(bgCtx, limiter)
	if recordRepo != nil && cfg.Database.Retention > 0 {
		go cleanupRecords(bgCtx, recordRepo, cfg.Database.Retention)
	}

	// 10. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 logbridge started", "port", cfg.Server.Port, "symbol_sources", len(sources))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	stopBackground()
	for _, a := range asyncSinks {
		a.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info("Server exiting")
}

func sweepLimiter(ctx context.Context, l *middleware.IPLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				logger.Debug("dropped idle rate limiters", "count", n)
			}
		}
	}
}

func cleanupRecords(ctx context.Context, repo *repository.RecordRepo, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.Cleanup(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.LogError(ctx, err, "failed to clean up client logs")
				continue
			}
			if n > 0 {
				logger.Info("cleaned up client logs", "deleted", n)
			}
		}
	}
}
