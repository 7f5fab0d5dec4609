package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/praxislabs/scout/internal/capabilities"
	"github.com/praxislabs/scout/internal/config"
	"github.com/praxislabs/scout/internal/gates"
	"github.com/praxislabs/scout/internal/httpapi"
	"github.com/praxislabs/scout/internal/interrupts"
	"github.com/praxislabs/scout/internal/orchestrator"
	"github.com/praxislabs/scout/internal/research"
	"github.com/praxislabs/scout/internal/taskstore"
	"github.com/praxislabs/scout/internal/threads"
	"github.com/praxislabs/scout/internal/tracing"
	"github.com/praxislabs/scout/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (defaults to $SCOUT_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		log.Fatalf("Invalid log level %q: %v", cfg.Logging.Level, err)
	}
	logger, err := buildLogger(cfg.Logging, level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		logger.Warn("Tracing unavailable, continuing without it", zap.Error(err))
	}

	// Hot reload: the log level follows the config file without a restart.
	if *configPath != "" || os.Getenv("SCOUT_CONFIG") != "" {
		path := *configPath
		if path == "" {
			path = os.Getenv("SCOUT_CONFIG")
		}
		mgr, err := config.NewManager(path, logger)
		if err != nil {
			logger.Warn("Config hot reload disabled", zap.Error(err))
		} else {
			defer mgr.Close()
			mgr.OnReload(func(_, next *config.Config) {
				if err := level.UnmarshalText([]byte(next.Logging.Level)); err != nil {
					logger.Warn("Ignoring invalid log level on reload",
						zap.String("level", next.Logging.Level))
				}
			})
			if err := mgr.Watch(); err != nil {
				logger.Warn("Config hot reload disabled", zap.Error(err))
			}
		}
	}

	redisClient, err := connectRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	store := taskstore.NewStore(redisClient, cfg.Tasks.RetentionWindow, logger)
	history := threads.NewHistory(redisClient, cfg.Threads.MaxMessages, cfg.Threads.TTL, logger)

	safety := capabilities.NewSafetyService(cfg.Capabilities, logger)
	analyzer := capabilities.NewAnalyzerService(cfg.Capabilities, logger)
	searcher := capabilities.NewSearchService(cfg.Capabilities, cfg.Research, logger)
	synthesizer := capabilities.NewSynthesisService(cfg.Capabilities, logger)

	pipeline := gates.NewPipeline(
		[]gates.Check{
			gates.NewContentSafetyCheck(safety, threads.RoleUser),
			gates.NewJailbreakCheck(safety),
			gates.NewInjectionCheck(safety),
		},
		[]gates.Check{
			gates.NewContentSafetyCheck(safety, threads.RoleAssistant),
		},
		cfg.Gates.CheckTimeout,
		logger,
	)

	broker := interrupts.NewBroker(logger)
	runner := research.NewRunner(searcher, research.Config{
		MaxConcurrent:        cfg.Research.MaxConcurrentUnits,
		MaxIterationsPerUnit: cfg.Research.MaxIterationsPerUnit,
	}, logger)

	orch := orchestrator.New(store, history, pipeline, broker, runner, analyzer, synthesizer,
		orchestrator.Config{
			TaskTimeout:     cfg.Tasks.Timeout,
			ApprovalTimeout: cfg.Interrupts.ApprovalTimeout,
		}, logger)

	pool := worker.NewPool(cfg.Workers.PoolSize, logger, func(taskID string, cause error) {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Fail(wctx, taskID, "internal error during task processing"); err != nil {
			logger.Warn("Could not record panic failure",
				zap.String("task_id", taskID), zap.Error(err))
		}
	})

	var limiter *httpapi.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = httpapi.NewRateLimiter(redisClient, cfg.RateLimit.RequestsPerMinute, logger)
	}

	runFor := func(task *taskstore.Task) worker.Run {
		return worker.Run{TaskID: task.ID, Do: func(rctx context.Context) {
			orch.Run(rctx, task)
		}}
	}
	api := httpapi.NewServer(store, pool, broker, limiter, runFor,
		cfg.Tasks.RetentionWindow, cfg.Service.ApprovalAuthToken, logger)

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:      api.Routes(),
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: cfg.Service.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.AdminPort),
		Handler: adminMux,
	}

	go func() {
		logger.Info("Admin server listening", zap.Int("port", cfg.Service.AdminPort))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server failed", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Service.Port))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Service.GracefulTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", zap.Error(err))
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Worker pool drained incompletely", zap.Error(err))
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown incomplete", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracer shutdown incomplete", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func buildLogger(cfg config.LoggingConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.Level = level
	return zcfg.Build()
}

// connectRedis dials redis with a bounded retry loop so the service survives
// the store coming up after it in a compose stack.
func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	const maxAttempts = 15
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			logger.Info("Connected to redis", zap.String("addr", cfg.Addr))
			return client, nil
		}
		logger.Warn("Redis not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("addr", cfg.Addr),
			zap.Error(lastErr),
		)
		time.Sleep(3 * time.Second)
	}
	client.Close()
	return nil, fmt.Errorf("redis unreachable after %d attempts: %w", maxAttempts, lastErr)
}
