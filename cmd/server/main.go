package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/benchay1999/find-the-ai/internal/agent"
	"github.com/benchay1999/find-the-ai/internal/api"
	"github.com/benchay1999/find-the-ai/internal/auth"
	"github.com/benchay1999/find-the-ai/internal/config"
	"github.com/benchay1999/find-the-ai/internal/llm"
	"github.com/benchay1999/find-the-ai/internal/observability"
	"github.com/benchay1999/find-the-ai/internal/queue"
	"github.com/benchay1999/find-the-ai/internal/realtime"
	"github.com/benchay1999/find-the-ai/internal/room"
	"github.com/benchay1999/find-the-ai/internal/stats"
	"github.com/benchay1999/find-the-ai/internal/store"
	"github.com/benchay1999/find-the-ai/internal/worker"

	_ "github.com/benchay1999/find-the-ai/docs" // swagger docs
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found")
	}

	cfg := config.Load()
	logger, err := observability.SetupLogger()
	if err != nil {
		log.Fatalf("cannot init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.SetupTracerProvider(ctx, "find-the-ai", cfg.TraceStdout, logger)
	if err != nil {
		logger.Fatal("cannot init tracer", zap.Error(err))
	}
	defer tp.Shutdown(ctx)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer.(*prometheus.Registry))
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, 24*time.Hour)

	var st *store.Store
	if cfg.DBDSN != "" {
		db, err := store.ConnectMySQL(cfg.DBDSN)
		if err != nil {
			logger.Warn("cannot connect db, stats will stay file-only", zap.Error(err))
			st = store.NewMemoryStore()
		} else {
			st = store.New(db)
			defer st.Close()
		}
	} else {
		st = store.NewMemoryStore()
	}

	provider, err := llm.New(llm.Config{
		Provider: cfg.LLMProvider,
		BaseURL:  cfg.LLMBaseURL,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
		Timeout:  cfg.LLMTimeout,
	})
	if err != nil {
		logger.Fatal("cannot init llm provider", zap.Error(err))
	}
	logger.Info("llm provider ready",
		zap.String("provider", cfg.LLMProvider),
		zap.String("model", provider.Model()))

	slogLogger := observability.ZapToSlog(logger)
	policy := agent.NewPolicy(provider, agent.Config{
		MinSpacing:        cfg.MinAgentSpacing,
		MaxUtteranceChars: cfg.MaxUtteranceChars,
	}, slogLogger)

	pool := worker.NewPool(cfg.WorkerPoolSize)
	defer pool.Shutdown()

	var dbForStats *store.Store
	if !st.MemoryMode {
		dbForStats = st
	}
	writer, err := stats.NewWriter(cfg.StatsDir, dbForStats, logger)
	if err != nil {
		logger.Fatal("cannot init stats writer", zap.Error(err))
	}

	var sink room.StatsSink = writer
	if cfg.RabbitMQURL != "" {
		taskQueue, err := queue.New(queue.Config{
			URL:       cfg.RabbitMQURL,
			QueueName: "find_the_ai_tasks",
			Prefetch:  10,
			Logger:    slogLogger,
		})
		if err != nil {
			logger.Warn("cannot connect to RabbitMQ, flushing stats in-process", zap.Error(err))
		} else {
			defer taskQueue.Close()
			sink = stats.NewQueuedSink(taskQueue, writer, logger)
			if err := taskQueue.Start(ctx); err != nil {
				logger.Error("cannot start task queue", zap.Error(err))
			} else {
				logger.Info("task queue connected")
			}
		}
	}

	registry := room.NewRegistry(room.Deps{
		Cfg:     cfg,
		Logger:  logger,
		Metrics: metrics,
		Pool:    pool,
		Policy:  policy,
		Stats:   sink,
	})
	defer registry.Close()

	wsServer := realtime.NewWSServer(jwtMgr, registry, logger, metrics, cfg.WSReadBufferSize, cfg.WSWriteBufferSize)
	server := api.NewServer(registry, st, jwtMgr, wsServer, api.LLMInfo{
		Provider: cfg.LLMProvider,
		Model:    provider.Model(),
	}, logger)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router}
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
