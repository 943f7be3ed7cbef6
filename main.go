package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go-cloudtasks-emulator/api"
	"go-cloudtasks-emulator/config"
	"go-cloudtasks-emulator/observability"
	"go-cloudtasks-emulator/queue"
	"go-cloudtasks-emulator/store"
	"go-cloudtasks-emulator/transport"
	"go-cloudtasks-emulator/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: Failed to load .env file: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("emulator stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := queue.LoadRegistry(cfg.HostsFile)
	if err != nil {
		return err
	}
	if registry.Len() == 0 {
		logger.Info("no queues configured, tasks use queue-less defaults", zap.String("hosts_file", cfg.HostsFile))
	} else {
		logger.Info("queues loaded", zap.Int("count", registry.Len()))
	}

	opts := worker.Options{
		Backoff: worker.Backoff{
			Initial: cfg.Dispatch.InitialBackoff,
			Max:     cfg.Dispatch.MaxBackoff,
			Jitter:  cfg.Dispatch.Jitter,
		},
		EnforceDeadline: cfg.Dispatch.EnforceDeadline,
		Logger:          logger.Named("dispatcher"),
	}

	if cfg.RedisAddr != "" {
		rdb, err := queue.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts.Limiter = queue.NewRedisLimiter(rdb, registry)
		logger.Info("per-queue rate limiting enabled", zap.String("redis", cfg.RedisAddr))
	}

	var recorder *store.PostgresRecorder
	if cfg.PostgresDSN != "" {
		var err error
		recorder, err = store.NewPostgresRecorder(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer recorder.Close()
		opts.Recorder = recorder
		logger.Info("attempt audit log enabled")
	}

	tasks := store.NewMemory()
	deliverer := transport.NewHTTP(cfg.Dispatch.RequestTimeout, logger.Named("transport"))
	dispatcher := worker.New(tasks, deliverer, opts)

	handler := api.New(ctx, registry, tasks, dispatcher, logger.Named("api"))
	if recorder != nil {
		handler.WithAttemptLog(recorder)
	}
	server := api.NewServer(cfg.Addr, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	stop()
	dispatcher.Wait()
	logger.Info("all dispatch loops stopped")
	return err
}
