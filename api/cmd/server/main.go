package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"taskManager/api/cache"
	"taskManager/api/config"
	"taskManager/api/database"
	"taskManager/api/handlers"
	"taskManager/api/hub"
	"taskManager/api/kafka"
	"taskManager/api/models"
	"taskManager/api/notify"
	"taskManager/api/repository"
	"taskManager/api/service"
	"taskManager/api/storage"
	"taskManager/api/validation"
	workerconfig "taskManager/worker/config"
	"taskManager/worker/monitor"
	"taskManager/worker/pool"
	worker "taskManager/worker/service"
)

const (
	shutdownTimeout = 10 * time.Second
	// Per-sink backlog for export sinks that must not stall task writes.
	sinkQueueSize = 1024
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	workerCfg, err := workerconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load worker config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, workerCfg, logger); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, workerCfg *workerconfig.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Task service starting",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("store", cfg.StoreDriver),
		zap.String("storage", cfg.StorageType),
	)

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	h := hub.New(service.NewSnapshots(repo), logger.Named("hub"))
	broadcaster := notify.NewBroadcaster(logger.Named("notify")).Add("hub", h)

	var statusCache service.StatusCache
	if cfg.RedisAddr != "" {
		kv, err := database.ConnectCache(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer kv.Close()

		sc := cache.NewStatusCache(kv)
		broadcaster.AddQueued("status_cache", sc, sinkQueueSize)
		statusCache = sc
		logger.Info("Status cache enabled", zap.String("addr", cfg.RedisAddr))
	}

	if len(cfg.KafkaBrokers) > 0 {
		exporter, err := kafka.NewExporter(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer exporter.Close()

		broadcaster.AddQueued("kafka", exporter, sinkQueueSize)
		logger.Info("Event export enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	}

	lifecycle := worker.NewLifecycle(repo, broadcaster, logger.Named("lifecycle"))
	processor := worker.NewProcessor(repo, lifecycle, worker.SimulatedWorkload{
		MinDelay: workerCfg.StageMinDelay,
		MaxDelay: workerCfg.StageMaxDelay,
		MinStep:  workerCfg.StageMinStep,
		MaxStep:  workerCfg.StageMaxStep,
	}, logger.Named("processor"))
	workers := pool.NewWorkerPool(workerCfg.MaxConcurrentTasks, logger.Named("pool"))

	// Runs outlive request contexts; they end only on shutdown.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	scheduler := service.SchedulerFunc(func(taskID string) error {
		return workers.Submit(runCtx, taskID, processor.Run)
	})

	timeouts := monitor.New(repo, lifecycle, workerCfg.MonitorInterval, workerCfg.TaskTimeout, logger.Named("monitor"))
	timeouts.Start(runCtx)

	taskService := service.NewTaskService(service.Deps{
		Repo:      repo,
		Storage:   store,
		Resetter:  lifecycle,
		Scheduler: scheduler,
		Cache:     statusCache,
		Rules: validation.UploadRules{
			MaxSize:           cfg.MaxFileSize,
			AllowedExtensions: cfg.AllowedExtensions,
		},
		Logger: logger.Named("service"),
	})

	requeuePending(ctx, repo, scheduler, logger)

	router := newRouter(cfg, logger,
		handlers.NewTaskHandler(taskService, cfg.MaxFileSize, logger.Named("http")),
		handlers.NewWebSocketHandler(h, cfg.CORSOrigins, cfg.WSSendBuffer, logger.Named("ws")),
		h,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}

	timeouts.Stop()
	workers.Close()
	cancelRuns()
	workers.Wait()
	h.Close()
	if err := broadcaster.Close(shutdownCtx); err != nil {
		logger.Warn("Export sinks not drained", zap.Error(err))
	}

	logger.Info("Server stopped cleanly")
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config) (repository.Repository, func(), error) {
	if cfg.StoreDriver != config.StorePostgres {
		return repository.NewMemoryRepo(), func() {}, nil
	}

	db, err := database.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return repository.NewPostgresRepo(db), db.Close, nil
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg.StorageType == config.StorageS3 {
		s, err := storage.NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		return s, nil
	}

	s, err := storage.NewLocal(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("init local storage: %w", err)
	}
	return s, nil
}

// taskLister is the part of the store the startup requeue reads.
type taskLister interface {
	ListTasks(ctx context.Context, filter repository.ListFilter) ([]*models.Task, int, error)
}

// requeuePending schedules tasks left pending by a previous run. Tasks left
// processing are picked up by the timeout monitor instead. Ids are collected
// before anything is scheduled since scheduled tasks leave the pending set
// and would shift later pages.
func requeuePending(ctx context.Context, repo taskLister, scheduler service.Scheduler, logger *zap.Logger) int {
	pending := models.StatusPending
	filter := repository.ListFilter{
		Status:   &pending,
		SortBy:   repository.SortByUploadedAt,
		Page:     1,
		PageSize: 100,
	}

	var ids []string
	for {
		tasks, total, err := repo.ListTasks(ctx, filter)
		if err != nil {
			logger.Warn("List pending tasks", zap.Error(err))
			break
		}
		for _, task := range tasks {
			ids = append(ids, task.ID)
		}
		if filter.Page*filter.PageSize >= total || len(tasks) == 0 {
			break
		}
		filter.Page++
	}

	requeued := 0
	for _, id := range ids {
		if err := scheduler.Schedule(id); err != nil {
			logger.Warn("Requeue task", zap.String("task_id", id), zap.Error(err))
			continue
		}
		requeued++
	}

	if requeued > 0 {
		logger.Info("Requeued pending tasks", zap.Int("count", requeued))
	}
	return requeued
}
