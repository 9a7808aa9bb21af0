// Command orchserver runs the Queue Poller/Scheduler and the control-plane
// HTTP API in one process, the way the teacher's cmd/api-server and
// cmd/worker cooperate over one Redis queue — collapsed here into a single
// binary since the Scheduler and the ControlPlane share one Queue Store and
// one in-process runner Registry, and the WebSocket trace-tail hub needs a
// direct reference to the Scheduler's TracePublisher hookup anyway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskorch/engine/internal/api"
	"github.com/taskorch/engine/internal/config"
	"github.com/taskorch/engine/internal/controlplane"
	"github.com/taskorch/engine/internal/lock"
	"github.com/taskorch/engine/internal/logger"
	"github.com/taskorch/engine/internal/queue"
	"github.com/taskorch/engine/internal/runner"
	"github.com/taskorch/engine/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting orchserver")

	store, err := newStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open queue store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close queue store")
		}
	}()

	registry := runner.NewRegistry(runner.DefaultAliveWindow)
	locks := lock.NewManager(cfg.Lock.MaxConcurrentExecutors)
	sched := scheduler.New(cfg, store, locks, registry)

	cp := controlplane.New(store, registry, cfg.BuildSHA, cfg.Queue.Backend, queueEndpoint(cfg), os.Getpid())
	apiServer := api.NewServer(cfg, cp)
	sched.SetTracePublisher(apiServer.Hub())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiServer.Start(ctx)
	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down orchserver")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown error")
	}
	apiServer.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("orchserver stopped")
}

func newStore(cfg *config.Config) (queue.Store, error) {
	switch cfg.Queue.Backend {
	case "redis":
		return queue.NewRedisStore(&cfg.Redis)
	default:
		return queue.NewFileStore(cfg.Queue.StateDir)
	}
}

func queueEndpoint(cfg *config.Config) string {
	if cfg.Queue.Backend == "redis" {
		return cfg.Redis.Addr
	}
	return cfg.Queue.StateDir
}
