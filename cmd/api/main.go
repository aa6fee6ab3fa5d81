package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-platform/internal/audit"
	"chat-platform/internal/auth"
	"chat-platform/internal/calls"
	"chat-platform/internal/config"
	"chat-platform/internal/directory"
	"chat-platform/internal/httpapi"
	"chat-platform/internal/notify"
	"chat-platform/internal/presence"
	"chat-platform/internal/reporting"
	"chat-platform/internal/signaling"
	"chat-platform/internal/wsapi"
	"chat-platform/pkg/logger"
	"chat-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Realtime core
	registry := presence.NewRegistry(log)
	rooms := presence.NewRoomFanout(registry)
	dir := directory.NewPostgres(db)

	store := notify.NewRedisStore(rdb, cfg.Notify.MaxPerUser, cfg.Notify.TTL)
	queue := notify.NewQueue(store, cfg.Notify.QueueSize, log)

	callRepo := calls.NewPostgresRepo(db)
	callSvc := calls.NewService(callRepo, dir, registry, queue, log)
	callSvc.SetAuditor(audit.NewService(audit.NewPostgresRepo(db)))
	registry.OnDisconnect(callSvc.HandleDisconnect)

	relay := signaling.NewRelay(callSvc, registry, rooms, log)

	ws := wsapi.NewHandler(wsapi.Deps{
		Registry:  registry,
		Rooms:     rooms,
		Directory: dir,
		Calls:     callSvc,
		Signals:   relay,
		Options:   wsapi.OptionsFromConfig(cfg.WS),
		Log:       log,
	})

	handlers := httpapi.Handlers{
		Auth:          authManager,
		Calls:         callSvc,
		Signals:       relay,
		Presence:      registry,
		Notifications: store,
		Reports:       reporting.NewService(callRepo),
		AllowDevLogin: !cfg.IsProduction(),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		authMW:   auth.RequireAccessToken(authManager),
		handlers: handlers,
		ws:       ws,
		rooms:    dir,
		ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: it would cut hijacked websocket connections.
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	// The notify worker outlives the HTTP server and the registry so that
	// notifications from in-flight requests and disconnect cleanup are stored.
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()

	g.Go(func() error {
		return queue.Run(queueCtx)
	})

	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		// Shutdown does not track hijacked connections. Close also runs the
		// disconnect hooks, leaving every joined call.
		registry.Close()
		stopQueue()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
