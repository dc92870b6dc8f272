package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/realtime-auth/internal/config"
	"github.com/iliyamo/realtime-auth/internal/database"
	"github.com/iliyamo/realtime-auth/internal/handler"
	"github.com/iliyamo/realtime-auth/internal/logging"
	"github.com/iliyamo/realtime-auth/internal/metrics"
	"github.com/iliyamo/realtime-auth/internal/middleware"
	"github.com/iliyamo/realtime-auth/internal/presence"
	"github.com/iliyamo/realtime-auth/internal/queue"
	"github.com/iliyamo/realtime-auth/internal/realtime"
	"github.com/iliyamo/realtime-auth/internal/repository"
	"github.com/iliyamo/realtime-auth/internal/router"
	"github.com/iliyamo/realtime-auth/internal/service"
	"github.com/iliyamo/realtime-auth/internal/utils"
)

const (
	janitorInterval = 10 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "realtime-auth:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup("realtime-auth", cfg.Env, cfg.LogFormat, cfg.LogLevel, nil)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, err := utils.NewTokenCodec(utils.TokenConfig{
		AccessSecret:      cfg.JWTAccessSecret,
		RefreshSecret:     cfg.JWTRefreshSecret,
		AccessExpiration:  cfg.AccessExpiration,
		RefreshExpiration: cfg.RefreshExpiration,
	})
	if err != nil {
		return err
	}

	var (
		db     *sql.DB
		users  service.UserStore
		tokens service.RefreshTokenStore
		pinger handler.Pinger
	)
	switch cfg.DBDriver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		users, tokens = repository.NewMemoryUserRepo(), repository.NewMemoryTokenRepo()
	default:
		db, err = database.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		users, tokens, pinger = repository.NewUserRepo(db), repository.NewTokenRepo(db), db
	}

	m := metrics.New()

	var events queue.Publisher = queue.NopPublisher{}
	if cfg.Events.Enabled {
		pub := queue.NewAMQPPublisher(cfg.Events.URL, cfg.Events.Queue, cfg.Events.Buffer, logger)
		defer func() {
			if err := pub.Close(); err != nil {
				logging.LogError(logger, "close event publisher", err)
			}
		}()
		events = pub

		consumer := &queue.Consumer{
			URL:    cfg.Events.URL,
			Queue:  cfg.Events.Queue,
			LogDir: cfg.Events.LogDir,
			Logger: logger,
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.LogError(logger, "session event consumer stopped", err)
			}
		}()
	}

	var rdb *redis.Client
	if cfg.RateLimit.Enabled {
		rdb = config.NewRedisClient(ctx, cfg.Redis)
		if rdb == nil {
			logger.Warn("redis unreachable; auth rate limiting disabled", "addr", cfg.Redis.Addr)
		} else {
			defer rdb.Close()
		}
	}

	auth := service.NewAuthService(service.Deps{
		Users:   users,
		Tokens:  tokens,
		Codec:   codec,
		Hasher:  utils.NewBcryptHasher(cfg.BcryptCost),
		Events:  events,
		Metrics: m,
		Logger:  logger,
	})
	go auth.RunJanitor(ctx, janitorInterval)

	gw := realtime.NewGateway(codec, presence.NewRegistry(), presence.NewRooms(), cfg.Realtime, m, logger)

	e := router.New(router.Deps{
		Auth:      handler.NewAuthHandler(auth, logger),
		Users:     handler.NewUserHandler(auth, logger),
		Gateway:   gw,
		Verifier:  codec,
		RateLimit: middleware.NewTokenBucket(cfg.RateLimit, rdb, logger),
		Metrics:   m.Handler(),
		DB:        pinger,
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info("listening", "addr", addr, "env", cfg.Env, "db", cfg.DBDriver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = e.Shutdown(shutdownCtx)
	gw.Close()
	return err
}
