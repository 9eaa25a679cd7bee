package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"github.com/courierhq/courier/internal/adapters"
	"github.com/courierhq/courier/internal/application/dispatch"
	"github.com/courierhq/courier/internal/application/messaging"
	"github.com/courierhq/courier/internal/config"
	"github.com/courierhq/courier/internal/infrastructure/db/postgres"
	"github.com/courierhq/courier/internal/infrastructure/queue/delayed"
	"github.com/courierhq/courier/internal/infrastructure/queue/rabbitmq"
	"github.com/courierhq/courier/internal/logger"
	"github.com/courierhq/courier/internal/transport/http/handlers"
	authmw "github.com/courierhq/courier/internal/transport/http/middleware"
	"github.com/courierhq/courier/internal/transport/http/router"
)

type sysClock struct{}

func (sysClock) Now() time.Time { return time.Now().UTC() }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal().Err(err).Msg("db open failed")
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.StoreMaxConns)
	db.SetMaxIdleConns(cfg.StoreMaxConns)
	db.SetConnMaxLifetime(time.Hour)

	{
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			zlog.Fatal().Err(err).Msg("db ping failed")
		}
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		zlog.Fatal().Err(err).Msg("redis url invalid")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	store := postgres.New(db)
	delayedQueue := delayed.NewScheduler(rdb)

	publisher, err := rabbitmq.NewPublisher(cfg.QueueURL, cfg.QueueExchange, cfg.QueueSubjectPrefix)
	if err != nil {
		zlog.Fatal().Err(err).Msg("queue publisher init failed")
	}
	defer publisher.Close()

	httpClient := &http.Client{Timeout: cfg.AdapterHTTPTimeout}
	registry := adapters.NewRegistry(
		adapters.NewTelegramWithBaseURL(httpClient, cfg.TelegramAPIBase),
		adapters.NewVKWithBaseURL(httpClient, cfg.VKAPIBase),
		adapters.NewMaxWithBaseURL(httpClient, cfg.MaxAPIBase),
	)

	clock := sysClock{}

	scheduler := dispatch.NewRetryScheduler(delayedQueue, clock, cfg.RetryBaseDelay, cfg.RetryMaxDoublings, cfg.RetryMaxAttempts)
	dispatcher := dispatch.NewHandler(store, store, registry, scheduler, clock, cfg.AdapterHTTPTimeout, cfg.RetryMaxAttempts)

	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:           cfg.QueueURL,
		Exchange:      cfg.QueueExchange,
		SubjectPrefix: cfg.QueueSubjectPrefix,
		PullBatch:     cfg.QueuePullBatch,
		AckWait:       cfg.QueueAckWait,
		MaxDeliver:    cfg.QueueMaxDeliver,
		Workers:       cfg.QueueWorkers,
	}, dispatcher)
	if err != nil {
		zlog.Fatal().Err(err).Msg("queue consumer init failed")
	}
	defer consumer.Close()

	svc := messaging.New(store, store, publisher, registry, clock, messaging.Config{MaxAttempts: cfg.RetryMaxAttempts})
	sweeper := messaging.NewSweeper(store, publisher, delayedQueue, clock, cfg.SweeperInterval, cfg.RetryBaseDelay, cfg.RetryMaxDoublings, cfg.RetryMaxAttempts)

	msgsHandler := handlers.NewMessagesHandler(svc)
	tokensHandler := handlers.NewTokensHandler(svc)
	healthHandler := handlers.NewHealthHandler(db, rdb)
	auth := authmw.NewAuth(cfg.JWTSecret, cfg.JWTIssuer)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router.New(msgsHandler, tokensHandler, healthHandler, auth, cfg),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go sweeper.Run(ctx)

	go func() {
		if err := consumer.Start(ctx); err != nil {
			zlog.Error().Err(err).Msg("consumer stopped with error")
			stop()
		}
	}()

	go func() {
		zlog.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error().Err(err).Msg("server crashed")
			stop()
		}
	}()

	<-ctx.Done()
	zlog.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("http shutdown failed")
	}
}
