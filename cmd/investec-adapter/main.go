package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/investec-adapter/internal/api"
	"github.com/Checker-Finance/investec-adapter/internal/investec"
	"github.com/Checker-Finance/investec-adapter/internal/jobs"
	"github.com/Checker-Finance/investec-adapter/internal/publisher"
	"github.com/Checker-Finance/investec-adapter/internal/rabbitmq"
	"github.com/Checker-Finance/investec-adapter/internal/rate"
	internalsecrets "github.com/Checker-Finance/investec-adapter/internal/secrets"
	"github.com/Checker-Finance/investec-adapter/internal/store"
	"github.com/Checker-Finance/investec-adapter/pkg/config"
	"github.com/Checker-Finance/investec-adapter/pkg/logger"
	"github.com/Checker-Finance/investec-adapter/pkg/secrets"
	"github.com/Checker-Finance/investec-adapter/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [investec-adapter]...")
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	// --- AWS Secrets Manager provider ---
	awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
	if err != nil {
		logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
	}

	// --- Per-client config resolver (secrets cached in-memory) ---
	configCache := secrets.NewCache[investec.ClientConfig](cfg.CacheTTL)
	stopCleaner := make(chan struct{})
	go configCache.StartCleaner(cfg.CleanupFreq, stopCleaner)

	resolver := internalsecrets.NewInvestecResolver(logger.L(), cfg, awsProvider, configCache)

	clients, err := resolver.DiscoverClients(ctx)
	if err != nil {
		logg.Warnw("failed to discover clients from AWS Secrets Manager", "error", err)
	} else {
		logg.Infow("discovered Investec clients", "count", len(clients), "clients", clients)
	}

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	pub, err := publisher.New(nc, cfg.BalanceSubject, cfg.ServiceName, cfg.Venue)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(store.Options{
		RedisAddr: cfg.RedisAddr,
		RedisDB:   cfg.RedisDB,
		RedisPass: cfg.RedisPass,
		PGURL:     cfg.DatabaseURL,
		PG: store.PGPoolConfig{
			MaxConns: int32(cfg.PGMaxConns),
			MinConns: int32(cfg.PGMinConns),
		},
		SessionTTL: cfg.SessionTTL,
		BalanceTTL: cfg.CacheTTL,
	}, logger.L())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Investec client stack ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.RateRPS,
		Burst:             cfg.RateBurst,
	})
	exec := investec.NewExecutor(logger.L(), rateMgr, cfg.HTTPTimeout, cfg.RetryMax)

	var opts []investec.Option
	if cfg.ReuseSession {
		opts = append(opts, investec.WithSessionReuse(st))
	}
	svc := investec.NewService(logger.L(), exec, resolver, opts...)

	// --- Balance poller ---
	poller := investec.NewPoller(logger.L(), svc, st, pub, cfg.PollInterval)
	go poller.Start(ctx)

	// --- Balance summary refresher (Postgres only) ---
	var refresher *jobs.SummaryRefresher
	if st.PG != nil && cfg.SummaryRefresh > 0 {
		refresher = jobs.NewSummaryRefresher(logger.L(), st.PG, pub, cfg.Venue, cfg.SummaryRefresh)
		go refresher.Start(ctx)
	}

	// --- AMQP command consumer (optional) ---
	var consumer *rabbitmq.Consumer
	if cfg.RabbitMQURL != "" {
		consumer, err = rabbitmq.NewConsumer(cfg.RabbitMQURL, cfg.CommandQueue, svc, logger.L())
		if err != nil {
			logg.Fatalw("failed to connect to RabbitMQ", "error", err)
		}
		if err := consumer.Start(ctx); err != nil {
			logg.Fatalw("failed to start RabbitMQ consumer", "error", err)
		}
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	handler := api.NewBankingHandler(logger.L(), investec.Venue, svc, st, svc)
	api.RegisterRoutes(app, nc, st, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[investec-adapter] running",
		"nats", cfg.NATSURL,
		"env", cfg.Env,
		"poll_interval", cfg.PollInterval,
		"reuse_session", cfg.ReuseSession,
		"retry_max", cfg.RetryMax,
		"discovered_clients", len(clients))

	<-ctx.Done()
	logg.Info("shutting down [investec-adapter]...")

	close(stopCleaner)
	poller.Stop()
	if refresher != nil {
		refresher.Stop()
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := pub.Close(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
