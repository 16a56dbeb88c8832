package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dispatchd/internal/api"
	"dispatchd/internal/connections"
	dispatchcfg "dispatchd/internal/config"
	"dispatchd/internal/dispatch"
	"dispatchd/internal/frontend"
	"dispatchd/internal/idempotency"
	"dispatchd/internal/notify"
	"dispatchd/internal/observability"
	"dispatchd/internal/storage/memstore"
	"dispatchd/internal/waiter"
)

func main() {
	cfg, err := dispatchcfg.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(observability.LoggerConfig{Level: cfg.LogLevel, Development: cfg.Development()})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("starting dispatchd", zap.String("listen_addr", cfg.ListenAddr))

	shutdownOtel, err := observability.SetupOpenTelemetry("dispatchd", cfg.Environment, logger)
	if err != nil {
		logger.Warn("failed to set up OpenTelemetry", zap.Error(err))
	} else {
		defer shutdownOtel()
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx := context.Background()

	pg, err := connections.Open(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pg.Close()
	if err := pg.RunMigrations("internal/connections/migrations"); err != nil {
		logger.Warn("failed to run connection directory migrations", zap.Error(err))
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	defer natsConn.Close()

	// storage.Store composition: memstore (runtime state) wrapped with
	// the Postgres connection directory and the Redis idempotency cache.
	store := connections.NewDirectory(
		idempotency.NewCache(memstore.New(), redisClient, cfg.IdempotencyTTL, logger),
		pg,
	)

	awsRegion := os.Getenv("AWS_REGION")
	if awsRegion == "" {
		awsRegion = "us-east-1"
	}
	awsCfg := aws.Config{Region: awsRegion}

	senders := map[string]notify.Sender{
		"http":    notify.NewHTTPSender(),
		"aws_sqs": notify.NewSQSSender(sqs.NewFromConfig(awsCfg)),
		"aws_sns": notify.NewSNSSender(sns.NewFromConfig(awsCfg)),
	}

	notifier := notify.New(natsConn, logger, senders, 0, 0).WithMetrics(metrics)
	if err := notifier.Start(ctx); err != nil {
		log.Fatalf("failed to start notification dispatcher: %v", err)
	}

	waiters := waiter.New()
	svc := dispatch.NewService(store, waiters, notifier, logger).WithMetrics(metrics)

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go svc.RunSweeper(sweepCtx, cfg.SweepInterval)

	handlers := api.NewHandlers(svc, logger, metrics, cfg.MaxBodyBytes)
	httpHandler := api.NewRouter(handlers, registry, nil)

	fe := frontend.New(dispatchcfg.GetFrontendConfig(), httpHandler, logger)

	serveCtx, cancelServe := context.WithCancel(ctx)
	serveErrs := make(chan error, 1)
	go func() {
		serveErrs <- fe.Serve(serveCtx, cfg.ListenAddr)
	}()
	go reportGauges(serveCtx, metrics, fe, waiters)

	logger.Info("dispatchd listening", zap.String("addr", cfg.ListenAddr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down")
		cancelServe()
		cancelSweep()
		select {
		case <-serveErrs:
		case <-time.After(30 * time.Second):
			logger.Warn("front end did not stop within the shutdown deadline")
		}
	case err := <-serveErrs:
		if err != nil {
			logger.Error("front end exited", zap.Error(err))
		}
		cancelSweep()
	}

	logger.Info("dispatchd stopped")
}

// reportGauges periodically samples the front end's connection count and
// the waiter registry's parked-request count into the corresponding
// Prometheus gauges, the same ticker-driven sampling idiom the teacher
// uses for its performance monitors.
func reportGauges(ctx context.Context, metrics *observability.Metrics, fe *frontend.Frontend, waiters *waiter.Registry) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ActiveConnections.Set(float64(fe.ActiveConnections()))
			metrics.PendingWaiters.Set(float64(waiters.Pending()))
		}
	}
}
