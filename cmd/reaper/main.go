package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/aws"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/config"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/logger"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/metrics"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/orders"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/reaper"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/redis"
)

const serviceName = "payment-expiry-reaper"

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFor(config.ServiceReaper)
	if err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithField(context.Background(), "env", cfg.App.Env)

	clients, err := aws.NewClients(ctx, cfg.AWS)
	if err != nil {
		logg.Error(ctx, "failed to init aws clients", err)
		os.Exit(1)
	}

	var lock reaper.Lock
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "redis unavailable; running without a sweep lock")
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(ctx, "error closing redis", err)
			}
		}()
		lock, err = reaper.NewRedisLock(redisClient, redisClient.LockKey(cfg.Reaper.LockKey), cfg.Reaper.LockTTL)
		if err != nil {
			logg.Error(ctx, "failed to create reaper lock", err)
			os.Exit(1)
		}
	}

	db := clients.DynamoDB
	orderService := orders.NewService(orders.ServiceDeps{
		Store:  orders.NewStore(db, cfg.Tables.Orders),
		Events: orders.NewSQSEvents(aws.NewPublisher(clients.SQS, cfg.Events.QueueURL)),
		Logger: logg,
	}, orders.ServiceConfig{PaymentWindow: cfg.Orders.PaymentWindow})

	job, err := reaper.NewExpiryJob(orderService, logg, cfg.Reaper.BatchMax)
	if err != nil {
		logg.Error(ctx, "failed to create expiry job", err)
		os.Exit(1)
	}
	service, err := reaper.NewService(reaper.ServiceParams{
		Logger:   logg,
		Job:      job,
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Reaper.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create reaper service", err)
		os.Exit(1)
	}

	if !cfg.App.RunLocal {
		lambda.Start(func(ctx context.Context, ev events.CloudWatchEvent) (reaper.ExpiryResult, error) {
			ctx = logg.WithField(ctx, "schedule_event_id", ev.ID)
			return service.RunOnce(ctx)
		})
		return
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logg.Info(ctx, "starting payment expiry reaper")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "reaper stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "reaper shutting down gracefully")
}
