package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/aws"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/config"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFor(config.ServiceWorker)
	if err != nil {
		logger.New(logger.Options{ServiceName: "order-events-worker"}).Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg := logger.New(logger.Options{
		ServiceName: "order-events-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})

	clients, err := aws.NewClients(context.Background(), cfg.AWS)
	if err != nil {
		logg.Error(context.Background(), "failed to init aws clients", err)
		os.Exit(1)
	}
	processor := NewProcessor(clients.CloudWatch, cfg.Events.MetricsNamespace, logg)

	// RUN_LOCAL replays one message body from LOCAL_SQS_BODY.
	if cfg.App.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			logg.Error(context.Background(), "LOCAL_SQS_BODY is required when running locally", nil)
			os.Exit(1)
		}
		resp, err := processor.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logg.Error(context.Background(), "local handler error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(processor.Handle)
}
