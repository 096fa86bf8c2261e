package main

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-transactional-orders/internal/aws"
	"github.com/imrishuroy/go-transactional-orders/internal/config"
	"github.com/imrishuroy/go-transactional-orders/internal/idempotency"
	"github.com/imrishuroy/go-transactional-orders/internal/observability"
)

const serviceName = "orders-worker"

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	shutdown, err := observability.Setup(ctx, observability.OTelConfig{
		ServiceName:    serviceName,
		ServiceVersion: config.ServiceVersion,
		Endpoint:       cfg.OtelEndpoint,
		AuthHeader:     cfg.OtelAuthHeader,
		Insecure:       cfg.OtelInsecure,
	})
	if err != nil {
		log.Fatalf("failed to setup opentelemetry: %v", err)
	}
	logger := observability.NewLogger(serviceName, cfg.LogLevel)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown opentelemetry", zap.Error(err))
		}
		_ = logger.Sync()
	}()

	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	var dedup EventDeduper
	if cfg.IdempotencyTable != "" {
		dedup = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	}

	p := NewProcessor(clients.CloudWatch, cfg.MetricsNamespace, dedup, logger)
	lambda.Start(p.Handle)
}
