package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-transactional-orders/internal/aws"
	"github.com/imrishuroy/go-transactional-orders/internal/config"
	"github.com/imrishuroy/go-transactional-orders/internal/events"
	"github.com/imrishuroy/go-transactional-orders/internal/idempotency"
	"github.com/imrishuroy/go-transactional-orders/internal/observability"
	"github.com/imrishuroy/go-transactional-orders/internal/orders"
	"github.com/imrishuroy/go-transactional-orders/internal/outbox"
	"github.com/imrishuroy/go-transactional-orders/internal/store/dynamo"
	"github.com/imrishuroy/go-transactional-orders/internal/store/postgres"
)

// Store is what a backend offers the rest of the process: the order core
// ports plus the outbox source.
type Store interface {
	orders.Store
	outbox.Source
}

// Infrastructure holds the process-wide resources built from Config.
type Infrastructure struct {
	Config      *config.Config
	Logger      *zap.Logger
	Tracer      trace.Tracer
	Store       Store
	Service     *orders.Service
	Idempotency *idempotency.Store // nil when IDEMPOTENCY_TABLE is unset
	Publisher   events.Publisher   // nil when EVENTS_SINK=none

	pool         *pgxpool.Pool
	otelShutdown func(context.Context) error
}

// NewInfrastructure loads configuration and connects every component the
// configuration asks for. serviceName tags telemetry and logs.
func NewInfrastructure(ctx context.Context, serviceName string) (*Infrastructure, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	infra := &Infrastructure{Config: cfg}

	infra.otelShutdown, err = observability.Setup(ctx, observability.OTelConfig{
		ServiceName:    serviceName,
		ServiceVersion: config.ServiceVersion,
		Endpoint:       cfg.OtelEndpoint,
		AuthHeader:     cfg.OtelAuthHeader,
		Insecure:       cfg.OtelInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup opentelemetry: %w", err)
	}
	infra.Logger = observability.NewLogger(serviceName, cfg.LogLevel)
	infra.Tracer = otel.Tracer(serviceName)

	var clients *aws.AWSClients
	if cfg.StoreBackend == config.BackendDynamoDB || cfg.IdempotencyTable != "" || cfg.EventsSink == config.SinkSQS {
		if clients, err = aws.NewAWSClients(ctx, cfg.AWSRegion); err != nil {
			infra.Shutdown(ctx)
			return nil, fmt.Errorf("failed to init aws clients: %w", err)
		}
	}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			infra.Shutdown(ctx)
			return nil, err
		}
		infra.pool = pool
		if err := postgres.Migrate(ctx, pool); err != nil {
			infra.Shutdown(ctx)
			return nil, err
		}
		infra.Store = postgres.NewStore(pool)
	case config.BackendDynamoDB:
		infra.Store = dynamo.NewStore(clients.DynamoDB, cfg.OrdersTable)
	}

	if cfg.IdempotencyTable != "" {
		infra.Idempotency = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	}

	switch cfg.EventsSink {
	case config.SinkSQS:
		infra.Publisher = events.NewSQSPublisher(clients.SQS, cfg.QueueURL)
	case config.SinkKafka:
		pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			infra.Shutdown(ctx)
			return nil, err
		}
		infra.Publisher = pub
	}

	infra.Service = orders.NewService(infra.Store, infra.Logger, infra.Tracer, orders.Config{
		TxTimeout: cfg.TxTimeout,
	})

	infra.Logger.Info("infrastructure ready",
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("events_sink", cfg.EventsSink),
		zap.Bool("idempotency", infra.Idempotency != nil),
	)
	return infra, nil
}

// Relay returns an outbox relay for the configured sink, or nil when
// events are disabled.
func (infra *Infrastructure) Relay() *outbox.Relay {
	if infra.Publisher == nil {
		return nil
	}
	return outbox.NewRelay(infra.Store, infra.Publisher, infra.Logger.Named("outbox"), outbox.Config{
		BatchSize: infra.Config.RelayBatchSize,
		Interval:  infra.Config.RelayInterval,
	})
}

// Shutdown releases everything NewInfrastructure acquired.
func (infra *Infrastructure) Shutdown(ctx context.Context) {
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("shutting down infrastructure")

	if infra.Publisher != nil {
		if err := infra.Publisher.Close(); err != nil {
			logger.Error("failed to close event publisher", zap.Error(err))
		}
	}
	if infra.pool != nil {
		infra.pool.Close()
	}
	if infra.otelShutdown != nil {
		if err := infra.otelShutdown(ctx); err != nil {
			logger.Error("failed to shutdown opentelemetry", zap.Error(err))
		}
	}
	_ = logger.Sync()
}
