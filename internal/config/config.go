package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// ServiceVersion is reported in telemetry resources.
const ServiceVersion = "0.1.0"

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Event sinks for the outbox relay.
const (
	SinkSQS   = "sqs"
	SinkKafka = "kafka"
	SinkNone  = "none"
)

// Config holds environment-specific configuration.
type Config struct {
	StoreBackend string
	DatabaseURL  string
	OrdersTable  string

	// Empty disables Idempotency-Key support.
	IdempotencyTable string
	IdempotencyTTL   time.Duration

	EventsSink   string
	QueueURL     string
	KafkaBrokers string
	KafkaTopic   string

	RelayInterval  time.Duration
	RelayBatchSize int

	OtelEndpoint   string
	OtelAuthHeader string
	OtelInsecure   bool

	RunLocal  bool
	Port      string
	TxTimeout time.Duration
	LogLevel  zapcore.Level
	AWSRegion string
}

// Load reads configuration from environment variables and validates the
// settings the selected backend and sink need.
func Load() (*Config, error) {
	cfg := &Config{
		StoreBackend:     strings.ToLower(getenv("STORE_BACKEND", BackendPostgres)),
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		OrdersTable:      os.Getenv("ORDERS_TABLE"),
		IdempotencyTable: os.Getenv("IDEMPOTENCY_TABLE"),
		EventsSink:       strings.ToLower(getenv("EVENTS_SINK", SinkNone)),
		QueueURL:         os.Getenv("ORDERS_QUEUE_URL"),
		KafkaBrokers:     os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:       getenv("KAFKA_TOPIC", "orders.created"),
		OtelEndpoint:     os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader:   os.Getenv("OTEL_AUTH_HEADER"),
		OtelInsecure:     envBool("OTEL_INSECURE"),
		RunLocal:         envBool("RUN_LOCAL"),
		Port:             getenv("PORT", "8080"),
		AWSRegion:        os.Getenv("AWS_REGION"),
	}

	var err error
	if cfg.TxTimeout, err = envMillis("TX_TIMEOUT_MS", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RelayInterval, err = envMillis("RELAY_INTERVAL_MS", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = envMillis("IDEMPOTENCY_TTL_MS", 48*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RelayBatchSize, err = strconv.Atoi(getenv("RELAY_BATCH_SIZE", "50")); err != nil || cfg.RelayBatchSize <= 0 {
		return nil, fmt.Errorf("RELAY_BATCH_SIZE must be a positive integer")
	}
	if cfg.LogLevel, err = zapcore.ParseLevel(getenv("LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	switch cfg.StoreBackend {
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required for the postgres backend")
		}
	case BackendDynamoDB:
		if cfg.OrdersTable == "" {
			return nil, fmt.Errorf("ORDERS_TABLE environment variable is required for the dynamodb backend")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	switch cfg.EventsSink {
	case SinkNone:
	case SinkSQS:
		if cfg.QueueURL == "" {
			return nil, fmt.Errorf("ORDERS_QUEUE_URL environment variable is required for the sqs sink")
		}
	case SinkKafka:
		if cfg.KafkaBrokers == "" {
			return nil, fmt.Errorf("KAFKA_BROKERS environment variable is required for the kafka sink")
		}
	default:
		return nil, fmt.Errorf("unknown EVENTS_SINK %q", cfg.EventsSink)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}

func envMillis(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number of milliseconds", key)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// WorkerConfig configures the order-created consumer.
type WorkerConfig struct {
	// Empty disables event deduplication.
	IdempotencyTable string
	IdempotencyTTL   time.Duration
	MetricsNamespace string

	OtelEndpoint   string
	OtelAuthHeader string
	OtelInsecure   bool

	LogLevel  zapcore.Level
	AWSRegion string
}

// LoadWorker reads the worker's configuration from environment variables.
func LoadWorker() (*WorkerConfig, error) {
	cfg := &WorkerConfig{
		IdempotencyTable: os.Getenv("IDEMPOTENCY_TABLE"),
		MetricsNamespace: getenv("METRICS_NAMESPACE", "Orders"),
		OtelEndpoint:     os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader:   os.Getenv("OTEL_AUTH_HEADER"),
		OtelInsecure:     envBool("OTEL_INSECURE"),
		AWSRegion:        os.Getenv("AWS_REGION"),
	}

	var err error
	if cfg.IdempotencyTTL, err = envMillis("IDEMPOTENCY_TTL_MS", 48*time.Hour); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = zapcore.ParseLevel(getenv("LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return cfg, nil
}
