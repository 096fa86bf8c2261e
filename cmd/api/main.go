package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-transactional-orders/internal/app"
	"github.com/imrishuroy/go-transactional-orders/internal/handlers"
	"github.com/imrishuroy/go-transactional-orders/internal/observability"
)

const serviceName = "orders-api"

func setupRouter(infra *app.Infrastructure, metrics *observability.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(handlers.RequestID())
	r.Use(observability.Tracing(infra.Tracer))
	r.Use(metrics.Middleware())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	cfg := handlers.HandlerConfig{
		Service: infra.Service,
		Metrics: metrics,
		Logger:  infra.Logger.Named("http"),
	}
	// a nil *idempotency.Store must not become a non-nil interface
	if infra.Idempotency != nil {
		cfg.Idempotency = infra.Idempotency
	}
	handlers.RegisterOrdersRoutes(r, cfg)

	return r
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := app.NewInfrastructure(ctx, serviceName)
	if err != nil {
		log.Fatalf("failed to init infrastructure: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		infra.Shutdown(shutdownCtx)
	}()

	gin.SetMode(gin.ReleaseMode)
	r := setupRouter(infra, observability.NewMetrics(prometheus.NewRegistry()))

	// if RUN_LOCAL is set, run a local HTTP server and relay the outbox in-process.
	if infra.Config.RunLocal {
		runLocal(ctx, infra, r)
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.StartWithOptions(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	}, lambda.WithContext(ctx))
}

func runLocal(ctx context.Context, infra *app.Infrastructure, r *gin.Engine) {
	logger := infra.Logger

	if relay := infra.Relay(); relay != nil {
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error("outbox relay stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + infra.Config.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("running local server", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("local server failed", zap.Error(err))
	}
}
