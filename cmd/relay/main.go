package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-transactional-orders/internal/app"
)

const serviceName = "orders-relay"

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

	relay := infra.Relay()
	if relay == nil {
		infra.Logger.Warn("EVENTS_SINK is none, nothing to relay")
		return
	}

	if err := relay.Run(ctx); err != nil {
		infra.Logger.Error("outbox relay failed", zap.Error(err))
	}
}
