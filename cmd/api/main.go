// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coopcredit/internal/config"
	"coopcredit/internal/gateway"
	"coopcredit/internal/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zl, err := logger.New("coopcredit-gateway", config.GetEnvOrDefaultAsString("LOG_LEVEL", "info"))
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer zl.Sync()

	upstream, err := url.Parse(config.GetEnvOrDefaultAsString("LENDING_SERVICE_URL", "http://localhost:8081"))
	if err != nil {
		zl.Fatal("invalid LENDING_SERVICE_URL", zap.Error(err))
	}

	handler := gateway.NewRouter(gateway.Options{
		Upstream:    upstream,
		ClientRate:  rate.Limit(config.GetEnvOrDefaultAsInt("GATEWAY_CLIENT_RPS", 10)),
		ClientBurst: config.GetEnvOrDefaultAsInt("GATEWAY_CLIENT_BURST", 20),
		GlobalRate:  rate.Limit(config.GetEnvOrDefaultAsInt("GATEWAY_GLOBAL_RPS", 0)),
		GlobalBurst: config.GetEnvOrDefaultAsInt("GATEWAY_GLOBAL_BURST", 200),
	}, zl)

	server := &http.Server{
		Addr:              ":" + config.GetEnvOrDefaultAsString("PORT", "8080"),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zl.Info("API gateway listening", zap.String("addr", server.Addr), zap.String("upstream", upstream.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("listen error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}
}
