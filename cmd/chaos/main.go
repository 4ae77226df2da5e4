// cmd/chaos/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coopcredit/internal/chaos"
	"coopcredit/internal/clients"
	"coopcredit/internal/config"
	"coopcredit/internal/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zl, err := logger.New("coopcredit-chaos", config.GetEnvOrDefaultAsString("LOG_LEVEL", "info"))
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer zl.Sync()

	client := clients.NewLendingClient(
		config.GetEnvOrDefaultAsString("LENDING_SERVICE_URL", "http://localhost:8081"),
		clients.WithClientLogger(zl),
	)

	engine := chaos.NewEngine(client, zl,
		chaos.WithPause(time.Duration(config.GetEnvOrDefaultAsInt("CHAOS_PAUSE_SECONDS", 30))*time.Second),
	)
	engine.RegisterExperiments(chaos.ExperimentConfig{
		Concurrency: config.GetEnvOrDefaultAsInt("CHAOS_CONCURRENCY", 50),
		Duration:    time.Duration(config.GetEnvOrDefaultAsInt("CHAOS_DURATION_SECONDS", 10)) * time.Second,
	})

	gameDay := chaos.GameDay{
		Name:        "Weekly Chaos Game Day",
		Date:        time.Now(),
		Experiments: engine.Experiments(),
	}

	if err := engine.RunGameDay(ctx, gameDay); err != nil {
		zl.Fatal("chaos game day failed", zap.Error(err))
	}
}
