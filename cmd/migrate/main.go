package main

import (
	"fmt"
	"os"

	"boutique/backend/internal/config"
	"boutique/backend/internal/logging"
	pgstore "boutique/backend/internal/store/postgres"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL must be set")
	}

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	var err error
	switch direction {
	case "up":
		err = pgstore.MigrateUp(cfg.DatabaseURL)
	case "down":
		err = pgstore.MigrateDown(cfg.DatabaseURL)
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [up|down]\n", os.Args[0])
		os.Exit(2)
	}
	if err != nil {
		logger.Fatalf("migrate %s: %v", direction, err)
	}
	logger.WithField("direction", direction).Info("migrations complete")
}
