package main

import (
	"os"
	"strings"

	"github.com/escuelachat/chat-api/internal/config"
	"github.com/escuelachat/chat-api/internal/repository/postgres"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	sourceURL := os.Getenv("MIGRATIONS_PATH")
	if sourceURL == "" {
		sourceURL = "file://migrations"
	}

	// golang-migrate selects its pgx/v5 driver by DSN scheme.
	dsn := strings.Replace(cfg.Database.DSN(), "postgres://", "pgx5://", 1)

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Msg("Running database migrations")

	if err := postgres.RunMigrations(dsn, sourceURL); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
