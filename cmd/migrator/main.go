package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/config"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/database"
	"github.com/rs/zerolog"
)

var (
	configPath = flag.String("config", "config/config.testnet.yaml", "Path to configuration file")
	schemaPath = flag.String("schema", "", "Optional schema SQL file; the built-in schema is used when empty")
)

func main() {
	flag.Parse()

	logger := setupLogger()

	logger.Info().
		Str("service", "migrator").
		Str("config", *configPath).
		Msg("Starting Metabridge Database Migrator")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if !cfg.Database.Enabled() {
		logger.Fatal().Msg("No database configured, nothing to migrate")
	}

	logger.Info().
		Str("environment", string(cfg.Environment)).
		Str("database", cfg.Database.Database).
		Msg("Configuration loaded")

	db, err := database.NewDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if *schemaPath == "" {
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to apply schema")
		}
		logger.Info().Msg("Built-in settlement schema applied")
		return
	}

	schema, err := os.ReadFile(*schemaPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to read schema file")
	}

	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		logger.Fatal().Err(err).Msg("Failed to execute schema")
	}

	logger.Info().
		Str("schema_file", *schemaPath).
		Msg("Database schema applied successfully")
}

func setupLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()
}
