package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/config"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/monitoring"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

//go:embed schema.sql
var Schema string

// DB is the settlement journal connection
type DB struct {
	*sql.DB
	logger zerolog.Logger
}

// NewDB creates a new database connection
func NewDB(cfg *config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	db, err := sql.Open("postgres", ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime != "" {
		lifetime, err := time.ParseDuration(cfg.MaxLifetime)
		if err == nil {
			db.SetConnMaxLifetime(lifetime)
		}
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("Database connection established")

	return &DB{
		DB:     db,
		logger: logger.With().Str("component", "database").Logger(),
	}, nil
}

// ConnString renders the lib/pq keyword/value DSN
func ConnString(cfg *config.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quote(cfg.Host),
		port,
		quote(cfg.Username),
		quote(cfg.Password),
		quote(cfg.Database),
		sslMode,
	)
}

// quote escapes a DSN value so spaces and quotes survive
func quote(v string) string {
	if v == "" {
		return "''"
	}
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Migrate applies the embedded schema
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// RecordPoolStats publishes the open connection count
func (db *DB) RecordPoolStats() {
	monitoring.DatabaseConnectionsOpen.Set(float64(db.Stats().OpenConnections))
}

// Close closes the database connection
func (db *DB) Close() error {
	db.logger.Info().Msg("Closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}
