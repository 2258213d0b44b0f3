package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/listings-etl/internal/config"
)

// Connection holds the database connection
type Connection struct {
	DB *sql.DB
}

// DSNFromEnv builds a connection string from the standard PG* variables.
func DSNFromEnv() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.GetEnv("PGHOST", "localhost"),
		config.GetEnv("PGPORT", "5432"),
		config.GetEnv("PGUSER", "etl"),
		config.GetEnv("PGPASSWORD", "etl"),
		config.GetEnv("PGDATABASE", "listings"),
		config.GetEnv("PGSSLMODE", "disable"),
	)
}

// Open connects to dsn, or to the database described by the PG* variables
// when dsn is empty, and pings it.
func Open(ctx context.Context, dsn string) (*Connection, error) {
	if dsn == "" {
		dsn = DSNFromEnv()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// A run writes in one transaction; a handful of connections is plenty.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	return &Connection{DB: db}, nil
}

// Close closes the database connection
func (c *Connection) Close() error {
	return c.DB.Close()
}
