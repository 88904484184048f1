// Package audit is the optional Postgres transaction-audit sink: one row
// per completed AIR/ULR transaction, for billing reconciliation and
// security audit. Adapted from the teacher's pkg/database connection-pool
// and migration pattern; like the teacher's own database integration, its
// absence must never block an AIR/ULR answer.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config configures the audit sink.
type Config struct {
	DSN      string
	MaxConns int
	MaxIdle  int
}

// Sink writes one row per completed S6a transaction. The zero value is not
// usable; construct with New.
type Sink struct {
	conn *sql.DB
}

// New opens a connection pool, runs the audit-table migration, and returns
// a Sink. Mirrors the teacher's New()+RunMigrations() sequencing.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	conn, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns == 0 {
		maxConns = 10
	}
	maxIdle := cfg.MaxIdle
	if maxIdle == 0 {
		maxIdle = 5
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(maxIdle)
	conn.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("audit: ping: %w", err)
	}

	s := &Sink{conn: conn}
	if err := s.runMigrations(ctx); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return s, nil
}

func (s *Sink) runMigrations(ctx context.Context) error {
	const createTable = `
	CREATE TABLE IF NOT EXISTS s6a_transactions (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		imsi VARCHAR(15) NOT NULL,
		command VARCHAR(10) NOT NULL,
		result_code INTEGER NOT NULL,
		latency_ms DOUBLE PRECISION NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_s6a_transactions_imsi ON s6a_transactions(imsi);
	CREATE INDEX IF NOT EXISTS idx_s6a_transactions_ts ON s6a_transactions(ts);
	`
	_, err := s.conn.ExecContext(ctx, createTable)
	return err
}

// Record inserts one audit row.
func (s *Sink) Record(ctx context.Context, imsi, command string, resultCode uint32, latency time.Duration) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO s6a_transactions (imsi, command, result_code, latency_ms) VALUES ($1, $2, $3, $4)`,
		imsi, command, resultCode, float64(latency.Microseconds())/1000.0,
	)
	return err
}

// Observe implements the transaction-observer contract internal/s6a.
// Dispatcher expects. Errors are swallowed — matching the teacher's
// "Database initialization failed, continuing without DB" posture, an
// audit-sink failure must never affect an already-answered AIR/ULR
// transaction. Callers that need to know about write failures should call
// Record directly instead.
func (s *Sink) Observe(imsi, command string, resultCode uint32, latency time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.Record(ctx, imsi, command, resultCode, latency)
}

// Close closes the underlying connection pool.
func (s *Sink) Close() error {
	return s.conn.Close()
}
