// Package pgclient is the PostgreSQL collaborator of a pipeline run. It
// raises the statement timeout on every pooled connection, reports the
// effective timeout before the run and, when profiling is enabled, logs
// every statement with its duration.
package pgclient

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"

	"github.com/nomis52/gosync/config"
)

const (
	// DefaultStatementTimeout keeps long-running sync statements alive.
	DefaultStatementTimeout = 8 * time.Hour

	pingTimeout = 5 * time.Second
	maxConns    = 4
)

// Client wraps a connection pool. It implements pipeline.Tuner and
// pipeline.Profiler.
type Client struct {
	pool             *pgxpool.Pool
	statementTimeout time.Duration
	logger           *slog.Logger

	profiler atomic.Pointer[slog.Logger]
}

// New creates a pool for cfg.DSN. Connections are opened lazily; call
// Tune to verify the database is reachable.
func New(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Client, error) {
	c := &Client{
		statementTimeout: cfg.StatementTimeout,
		logger:           logger,
	}
	if c.statementTimeout == 0 {
		c.statementTimeout = DefaultStatementTimeout
	}

	poolCfg, err := c.poolConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}
	c.pool = pool
	return c, nil
}

func (c *Client) poolConfig(dsn string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(c.statementTimeout.Milliseconds(), 10)
	cfg.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   tracelog.LoggerFunc(c.logStatement),
		LogLevel: tracelog.LogLevelInfo,
	}
	return cfg, nil
}

// Tune checks the connection and logs the statement timeout the server
// applies to this session.
func (c *Client) Tune(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.pool.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	var timeout string
	if err := c.pool.QueryRow(ctx, "SHOW statement_timeout").Scan(&timeout); err != nil {
		return fmt.Errorf("show statement_timeout: %w", err)
	}
	c.logger.Info("database ready", "statement_timeout", timeout)
	return nil
}

// EnableProfiling logs every following statement to logger at debug level.
func (c *Client) EnableProfiling(logger *slog.Logger) {
	c.profiler.Store(logger)
}

// logStatement receives pgx trace events and forwards statements to the
// profiling logger, if any.
func (c *Client) logStatement(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	logger := c.profiler.Load()
	if logger == nil {
		return
	}
	sql, ok := data["sql"]
	if !ok {
		return
	}

	attrs := []any{"sql", sql}
	if d, ok := data["time"].(time.Duration); ok {
		attrs = append(attrs, "duration", d)
	}
	if args, ok := data["args"].([]any); ok && len(args) > 0 {
		attrs = append(attrs, "args", args)
	}
	if level <= tracelog.LogLevelError {
		attrs = append(attrs, "error", data["err"])
	}
	logger.DebugContext(ctx, "sql "+msg, attrs...)
}

// Exec runs a statement and returns its command tag.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.pool.Exec(ctx, sql, args...)
}

// Query runs a query and returns its rows.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.pool.Query(ctx, sql, args...)
}

// Close closes every pooled connection.
func (c *Client) Close() {
	c.pool.Close()
}
