package database

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"f0oster/permspy/snapshot"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// conn is the subset of *pgxpool.Pool the sink uses.
type conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Database records change events in Postgres.
type Database struct {
	pool   *pgxpool.Pool
	conn   conn
	logger *slog.Logger
}

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*Database, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Database{pool: pool, conn: pool, logger: logger}, nil
}

// Migrate creates the change event tables if they do not exist.
func (db *Database) Migrate(ctx context.Context) error {
	if _, err := db.conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	db.logger.Info("change event tables ready")
	return nil
}

// RecordChange inserts the event and its changed sections in one transaction.
func (db *Database) RecordChange(ctx context.Context, ev snapshot.ChangeEvent) (err error) {
	summary, err := json.Marshal(ev.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	tx, err := db.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer db.rollbackOrCommit(ctx, tx, &err)

	_, err = tx.Exec(ctx, InsertChangeEvent,
		ev.ID,
		ev.Timestamp,
		ev.ChangesDetected,
		ev.Summary.TotalRoles,
		ev.Summary.TotalUsers,
		ev.Summary.TotalDatabases,
		ev.Summary.TotalRoleGrants,
		ev.Summary.TotalUserGrants,
		summary,
	)
	if err != nil {
		return fmt.Errorf("insert change event: %w", err)
	}

	for _, section := range ev.ChangedSections {
		if _, err = tx.Exec(ctx, InsertChangedSection, ev.ID, section); err != nil {
			return fmt.Errorf("insert changed section %q: %w", section, err)
		}
	}
	return nil
}

// CountChanges returns the number of recorded change events.
func (db *Database) CountChanges(ctx context.Context) (int64, error) {
	var n int64
	if err := db.conn.QueryRow(ctx, CountChangeEvents).Scan(&n); err != nil {
		return 0, fmt.Errorf("count change events: %w", err)
	}
	return n, nil
}

func (db *Database) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

func (db *Database) rollbackOrCommit(ctx context.Context, tx pgx.Tx, err *error) {
	if *err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			db.logger.Error("transaction rollback failed", "error", rbErr, "cause", *err)
		}
		return
	}
	if cmErr := tx.Commit(ctx); cmErr != nil {
		*err = fmt.Errorf("commit failed: %w", cmErr)
	}
}
