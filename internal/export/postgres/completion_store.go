// Package postgres mirrors completed projects into a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
	"github.com/JakeFAU/bidboard-harvester/internal/export"
)

// DefaultTable receives completion rows when no table is configured.
const DefaultTable = "bid_completions"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for completion rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// EnsureSchema creates the table on startup when it is missing.
	EnsureSchema bool
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// CompletionStore upserts one row per completed project.
type CompletionStore struct {
	pool  execCloser
	table string
}

var _ export.Exporter = (*CompletionStore)(nil)

// New creates a Postgres-backed CompletionStore using the provided config.
func New(ctx context.Context, cfg Config) (*CompletionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("export.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &CompletionStore{pool: pool, table: table}
	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*CompletionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &CompletionStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Name identifies the exporter in logs and metrics.
func (s *CompletionStore) Name() string {
	return "postgres"
}

// Close releases the underlying pool resources.
func (s *CompletionStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// EnsureSchema creates the completion table if it does not exist.
func (s *CompletionStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	sequence INTEGER NOT NULL UNIQUE,
	folder TEXT NOT NULL,
	name TEXT NOT NULL,
	due_date TEXT NOT NULL,
	location TEXT NOT NULL,
	client TEXT NOT NULL,
	email TEXT NOT NULL,
	phone TEXT NOT NULL,
	size TEXT NOT NULL,
	archive_name TEXT,
	archive_sha256 TEXT,
	source_url TEXT,
	discovered_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Export upserts the completion keyed by project identifier.
func (s *CompletionStore) Export(ctx context.Context, c bid.Completion) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("completion store is not configured")
	}
	if !c.Record.Identifier.Valid() {
		return fmt.Errorf("record id is required")
	}
	doc := export.NewDocument(c)
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	sequence,
	folder,
	name,
	due_date,
	location,
	client,
	email,
	phone,
	size,
	archive_name,
	archive_sha256,
	source_url,
	discovered_at,
	completed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)
ON CONFLICT (id) DO UPDATE SET
	archive_name = EXCLUDED.archive_name,
	archive_sha256 = EXCLUDED.archive_sha256,
	completed_at = EXCLUDED.completed_at`, s.table)

	args := []any{
		doc.ID,
		doc.Sequence,
		doc.Folder,
		doc.Name,
		doc.DueDate,
		doc.Location,
		doc.Client,
		doc.Email,
		doc.Phone,
		doc.Size,
		doc.ArchiveName,
		doc.ArchiveSHA256,
		doc.SourceURL,
		doc.DiscoveredAt,
		doc.CompletedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	return nil
}
