// Package sqlstore persists records in SQLite through bun.
//
// Reads, counts and deletes go through a go-repository-bun Repository with
// select and delete criteria; saves are a bun upsert on the composite key.
// All namespaces share one records table. Record data is stored as text, and
// attribute queries are answered with json_extract, so they require a JSON
// translator.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

type recordRow struct {
	bun.BaseModel `bun:"table:records,alias:r"`

	Namespace string    `bun:"namespace,pk"`
	Key       string    `bun:"record_key,pk"`
	Data      string    `bun:"data,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// Store owns the database shared by every repository built on it.
type Store struct {
	db      *bun.DB
	records repository.Repository[*recordRow]
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens or creates the SQLite database at path and ensures the schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlstore: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite has a single writer.
	sqlDB.SetMaxOpenConns(1)

	db := bun.NewDB(sqlDB, sqlitedialect.New())
	s := &Store{
		db: db,
		records: repository.NewRepository[*recordRow](db, repository.ModelHandlers[*recordRow]{
			NewRecord: func() *recordRow { return &recordRow{} },
		}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if err := s.db.PingContext(ctx); err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	s.logger.Debug("sqlite store ready", slog.String("path", path))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*recordRow)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// DB exposes the underlying bun handle.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// upsert writes one row. The repository's Upsert resolves records by a single
// identifier, so the composite key conflict is handled here.
func (s *Store) upsert(ctx context.Context, namespace, key string, data []byte) error {
	row := &recordRow{
		Namespace: namespace,
		Key:       key,
		Data:      string(data),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (namespace, record_key) DO UPDATE").
		Set("data = EXCLUDED.data").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	rows, _, err := s.records.List(ctx, inNamespace(namespace), withKeys(key), firstRow())
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return []byte(rows[0].Data), true, nil
}

func (s *Store) delete(ctx context.Context, namespace, key string) error {
	return s.records.DeleteWhere(ctx,
		func(q *bun.DeleteQuery) *bun.DeleteQuery {
			return q.Where("namespace = ?", namespace).Where("record_key = ?", key)
		},
	)
}

func inNamespace(namespace string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("r.namespace = ?", namespace)
	}
}

func withKeys(keys ...string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("r.record_key IN (?)", bun.In(keys))
	}
}

func withAttribute(path string, value any) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("json_extract(r.data, ?) = ?", path, value)
	}
}

// firstRow orders by key so GetQuery is deterministic.
func firstRow() repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.OrderExpr("r.record_key").Limit(1)
	}
}
