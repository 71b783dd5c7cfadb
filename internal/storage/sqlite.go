package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite"

	"pancount/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:pancount.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	return migrateUp("sqlite", "sqlite", driver)
}

func (s *sqliteStore) SaveBatch(ctx context.Context, batch model.Batch, product string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (id, count, confirmed_at, product, notes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET count = excluded.count, confirmed_at = excluded.confirmed_at,
			product = excluded.product, notes = excluded.notes`,
		batch.ID,
		batch.Count,
		batch.ConfirmedAt.UTC().Format(time.RFC3339Nano),
		product,
		batch.Notes,
	)
	return err
}

func (s *sqliteStore) ListBatches(ctx context.Context, limit int) ([]model.Batch, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, count, confirmed_at, notes FROM batches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanBatches(rows, func(rows *sql.Rows, b *model.Batch) error {
		var ts string
		if err := rows.Scan(&b.ID, &b.Count, &ts, &b.Notes); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("batch %d confirmed_at: %w", b.ID, err)
		}
		b.ConfirmedAt = parsed
		return nil
	})
}
