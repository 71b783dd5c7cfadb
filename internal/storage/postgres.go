package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pancount/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/pancount?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	driver, err := pgxmigrate.WithInstance(s.db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	return migrateUp("postgres", "pgx5", driver)
}

func (s *postgresStore) SaveBatch(ctx context.Context, batch model.Batch, product string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (id, count, confirmed_at, product, notes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET count = EXCLUDED.count, confirmed_at = EXCLUDED.confirmed_at,
			product = EXCLUDED.product, notes = EXCLUDED.notes`,
		batch.ID,
		batch.Count,
		batch.ConfirmedAt.UTC(),
		product,
		batch.Notes,
	)
	return err
}

func (s *postgresStore) ListBatches(ctx context.Context, limit int) ([]model.Batch, error) {
	if s.db == nil {
		return nil, nil
	}
	query := `SELECT id, count, confirmed_at, notes FROM batches ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanBatches(rows, func(rows *sql.Rows, b *model.Batch) error {
		return rows.Scan(&b.ID, &b.Count, &b.ConfirmedAt, &b.Notes)
	})
}
