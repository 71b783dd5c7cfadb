package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"pancount/internal/config"
	"pancount/internal/model"
)

//go:embed migrations
var migrationsFS embed.FS

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// Store persists confirmed batches so the ledger survives restarts.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveBatch(ctx context.Context, batch model.Batch, product string) error
	ListBatches(ctx context.Context, limit int) ([]model.Batch, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// Recorder adapts a Store to a batch sink. product is read at record time.
type Recorder struct {
	Store   Store
	Product func() string
}

func (r Recorder) Record(ctx context.Context, batch model.Batch) error {
	if r.Store == nil {
		return nil
	}
	product := ""
	if r.Product != nil {
		product = r.Product()
	}
	return r.Store.SaveBatch(ctx, batch, product)
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// migrateUp applies the embedded migrations under dir. m is not closed
// because closing it would close db.
func migrateUp(dir, dbName string, driver database.Driver) error {
	src, err := iofs.New(migrationsFS, "migrations/"+dir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, dbName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	slog.Debug(fmt.Sprintf("migrate: "+strings.TrimSpace(format), v...))
}

func (migrateLogger) Verbose() bool { return false }

func scanBatches(rows *sql.Rows, scan func(*sql.Rows, *model.Batch) error) ([]model.Batch, error) {
	defer rows.Close()
	var out []model.Batch
	for rows.Next() {
		var b model.Batch
		if err := scan(rows, &b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Oldest first, matching the in-memory ledger.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
