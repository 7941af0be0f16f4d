package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/cache/migrations"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/dbx"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/logging"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/models"
)

// SQLiteRepository implements Repository over a DBTX (either *sql.DB or
// *sql.Tx). Each scope key holds one JSON array of records.
type SQLiteRepository struct {
	db     dbx.DBTX
	logger logging.Logger
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX, logger logging.Logger) *SQLiteRepository {
	return &SQLiteRepository{db: db, logger: logger.With("module", "cache")}
}

// RunMigrations sets up goose with the embedded migrations and applies
// them. goose's base FS and dialect are process-global, so a binary must
// not interleave this with another store's migrations (the archiver runs
// only the hot-store set; app binaries run only this one).
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens the cache database and applies migrations.
func InitDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Load returns the cached collection for scopeKey. A missing row yields an
// empty collection. Corrupt payloads are logged and also yield an empty
// collection; the cache is a convenience copy, never a reason to crash.
func (r *SQLiteRepository) Load(ctx context.Context, scopeKey string) ([]models.Record, error) {
	query := `select payload from cache where scope_key=?`
	row := r.db.QueryRowContext(ctx, query, scopeKey)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.Record{}, nil
		}
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	var records []models.Record
	if err := json.Unmarshal(payload, &records); err != nil {
		r.logger.Warn(ctx, "discarding corrupt cache payload", "scope", scopeKey, "error", err.Error())
		return []models.Record{}, nil
	}
	return records, nil
}

// Save replaces the cached collection for scopeKey. The write is durable
// once the call returns.
func (r *SQLiteRepository) Save(ctx context.Context, scopeKey string, records []models.Record) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode cache payload: %w", err)
	}

	query := ` INSERT INTO cache (scope_key, payload, updated_at)
			values (?, ?, datetime('now'))
			ON CONFLICT(scope_key) DO UPDATE SET payload = excluded.payload,
				updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, scopeKey, payload); err != nil {
		return fmt.Errorf("failed to upsert cache: %w", err)
	}
	return nil
}
