package hotstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/common"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/dbx"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/hotstore/migrations"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/logging"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/models"
)

// Store implements RecordStore, ArchiveSource and SettingsStore over
// PostgreSQL. Queries run through the database/sql pool; live
// subscriptions use dedicated pgx connections (see listener.go), which is
// why the DSN is retained.
type Store struct {
	db     *sql.DB
	dsn    string
	logger logging.Logger
}

// NewStore constructs a Store over an open pool. dsn is used to open the
// dedicated listener connections.
func NewStore(db *sql.DB, dsn string, logger logging.Logger) *Store {
	return &Store{db: db, dsn: dsn, logger: logger.With("module", "hotstore")}
}

// gooseUpContext is a seam for testing RunMigrations.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection. goose's base FS and dialect
// are process-global, so a binary must not interleave this with the cache
// store's migrations (each binary runs exactly one migration set).
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return gooseUpContext(ctx, db, ".")
}

// Put upserts a record by (user_id, id). The inline-payload check enforces
// the invariant that inline images never reach the hot store.
func (s *Store) Put(ctx context.Context, scopeKey string, rec models.Record) error {
	if rec.Image != nil && rec.Image.IsInline() {
		return common.ErrInlinePayload
	}

	var imageURL string
	if rec.Image != nil {
		imageURL = rec.Image.URL
	}

	query := `
		INSERT INTO records (user_id, id, activity_date, kind, image_url,
			amount, category, payment_method, usage_class,
			calories, protein, carbs, fat, recording_mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, id)
		DO UPDATE SET
			activity_date = EXCLUDED.activity_date,
			kind = EXCLUDED.kind,
			image_url = EXCLUDED.image_url,
			amount = EXCLUDED.amount,
			category = EXCLUDED.category,
			payment_method = EXCLUDED.payment_method,
			usage_class = EXCLUDED.usage_class,
			calories = EXCLUDED.calories,
			protein = EXCLUDED.protein,
			carbs = EXCLUDED.carbs,
			fat = EXCLUDED.fat,
			recording_mode = EXCLUDED.recording_mode;
	`
	_, err := s.db.ExecContext(ctx, query,
		scopeKey, rec.ID, rec.ActivityDate, string(rec.Kind), imageURL,
		rec.Amount.String(), rec.Category, rec.PaymentMethod, rec.UsageClass,
		rec.Calories, rec.Protein, rec.Carbs, rec.Fat, string(rec.RecordingMode))
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// Delete removes a record by id. Zero rows affected is fine: the record
// may never have reached the server in the first place.
func (s *Store) Delete(ctx context.Context, scopeKey string, id string) error {
	query := `DELETE FROM records WHERE user_id=$1 AND id=$2`
	if _, err := s.db.ExecContext(ctx, query, scopeKey, id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// ListUsersWithRecordsBefore returns scope keys of users that have at
// least one record older than cutoff.
func (s *Store) ListUsersWithRecordsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `SELECT DISTINCT user_id FROM records WHERE activity_date < $1 ORDER BY user_id`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to select users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// SelectOlderThan returns the user's records with activity_date < cutoff
// in canonical order.
func (s *Store) SelectOlderThan(ctx context.Context, scopeKey string, cutoff time.Time) ([]models.Record, error) {
	query := selectRecordColumns + ` WHERE user_id=$1 AND activity_date < $2 ORDER BY activity_date DESC, id DESC`
	return s.queryRecords(ctx, query, scopeKey, cutoff)
}

// DeleteBatch removes the given records in a single transaction, so a
// partially applied archival delete can never be observed.
func (s *Store) DeleteBatch(ctx context.Context, scopeKey string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE user_id=$1 AND id=$2`, scopeKey, id); err != nil {
				return fmt.Errorf("failed to delete record %s: %w", id, err)
			}
		}
		return nil
	})
}

const selectRecordColumns = `SELECT id, activity_date, kind, image_url,
	amount, category, payment_method, usage_class,
	calories, protein, carbs, fat, recording_mode FROM records`

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []models.Record
	for rows.Next() {
		var (
			item     models.Record
			kind     string
			imageURL string
			amount   string
			mode     string
		)
		if err := rows.Scan(
			&item.ID, &item.ActivityDate, &kind, &imageURL,
			&amount, &item.Category, &item.PaymentMethod, &item.UsageClass,
			&item.Calories, &item.Protein, &item.Carbs, &item.Fat, &mode,
		); err != nil {
			return nil, err
		}
		item.Kind = models.Kind(kind)
		item.RecordingMode = models.RecordingMode(mode)
		if imageURL != "" {
			item.Image = &models.ImageRef{URL: imageURL}
		}
		item.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("bad amount for record %s: %w", item.ID, err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// snapshot reads the user's complete collection in canonical order.
func (s *Store) snapshot(ctx context.Context, scopeKey string) (models.Snapshot, error) {
	query := selectRecordColumns + ` WHERE user_id=$1 ORDER BY activity_date DESC, id DESC`
	records, err := s.queryRecords(ctx, query, scopeKey)
	if err != nil {
		return models.Snapshot{}, err
	}
	if records == nil {
		records = []models.Record{}
	}
	return models.Snapshot{Records: records}, nil
}
