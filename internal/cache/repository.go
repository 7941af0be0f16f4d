// Package cache implements the durable per-scope record cache that seeds
// the UI before any remote data arrives.
package cache

import (
	"context"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/models"
)

// Repository is the local cache contract. Load never fails on corrupt
// data; it falls back to an empty collection so a bad cache can never take
// the app down. Save errors are reported to the caller, who treats them as
// non-fatal (in-memory state stays authoritative for the session).
type Repository interface {
	Load(ctx context.Context, scopeKey string) ([]models.Record, error)
	Save(ctx context.Context, scopeKey string, records []models.Record) error
}
