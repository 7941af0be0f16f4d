// Package hotstore implements the primary live document store for records
// and per-user settings, backed by PostgreSQL. A LISTEN/NOTIFY change feed
// delivers the complete per-user record set on every remote mutation,
// which is what lets the synchronization engine reconcile by
// whole-collection replace.
package hotstore

import (
	"context"
	"time"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/models"
)

// RecordStore is the hot-store contract used by the synchronization
// engine.
type RecordStore interface {
	// Put upserts a record in the user's collection. Records still
	// carrying an inline image payload are rejected with
	// common.ErrInlinePayload.
	Put(ctx context.Context, scopeKey string, rec models.Record) error

	// Delete removes a record by id. Deleting an absent record is not an
	// error; the optimistic local delete already happened.
	Delete(ctx context.Context, scopeKey string, id string) error

	// Subscribe attaches a live listener for the user's collection. fn
	// receives the complete current set on every change, including once
	// shortly after subscribing. Snapshots on this feed reflect server
	// state only: their PendingWrites field is always false, and the
	// synchronization engine layers its own pending-write tracking on
	// top. The returned function detaches the listener synchronously:
	// once it returns, fn will not be called again.
	Subscribe(ctx context.Context, scopeKey string, fn func(models.Snapshot)) (func(), error)
}

// ArchiveSource is the subset of the hot store consumed by the archival
// job.
type ArchiveSource interface {
	// ListUsersWithRecordsBefore returns the scope keys of all users
	// owning at least one record with an activity date before cutoff.
	ListUsersWithRecordsBefore(ctx context.Context, cutoff time.Time) ([]string, error)

	// SelectOlderThan returns the user's records with an activity date
	// before cutoff.
	SelectOlderThan(ctx context.Context, scopeKey string, cutoff time.Time) ([]models.Record, error)

	// DeleteBatch removes the given records in one atomic operation.
	DeleteBatch(ctx context.Context, scopeKey string, ids []string) error
}

// SettingsStore is the per-user settings document adapter backing the
// entitlement mirror.
type SettingsStore interface {
	// MergeEntitlement writes the entitlement sub-object into the user's
	// settings document, preserving all other fields (merge, not
	// overwrite).
	MergeEntitlement(ctx context.Context, scopeKey string, ent models.Entitlement) error

	// Subscribe attaches a live listener for the user's settings document.
	// fn receives the current document on every change, including once
	// shortly after subscribing (an empty document if none exists yet).
	Subscribe(ctx context.Context, scopeKey string, fn func(models.UserSettings)) (func(), error)
}
