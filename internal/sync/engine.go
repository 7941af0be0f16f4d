// Package sync contains the synchronization engine: the single owner of
// the in-memory record collection and the local cache. Mutations apply
// optimistically to local state and return immediately; the remote write
// continues in the background, and the live snapshot feed is the
// authoritative reconciliation point.
package sync

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/cache"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/coldstore"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/common"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/hotstore"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/identity"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/logging"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/models"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/notify"
)

// GuestScope is the cache namespace used before any identity is acquired.
// Guest records stay local; remote propagation is skipped entirely.
const GuestScope = "guest"

// Engine orchestrates the cache, the hot store and the cold store for one
// identity session at a time. All exported methods are safe for
// concurrent use; internally the local step of every mutation is
// serialized, so local ordering is preserved even though remote writes
// race freely.
type Engine struct {
	cache  cache.Repository
	hot    hotstore.RecordStore
	cold   coldstore.ObjectStore
	sink   notify.Sink
	logger logging.Logger

	mu          sync.Mutex
	scope       string
	user        *identity.Identity
	entries     []models.Record
	pending     map[string]struct{}
	unsubscribe func()
	cacheWarned bool
	onChange    func(models.Snapshot)

	background sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithOnChange registers a callback invoked after every state change with
// a copy of the current collection. The callback runs on the engine's
// internal lock and must not call back into the engine.
func WithOnChange(fn func(models.Snapshot)) Option {
	return func(e *Engine) { e.onChange = fn }
}

// NewEngine returns an engine in the guest scope with an empty
// collection. Call SetIdentity (with nil for guest mode) to load the
// cache and, when an identity is present, attach the live feed.
func NewEngine(c cache.Repository, hot hotstore.RecordStore, cold coldstore.ObjectStore, sink notify.Sink, logger logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		cache:   c,
		hot:     hot,
		cold:    cold,
		sink:    sink,
		logger:  logger.With("module", "engine"),
		scope:   GuestScope,
		pending: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetIdentity switches the engine to a new identity session (nil means
// guest). The previous listener is detached synchronously before any new
// state is loaded, so a stale snapshot can never overwrite the new
// identity's collection.
func (e *Engine) SetIdentity(ctx context.Context, id *identity.Identity) error {
	e.mu.Lock()
	unsub := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()
	if unsub != nil {
		unsub()
	}

	scope := GuestScope
	if id != nil {
		scope = id.UserID
	}

	e.mu.Lock()
	e.user = id
	e.scope = scope
	e.pending = map[string]struct{}{}
	e.cacheWarned = false
	e.entries = e.loadCache(ctx, scope)
	e.emitLocked()
	e.mu.Unlock()

	if id == nil {
		return nil
	}

	unsubscribe, err := e.hot.Subscribe(ctx, scope, func(snap models.Snapshot) {
		e.applySnapshot(ctx, scope, snap)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	e.mu.Lock()
	if e.scope != scope {
		// identity changed again while we were subscribing
		e.mu.Unlock()
		unsubscribe()
		return nil
	}
	e.unsubscribe = unsubscribe
	e.mu.Unlock()
	return nil
}

// BindProvider attaches the engine to the identity event source: every
// emitted identity (nil on logout) switches the session via SetIdentity.
// The returned function detaches from the provider.
func (e *Engine) BindProvider(ctx context.Context, p identity.Provider) (func(), error) {
	return p.Subscribe(ctx, func(id *identity.Identity) {
		if err := e.SetIdentity(ctx, id); err != nil {
			e.logger.Error(ctx, "identity switch failed", "error", err.Error())
		}
	})
}

// Add inserts the record optimistically and returns. When an identity is
// present the remote write continues in the background: an inline image
// payload is hoisted to the cold store first, then the record goes to the
// hot store. Background failures are published to the notification sink;
// local state is kept as-is (no rollback) until the feed reconciles.
func (e *Engine) Add(ctx context.Context, rec models.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record has no id")
	}
	rec.ActivityDate = models.NormalizeActivityDate(rec.ActivityDate)

	e.mu.Lock()
	e.entries = models.InsertSorted(e.entries, rec)
	user, scope := e.user, e.scope
	if user != nil {
		e.pending[rec.ID] = struct{}{}
	}
	e.persistLocked(ctx)
	e.emitLocked()
	e.mu.Unlock()

	if user == nil {
		return nil
	}

	e.background.Add(1)
	go func(ctx context.Context) {
		defer e.background.Done()
		e.syncAdd(ctx, scope, rec)
	}(context.WithoutCancel(ctx))
	return nil
}

// Update replaces the record with the same id. The image reference is
// assumed to be resolved already; updates never re-hoist.
func (e *Engine) Update(ctx context.Context, rec models.Record) error {
	rec.ActivityDate = models.NormalizeActivityDate(rec.ActivityDate)

	e.mu.Lock()
	i := e.indexOfLocked(rec.ID)
	if i < 0 {
		e.mu.Unlock()
		return common.ErrorNotFound
	}
	e.entries = append(e.entries[:i], e.entries[i+1:]...)
	e.entries = models.InsertSorted(e.entries, rec)
	user, scope := e.user, e.scope
	if user != nil {
		e.pending[rec.ID] = struct{}{}
	}
	e.persistLocked(ctx)
	e.emitLocked()
	e.mu.Unlock()

	if user == nil {
		return nil
	}

	e.background.Add(1)
	go func(ctx context.Context) {
		defer e.background.Done()
		if err := e.hot.Put(ctx, scope, rec); err != nil {
			e.reportSyncFailure(ctx, rec.ID, err)
			return
		}
		e.acknowledge(scope, rec.ID)
	}(context.WithoutCancel(ctx))
	return nil
}

// Delete removes the record locally and, when an identity is present,
// deletes it remotely in the background. An orphaned object-store image
// is removed best-effort: a failure there is logged, never surfaced, and
// never blocks the record deletion.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	i := e.indexOfLocked(id)
	if i < 0 {
		e.mu.Unlock()
		return common.ErrorNotFound
	}
	removed := e.entries[i]
	e.entries = append(e.entries[:i], e.entries[i+1:]...)
	delete(e.pending, id)
	user, scope := e.user, e.scope
	e.persistLocked(ctx)
	e.emitLocked()
	e.mu.Unlock()

	if user == nil {
		return nil
	}

	e.background.Add(1)
	go func(ctx context.Context) {
		defer e.background.Done()
		if err := e.hot.Delete(ctx, scope, id); err != nil {
			e.reportSyncFailure(ctx, id, err)
			return
		}
		if removed.Image != nil && removed.Image.IsStored() {
			if err := e.cold.Delete(ctx, removed.Image.URL); err != nil {
				e.logger.Warn(ctx, "failed to delete orphaned image", "record_id", id, "error", err.Error())
			}
		}
	}(context.WithoutCancel(ctx))
	return nil
}

// Entries returns a copy of the current collection in canonical order.
func (e *Engine) Entries() []models.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Record, len(e.entries))
	copy(out, e.entries)
	return out
}

// IsPending reports whether the record has a background write that the
// server has not acknowledged yet.
func (e *Engine) IsPending(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[id]
	return ok
}

// Scope returns the active cache scope key.
func (e *Engine) Scope() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scope
}

// Wait blocks until all outstanding background writes have finished. Call
// it before letting the process terminate.
func (e *Engine) Wait() {
	e.background.Wait()
}

// Close detaches the live feed and waits for outstanding background
// writes.
func (e *Engine) Close() {
	e.mu.Lock()
	unsub := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	e.background.Wait()
}

// syncAdd performs the background half of Add: hoist an inline image
// payload to the cold store, then write the record to the hot store. An
// upload failure aborts the whole remote sync so an inline payload can
// never reach the hot store.
func (e *Engine) syncAdd(ctx context.Context, scope string, rec models.Record) {
	if rec.Image != nil && rec.Image.IsInline() {
		payload, err := base64.StdEncoding.DecodeString(rec.Image.Inline)
		if err != nil {
			e.reportSyncFailure(ctx, rec.ID, fmt.Errorf("failed to decode inline image: %w", err))
			return
		}

		ref, err := e.cold.Upload(ctx, scope, rec.ID, payload)
		if err != nil {
			e.reportSyncFailure(ctx, rec.ID, fmt.Errorf("failed to upload image: %w", err))
			return
		}
		rec.Image = &models.ImageRef{URL: ref}

		// swap the hoisted reference into local state so the inline copy
		// is gone after the first successful upload
		e.mu.Lock()
		if e.scope == scope {
			if i := e.indexOfLocked(rec.ID); i >= 0 {
				e.entries[i].Image = rec.Image
				e.persistLocked(ctx)
				e.emitLocked()
			}
		}
		e.mu.Unlock()
	}

	if err := e.hot.Put(ctx, scope, rec); err != nil {
		e.reportSyncFailure(ctx, rec.ID, err)
		return
	}
	e.acknowledge(scope, rec.ID)
}

// applySnapshot is the single reconciliation point: the whole in-memory
// collection is replaced by the remote snapshot, re-sorted and persisted.
// Records with an unacknowledged background write are the one exception
// to the replace: the server does not know about them yet, so they are
// carried over and stay visible until their write lands or they are
// explicitly deleted. Snapshots from a previous identity's feed are
// dropped.
func (e *Engine) applySnapshot(ctx context.Context, boundScope string, snap models.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scope != boundScope {
		return
	}

	models.SortRecords(snap.Records)
	present := make(map[string]struct{}, len(snap.Records))
	for _, r := range snap.Records {
		present[r.ID] = struct{}{}
	}

	merged := snap.Records
	for id := range e.pending {
		if _, ok := present[id]; ok {
			// the write was echoed back; acknowledged
			delete(e.pending, id)
			continue
		}
		if i := e.indexOfLocked(id); i >= 0 {
			merged = models.InsertSorted(merged, e.entries[i])
		} else {
			// deleted locally in the meantime
			delete(e.pending, id)
		}
	}
	e.entries = merged
	e.persistLocked(ctx)
	e.emitLocked()
}

func (e *Engine) acknowledge(scope, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scope != scope {
		return
	}
	delete(e.pending, id)
	e.emitLocked()
}

func (e *Engine) indexOfLocked(id string) int {
	for i, r := range e.entries {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// loadCache reads the scope's cached collection; failures degrade to an
// empty collection, never an error.
func (e *Engine) loadCache(ctx context.Context, scope string) []models.Record {
	records, err := e.cache.Load(ctx, scope)
	if err != nil {
		e.logger.Warn(ctx, "cache load failed, starting empty", "scope", scope, "error", err.Error())
		return []models.Record{}
	}
	models.SortRecords(records)
	return records
}

// persistLocked writes the collection to the cache. Failures are
// non-fatal: the user is warned once per session and in-memory state
// stays authoritative.
func (e *Engine) persistLocked(ctx context.Context) {
	err := e.cache.Save(ctx, e.scope, e.entries)
	if err == nil {
		return
	}
	e.logger.Error(ctx, "cache save failed", "scope", e.scope, "error", err.Error())
	if !e.cacheWarned {
		e.cacheWarned = true
		e.sink.Publish(ctx, notify.Event{
			Level:   notify.LevelWarning,
			Message: "changes may not survive a restart: local cache is unavailable",
			Err:     err,
		})
	}
}

func (e *Engine) emitLocked() {
	if e.onChange == nil {
		return
	}
	out := make([]models.Record, len(e.entries))
	copy(out, e.entries)
	e.onChange(models.Snapshot{Records: out, PendingWrites: len(e.pending) > 0})
}

func (e *Engine) reportSyncFailure(ctx context.Context, id string, err error) {
	e.logger.Error(ctx, "background sync failed", "record_id", id, "error", err.Error())
	e.sink.Publish(ctx, notify.Event{
		Level:    notify.LevelError,
		Message:  "saved locally, not yet synced",
		RecordID: id,
		Err:      err,
	})
}
