package hotstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/models"
)

// Notification channels raised by the triggers installed in migrations.
// The payload is always the affected user's scope key.
const (
	recordsChannel  = "records_changed"
	settingsChannel = "settings_changed"
)

// pgxConnect is a seam for testing listener setup.
var pgxConnect = pgx.Connect

// Subscribe implements RecordStore. Each subscription owns a dedicated
// pgx connection: LISTEN state is per-connection and WaitForNotification
// blocks it, so the pooled *sql.DB cannot be used here.
func (s *Store) Subscribe(ctx context.Context, scopeKey string, fn func(models.Snapshot)) (func(), error) {
	return s.listen(ctx, recordsChannel, scopeKey, func(ctx context.Context) error {
		snap, err := s.snapshot(ctx, scopeKey)
		if err != nil {
			return err
		}
		fn(snap)
		return nil
	})
}

// listen attaches a LISTEN connection for channel and invokes deliver once
// right away and then after every notification whose payload matches
// scopeKey. The returned detach function is synchronous: it does not
// return until the feed goroutine has exited, so no stale callback can
// fire after detaching. That ordering is what prevents a previous
// identity's snapshot from leaking into the next session.
func (s *Store) listen(ctx context.Context, channel, scopeKey string, deliver func(ctx context.Context) error) (func(), error) {
	conn, err := pgxConnect(ctx, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open listener connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "listen "+channel); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}

	feedCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer conn.Close(context.Background())

		// initial delivery, so subscribers start from the current state
		if err := deliver(feedCtx); err != nil && feedCtx.Err() == nil {
			s.logger.Error(feedCtx, "initial snapshot failed", "channel", channel, "scope", scopeKey, "error", err.Error())
		}

		for {
			n, err := conn.WaitForNotification(feedCtx)
			if err != nil {
				if feedCtx.Err() == nil {
					s.logger.Error(feedCtx, "listener terminated", "channel", channel, "scope", scopeKey, "error", err.Error())
				}
				return
			}
			if n.Payload != scopeKey {
				continue
			}
			if err := deliver(feedCtx); err != nil {
				if feedCtx.Err() != nil {
					return
				}
				s.logger.Error(feedCtx, "snapshot delivery failed", "channel", channel, "scope", scopeKey, "error", err.Error())
			}
		}
	}()

	unsubscribe := func() {
		cancel()
		<-done
	}
	return unsubscribe, nil
}

// settingsDoc reads the user's settings document, returning an empty
// document if none exists yet.
func (s *Store) settingsDoc(ctx context.Context, scopeKey string) (models.UserSettings, error) {
	var doc models.UserSettings

	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM user_settings WHERE user_id=$1`, scopeKey).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return doc, nil
		}
		return doc, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := json.Unmarshal(payload, &doc); err != nil {
		return doc, fmt.Errorf("failed to decode settings: %w", err)
	}
	return doc, nil
}
