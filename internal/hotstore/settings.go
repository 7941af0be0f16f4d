package hotstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/models"
)

// SettingsView is the settings-document face of the Store; it implements
// SettingsStore.
type SettingsView struct {
	store *Store
}

// Settings vends the settings-document view of the store.
func (s *Store) Settings() *SettingsView {
	return &SettingsView{store: s}
}

// MergeEntitlement upserts only the entitlement sub-object of the user's
// settings document. The jsonb concatenation keeps every other field of an
// existing document intact.
func (v *SettingsView) MergeEntitlement(ctx context.Context, scopeKey string, ent models.Entitlement) error {
	payload, err := json.Marshal(ent)
	if err != nil {
		return fmt.Errorf("failed to encode entitlement: %w", err)
	}

	query := `
		INSERT INTO user_settings (user_id, doc)
		VALUES ($1, jsonb_build_object('entitlement', $2::jsonb))
		ON CONFLICT (user_id)
		DO UPDATE SET doc = user_settings.doc || jsonb_build_object('entitlement', $2::jsonb);
	`
	if _, err := v.store.db.ExecContext(ctx, query, scopeKey, payload); err != nil {
		return fmt.Errorf("failed to merge entitlement: %w", err)
	}
	return nil
}

// Subscribe attaches a live listener for the user's settings document.
func (v *SettingsView) Subscribe(ctx context.Context, scopeKey string, fn func(models.UserSettings)) (func(), error) {
	return v.store.listen(ctx, settingsChannel, scopeKey, func(ctx context.Context) error {
		doc, err := v.store.settingsDoc(ctx, scopeKey)
		if err != nil {
			return err
		}
		fn(doc)
		return nil
	})
}
