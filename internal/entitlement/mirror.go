// Package entitlement maintains a live local mirror of the user's
// entitlement from the per-user settings document, and synthesizes a
// time-boxed trial the first time a user shows up without one.
package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/hotstore"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/identity"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/logging"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/models"
)

// Mirror subscribes to the settings document of the current identity and
// keeps the latest entitlement in memory. The entitled state is derived
// on every call, so an expiry passing takes effect without a new remote
// observation.
type Mirror struct {
	settings    hotstore.SettingsStore
	logger      logging.Logger
	trialLength time.Duration
	now         func() time.Time
	onChange    func(models.Entitlement)

	mu          sync.Mutex
	scope       string
	current     *models.Entitlement
	unsubscribe func()
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithOnChange registers a callback invoked whenever a new entitlement is
// observed.
func WithOnChange(fn func(models.Entitlement)) Option {
	return func(m *Mirror) { m.onChange = fn }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Mirror) { m.now = now }
}

// NewMirror returns a mirror that grants new users a trial of the given
// length.
func NewMirror(settings hotstore.SettingsStore, trialLength time.Duration, logger logging.Logger, opts ...Option) *Mirror {
	m := &Mirror{
		settings:    settings,
		logger:      logger.With("module", "entitlement"),
		trialLength: trialLength,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start binds the mirror to the given identity, detaching any previous
// subscription first. A nil identity (guest) clears the mirror; guests
// are never entitled.
func (m *Mirror) Start(ctx context.Context, id *identity.Identity) error {
	m.Stop()

	m.mu.Lock()
	m.current = nil
	if id == nil {
		m.scope = ""
		m.mu.Unlock()
		return nil
	}
	scope := id.UserID
	m.scope = scope
	m.mu.Unlock()

	unsubscribe, err := m.settings.Subscribe(ctx, scope, func(doc models.UserSettings) {
		m.apply(ctx, scope, doc)
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.scope != scope {
		// identity changed again while subscribing
		m.mu.Unlock()
		unsubscribe()
		return nil
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	m.logger.Info(ctx, "entitlement mirror started", "scope", scope)
	return nil
}

// BindProvider attaches the mirror to the identity event source so every
// login/logout restarts it for the new identity. The returned function
// detaches from the provider.
func (m *Mirror) BindProvider(ctx context.Context, p identity.Provider) (func(), error) {
	return p.Subscribe(ctx, func(id *identity.Identity) {
		if err := m.Start(ctx, id); err != nil {
			m.logger.Error(ctx, "entitlement mirror restart failed", "error", err.Error())
		}
	})
}

// Stop detaches the current subscription. Once it returns no further
// observations are applied.
func (m *Mirror) Stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// apply handles one settings observation for the bound scope.
func (m *Mirror) apply(ctx context.Context, scope string, doc models.UserSettings) {
	m.mu.Lock()
	if scope != m.scope {
		m.mu.Unlock()
		return
	}

	if doc.Entitlement == nil {
		// first sight of this user: grant the trial remotely and wait for
		// the write to come back through the feed
		m.mu.Unlock()
		trial := models.NewTrial(m.now(), m.trialLength)
		if err := m.settings.MergeEntitlement(ctx, scope, trial); err != nil {
			m.logger.Error(ctx, "failed to grant trial", "scope", scope, "error", err.Error())
		}
		return
	}

	ent := *doc.Entitlement
	m.current = &ent
	onChange := m.onChange
	m.mu.Unlock()

	m.logger.Debug(ctx, "entitlement updated", "scope", scope, "status", ent.Status)
	if onChange != nil {
		onChange(ent)
	}
}

// Current returns the last observed entitlement, if any.
func (m *Mirror) Current() (models.Entitlement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return models.Entitlement{}, false
	}
	return *m.current, true
}

// IsEntitled reports whether premium features are available right now.
func (m *Mirror) IsEntitled() bool {
	ent, ok := m.Current()
	return ok && ent.IsEntitled(m.now())
}
