package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/identity"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/logging"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/models"
)

type fakeSettings struct {
	merges   map[string][]models.Entitlement
	mergeErr error
	events   []string
	handlers map[string]func(models.UserSettings)
}

func (f *fakeSettings) MergeEntitlement(ctx context.Context, scopeKey string, ent models.Entitlement) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	if f.merges == nil {
		f.merges = map[string][]models.Entitlement{}
	}
	f.merges[scopeKey] = append(f.merges[scopeKey], ent)
	return nil
}

func (f *fakeSettings) Subscribe(ctx context.Context, scopeKey string, fn func(models.UserSettings)) (func(), error) {
	if f.handlers == nil {
		f.handlers = map[string]func(models.UserSettings){}
	}
	f.handlers[scopeKey] = fn
	f.events = append(f.events, "sub:"+scopeKey)
	return func() {
		delete(f.handlers, scopeKey)
		f.events = append(f.events, "unsub:"+scopeKey)
	}, nil
}

func (f *fakeSettings) push(scopeKey string, doc models.UserSettings) {
	if fn, ok := f.handlers[scopeKey]; ok {
		fn(doc)
	}
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestFirstObservation_GrantsTrial(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	settings := &fakeSettings{}
	m := NewMirror(settings, 14*24*time.Hour, testLogger(), WithClock(fixedClock(now)))

	require.NoError(t, m.Start(context.Background(), &identity.Identity{UserID: "u1"}))
	settings.push("u1", models.UserSettings{Language: "en"})

	require.Len(t, settings.merges["u1"], 1)
	granted := settings.merges["u1"][0]
	assert.Equal(t, models.EntitlementTrial, granted.Status)
	require.NotNil(t, granted.ExpiryDate)
	assert.Equal(t, now.Add(14*24*time.Hour), *granted.ExpiryDate)

	// the grant is not considered current until the write echoes back
	_, ok := m.Current()
	assert.False(t, ok)

	settings.push("u1", models.UserSettings{Entitlement: &granted, Language: "en"})
	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, granted, cur)
	assert.True(t, m.IsEntitled())
}

func TestObservation_WithEntitlementDoesNotGrant(t *testing.T) {
	settings := &fakeSettings{}
	m := NewMirror(settings, 14*24*time.Hour, testLogger())

	require.NoError(t, m.Start(context.Background(), &identity.Identity{UserID: "u1"}))

	expiry := time.Now().Add(24 * time.Hour)
	settings.push("u1", models.UserSettings{
		Entitlement: &models.Entitlement{Status: models.EntitlementPro, ExpiryDate: &expiry},
	})

	assert.Empty(t, settings.merges)
	assert.True(t, m.IsEntitled())
}

func TestIsEntitled_RecomputedAtCallTime(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	clock := now
	settings := &fakeSettings{}
	m := NewMirror(settings, 14*24*time.Hour, testLogger(),
		WithClock(func() time.Time { return clock }))

	require.NoError(t, m.Start(context.Background(), &identity.Identity{UserID: "u1"}))

	expiry := now.Add(time.Hour)
	settings.push("u1", models.UserSettings{
		Entitlement: &models.Entitlement{Status: models.EntitlementPro, ExpiryDate: &expiry},
	})

	assert.True(t, m.IsEntitled())

	// expiry passes with no new observation
	clock = now.Add(2 * time.Hour)
	assert.False(t, m.IsEntitled())
}

func TestBasicStatus_NeverEntitled(t *testing.T) {
	settings := &fakeSettings{}
	m := NewMirror(settings, 14*24*time.Hour, testLogger())

	require.NoError(t, m.Start(context.Background(), &identity.Identity{UserID: "u1"}))

	expiry := time.Now().Add(24 * time.Hour)
	settings.push("u1", models.UserSettings{
		Entitlement: &models.Entitlement{Status: models.EntitlementBasic, ExpiryDate: &expiry},
	})

	assert.False(t, m.IsEntitled())
}

func TestGrantFailure_RetriedOnNextObservation(t *testing.T) {
	settings := &fakeSettings{mergeErr: errors.New("write denied")}
	m := NewMirror(settings, 14*24*time.Hour, testLogger())

	require.NoError(t, m.Start(context.Background(), &identity.Identity{UserID: "u1"}))
	settings.push("u1", models.UserSettings{})

	assert.Empty(t, settings.merges)
	assert.False(t, m.IsEntitled())

	settings.mergeErr = nil
	settings.push("u1", models.UserSettings{})
	assert.Len(t, settings.merges["u1"], 1)
}

func TestIdentitySwitch_DetachesBeforeResubscribe(t *testing.T) {
	settings := &fakeSettings{}
	m := NewMirror(settings, 14*24*time.Hour, testLogger())
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, &identity.Identity{UserID: "userA"}))

	expiry := time.Now().Add(24 * time.Hour)
	settings.push("userA", models.UserSettings{
		Entitlement: &models.Entitlement{Status: models.EntitlementPro, ExpiryDate: &expiry},
	})
	require.True(t, m.IsEntitled())

	require.NoError(t, m.Start(ctx, &identity.Identity{UserID: "userB"}))

	assert.Equal(t, []string{"sub:userA", "unsub:userA", "sub:userB"}, settings.events)

	// userA's entitlement must not leak into userB's session
	_, ok := m.Current()
	assert.False(t, ok)
}

func TestStart_GuestClearsMirror(t *testing.T) {
	settings := &fakeSettings{}
	m := NewMirror(settings, 14*24*time.Hour, testLogger())
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, &identity.Identity{UserID: "u1"}))
	expiry := time.Now().Add(24 * time.Hour)
	settings.push("u1", models.UserSettings{
		Entitlement: &models.Entitlement{Status: models.EntitlementPro, ExpiryDate: &expiry},
	})
	require.True(t, m.IsEntitled())

	require.NoError(t, m.Start(ctx, nil))

	assert.False(t, m.IsEntitled())
	assert.Equal(t, []string{"sub:u1", "unsub:u1"}, settings.events)

	// a stale observation from the detached feed is ignored
	settings.push("u1", models.UserSettings{})
	assert.Empty(t, settings.merges)
}

type fakeProvider struct {
	fn func(*identity.Identity)
}

func (p *fakeProvider) Subscribe(ctx context.Context, fn func(*identity.Identity)) (func(), error) {
	p.fn = fn
	fn(nil)
	return func() { p.fn = nil }, nil
}

func TestBindProvider_RestartsPerIdentity(t *testing.T) {
	settings := &fakeSettings{}
	m := NewMirror(settings, 14*24*time.Hour, testLogger())
	provider := &fakeProvider{}

	detach, err := m.BindProvider(context.Background(), provider)
	require.NoError(t, err)
	defer detach()

	provider.fn(&identity.Identity{UserID: "u1"})
	provider.fn(&identity.Identity{UserID: "u2"})
	provider.fn(nil)

	assert.Equal(t, []string{"sub:u1", "unsub:u1", "sub:u2", "unsub:u2"}, settings.events)
}

func TestStop_IsIdempotent(t *testing.T) {
	settings := &fakeSettings{}
	m := NewMirror(settings, 14*24*time.Hour, testLogger())

	require.NoError(t, m.Start(context.Background(), &identity.Identity{UserID: "u1"}))
	m.Stop()
	m.Stop()

	assert.Equal(t, []string{"sub:u1", "unsub:u1"}, settings.events)
}
