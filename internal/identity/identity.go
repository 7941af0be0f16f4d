// Package identity models the opaque identity provider: an async event
// source emitting the current identity (or nil on logout), plus helpers to
// extract a stable user id from provider-issued tokens.
package identity

import "context"

// Identity is the stable per-user handle everything else is scoped by.
type Identity struct {
	UserID string
}

// Provider is the external identity event source. Subscribe registers a
// handler that receives the current identity (nil when logged out) and
// returns an unsubscribe function. The handler is also invoked once with
// the identity current at subscription time.
type Provider interface {
	Subscribe(ctx context.Context, fn func(*Identity)) (func(), error)
}
