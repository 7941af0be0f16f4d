// Package coldstore implements the object/blob tier: image payloads
// hoisted out of records, and long-term archival copies. It is never
// queried by the app UI directly.
package coldstore

import "context"

// ObjectStore is the cold-store contract used by the synchronization
// engine and the archival job.
type ObjectStore interface {
	// Upload stores an image payload under a per-user, per-record path and
	// returns the stable reference that replaces the inline payload.
	Upload(ctx context.Context, scopeKey, id string, payload []byte) (string, error)

	// Delete removes a previously uploaded object by its reference.
	Delete(ctx context.Context, reference string) error

	// Archive stores a serialized record copy under a deterministic
	// per-user, per-record path. Re-archiving the same record overwrites
	// the copy, which keeps the archival job restart-safe.
	Archive(ctx context.Context, scopeKey, id string, serialized []byte) error
}
