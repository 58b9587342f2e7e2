package record

import (
	"context"

	"github.com/yocase11/uhias-secure-ehr-sharing/internal/crypto"
)

// Store is the single source of truth for access-control documents. Stores
// return sentinel errors; services translate them into domain errors.
//
// Concurrency contract: Update serializes mutations per record while updates
// to different records proceed independently. Implementations retry contended
// writes a bounded number of times and return sentinel.ErrConflict when
// exhausted; concurrent updates to the same record must never lose each
// other's effects.
type Store interface {
	// Create fails with sentinel.ErrConflict when the record ID already
	// exists. The existence check and the write are atomic.
	Create(ctx context.Context, rec *Record) error

	// Get returns sentinel.ErrNotFound for unknown IDs.
	Get(ctx context.Context, id string) (*Record, error)

	// Update applies mutate to the current document and persists the result.
	// The callback may be invoked more than once under optimistic
	// concurrency; it must be a pure function of its argument.
	Update(ctx context.Context, id string, mutate func(*Record) error) (*Record, error)

	// List returns all documents, for administrative views.
	List(ctx context.Context) ([]*Record, error)

	// Delete removes the document. sentinel.ErrNotFound for unknown IDs.
	Delete(ctx context.Context, id string) error
}

// KeyStore holds per-record key material, wrapped under the master key. It is
// deliberately separate from Store so document reads never carry key bytes
// and access to keys can be restricted independently.
type KeyStore interface {
	// Put stores wrapped key material for a record, exactly once.
	// sentinel.ErrConflict when material already exists for the ID.
	Put(ctx context.Context, recordID string, wrapped crypto.WrappedKeyMaterial) error

	// Get returns sentinel.ErrNotFound when no material exists.
	Get(ctx context.Context, recordID string) (crypto.WrappedKeyMaterial, error)

	// Delete removes the material; deleting absent material is not an error,
	// so purge compensation can retry safely.
	Delete(ctx context.Context, recordID string) error
}
