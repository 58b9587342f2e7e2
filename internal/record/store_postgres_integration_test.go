//go:build integration

package record_test

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yocase11/uhias-secure-ehr-sharing/internal/crypto"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/record"
	"github.com/yocase11/uhias-secure-ehr-sharing/pkg/platform/sentinel"
	"github.com/yocase11/uhias-secure-ehr-sharing/pkg/testutil/containers"
)

func newRecord(id string) *record.Record {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &record.Record{
		ID:          id,
		PayloadRef:  id + ".bin",
		Fingerprint: "deadbeef",
		Metadata:    record.Metadata{Name: "X-ray", Date: "2026-03-01", UploadedBy: "patient-1"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestPostgresStore_CreateGetDelete(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	store := record.NewPostgresStore(pg.DB)
	require.NoError(t, store.EnsureSchema(context.Background()))
	ctx := context.Background()

	id := uuid.NewString()
	require.NoError(t, store.Create(ctx, newRecord(id)))

	assert.ErrorIs(t, store.Create(ctx, newRecord(id)), sentinel.ErrConflict)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "X-ray", got.Metadata.Name)

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, id), sentinel.ErrNotFound)
}

func TestPostgresStore_ConcurrentUpdatesLoseNothing(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	store := record.NewPostgresStore(pg.DB)
	require.NoError(t, store.EnsureSchema(context.Background()))
	ctx := context.Background()

	id := uuid.NewString()
	require.NoError(t, store.Create(ctx, newRecord(id)))

	const writers = 8
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, id, func(r *record.Record) error {
				r.Grant(uuid.NewString())
				r.RequestLog = append(r.RequestLog, record.RequestLogEntry{
					RequesterID: "writer",
					Reason:      "concurrent",
					RequestedAt: time.Now(),
				})
				return nil
			})
			// Bounded retries may still conflict under heavy contention, but
			// a successful return must never have lost a prior write.
			if err != nil {
				assert.ErrorIs(t, err, sentinel.ErrConflict)
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, len(got.AccessGranted), len(got.RequestLog),
		"every surviving grant must carry its log entry")
}

func TestPostgresKeyStore_RoundTrip(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	recordStore := record.NewPostgresStore(pg.DB)
	require.NoError(t, recordStore.EnsureSchema(context.Background()))
	keys := record.NewPostgresKeyStore(pg.DB)
	ctx := context.Background()

	id := uuid.NewString()
	wrapped := crypto.WrappedKeyMaterial{
		WrapNonce: randomBytes(t, crypto.NonceSize),
		Sealed:    randomBytes(t, 64),
	}

	require.NoError(t, keys.Put(ctx, id, wrapped))
	assert.ErrorIs(t, keys.Put(ctx, id, wrapped), sentinel.ErrConflict)

	got, err := keys.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, wrapped, got)

	require.NoError(t, keys.Delete(ctx, id))
	_, err = keys.Get(ctx, id)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	// Idempotent for purge compensation.
	assert.NoError(t, keys.Delete(ctx, id))
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}
