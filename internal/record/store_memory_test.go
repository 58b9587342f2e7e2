package record

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/yocase11/uhias-secure-ehr-sharing/internal/crypto"
	"github.com/yocase11/uhias-secure-ehr-sharing/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
}

func newTestRecord() *Record {
	return &Record{
		ID:         uuid.NewString(),
		PayloadRef: uuid.NewString() + ".ehr",
		Metadata:   Metadata{Name: "blood panel", Date: "2024-05-11", UploadedBy: "patient-1"},
		CreatedAt:  time.Now(),
	}
}

func (s *InMemoryStoreSuite) TestCreateAndGet() {
	rec := newTestRecord()
	require.NoError(s.T(), s.store.Create(context.Background(), rec))

	got, err := s.store.Get(context.Background(), rec.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), rec.ID, got.ID)
	assert.Equal(s.T(), rec.Metadata, got.Metadata)
}

func (s *InMemoryStoreSuite) TestCreateDuplicateConflicts() {
	rec := newTestRecord()
	require.NoError(s.T(), s.store.Create(context.Background(), rec))

	err := s.store.Create(context.Background(), rec)
	assert.ErrorIs(s.T(), err, sentinel.ErrConflict)
}

func (s *InMemoryStoreSuite) TestConcurrentCreateSameIDExactlyOneWins() {
	rec := newTestRecord()
	const writers = 16

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.store.Create(context.Background(), rec)
		}()
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(s.T(), err, sentinel.ErrConflict)
		}
	}
	assert.Equal(s.T(), 1, created)
}

func (s *InMemoryStoreSuite) TestGetNotFound() {
	_, err := s.store.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(s.T(), err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestGetReturnsCopy() {
	rec := newTestRecord()
	require.NoError(s.T(), s.store.Create(context.Background(), rec))

	first, err := s.store.Get(context.Background(), rec.ID)
	require.NoError(s.T(), err)
	first.AccessGranted = append(first.AccessGranted, "doc-A")

	second, err := s.store.Get(context.Background(), rec.ID)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), second.AccessGranted)
}

func (s *InMemoryStoreSuite) TestUpdateNotFound() {
	_, err := s.store.Update(context.Background(), uuid.NewString(), func(r *Record) error { return nil })
	assert.ErrorIs(s.T(), err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestUpdatePropagatesMutationError() {
	rec := newTestRecord()
	require.NoError(s.T(), s.store.Create(context.Background(), rec))

	wantErr := fmt.Errorf("mutation rejected")
	_, err := s.store.Update(context.Background(), rec.ID, func(r *Record) error { return wantErr })
	assert.ErrorIs(s.T(), err, wantErr)

	// A rejected mutation leaves the stored document untouched.
	assert.Equal(s.T(), uint64(1), s.store.Version(rec.ID))
}

func (s *InMemoryStoreSuite) TestConcurrentUpdatesSameRecordLoseNothing() {
	rec := newTestRecord()
	require.NoError(s.T(), s.store.Create(context.Background(), rec))

	const writers = 32
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			requester := fmt.Sprintf("doc-%02d", i)
			_, err := s.store.Update(context.Background(), rec.ID, func(r *Record) error {
				r.PendingRequests = append(r.PendingRequests, AccessRequest{
					RequesterID: requester,
					Reason:      "checkup",
					RequestedAt: time.Now(),
					Status:      StatusPending,
				})
				return nil
			})
			assert.NoError(s.T(), err)
		}()
	}
	wg.Wait()

	got, err := s.store.Get(context.Background(), rec.ID)
	require.NoError(s.T(), err)
	assert.Len(s.T(), got.PendingRequests, writers)
	assert.Equal(s.T(), uint64(writers+1), s.store.Version(rec.ID))
}

func (s *InMemoryStoreSuite) TestConcurrentUpdatesDifferentRecordsProceed() {
	const records = 20
	ids := make([]string, records)
	for i := range records {
		rec := newTestRecord()
		ids[i] = rec.ID
		require.NoError(s.T(), s.store.Create(context.Background(), rec))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Update(context.Background(), id, func(r *Record) error {
				r.Grant("doc-A")
				return nil
			})
			assert.NoError(s.T(), err)
		}()
	}
	wg.Wait()

	for _, id := range ids {
		got, err := s.store.Get(context.Background(), id)
		require.NoError(s.T(), err)
		assert.True(s.T(), got.HasAccess("doc-A"))
	}
}

func (s *InMemoryStoreSuite) TestDelete() {
	rec := newTestRecord()
	require.NoError(s.T(), s.store.Create(context.Background(), rec))
	require.NoError(s.T(), s.store.Delete(context.Background(), rec.ID))

	_, err := s.store.Get(context.Background(), rec.ID)
	assert.ErrorIs(s.T(), err, sentinel.ErrNotFound)

	assert.ErrorIs(s.T(), s.store.Delete(context.Background(), rec.ID), sentinel.ErrNotFound)
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func TestInMemoryKeyStore(t *testing.T) {
	store := NewInMemoryKeyStore()
	recordID := uuid.NewString()
	wrapped := crypto.WrappedKeyMaterial{WrapNonce: []byte("nonce-bytes!"), Sealed: []byte("sealed")}

	_, err := store.Get(context.Background(), recordID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, store.Put(context.Background(), recordID, wrapped))
	assert.ErrorIs(t, store.Put(context.Background(), recordID, wrapped), sentinel.ErrConflict)

	got, err := store.Get(context.Background(), recordID)
	require.NoError(t, err)
	assert.Equal(t, wrapped, got)

	require.NoError(t, store.Delete(context.Background(), recordID))
	require.NoError(t, store.Delete(context.Background(), recordID))
	_, err = store.Get(context.Background(), recordID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
