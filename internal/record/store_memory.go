package record

import (
	"context"
	"sync"

	"github.com/yocase11/uhias-secure-ehr-sharing/internal/crypto"
	"github.com/yocase11/uhias-secure-ehr-sharing/pkg/platform/sentinel"
)

// numShards spreads per-record write locks so contention on one record never
// blocks updates to another.
const numShards = 64

// InMemoryStore keeps documents in a map guarded by a read-write lock, with
// sharded per-record write locks for Update. Suitable for tests and
// single-process deployments.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	version map[string]uint64
	shards  [numShards]sync.Mutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*Record),
		version: make(map[string]uint64),
	}
}

func (s *InMemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return sentinel.ErrConflict
	}
	s.records[rec.ID] = rec.Clone()
	s.version[rec.ID] = 1
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) Update(ctx context.Context, id string, mutate func(*Record) error) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The shard lock serializes writers of the same record; the map lock is
	// only held for the short read and write-back.
	shard := &s.shards[shardFor(id)]
	shard.Lock()
	defer shard.Unlock()

	s.mu.RLock()
	current, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.records[id] = next
	s.version[id]++
	s.mu.Unlock()
	return next.Clone(), nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.records, id)
	delete(s.version, id)
	return nil
}

// Version exposes the document version for tests asserting lost-update
// freedom.
func (s *InMemoryStore) Version(id string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version[id]
}

// shardFor hashes a record ID onto a write-lock shard (FNV-1a).
func shardFor(id string) int {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= fnvPrime
	}
	return int(h % numShards)
}

// InMemoryKeyStore holds wrapped key material keyed by record ID.
type InMemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]crypto.WrappedKeyMaterial
}

func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{keys: make(map[string]crypto.WrappedKeyMaterial)}
}

func (s *InMemoryKeyStore) Put(_ context.Context, recordID string, wrapped crypto.WrappedKeyMaterial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[recordID]; exists {
		return sentinel.ErrConflict
	}
	s.keys[recordID] = wrapped
	return nil
}

func (s *InMemoryKeyStore) Get(_ context.Context, recordID string) (crypto.WrappedKeyMaterial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wrapped, ok := s.keys[recordID]
	if !ok {
		return crypto.WrappedKeyMaterial{}, sentinel.ErrNotFound
	}
	return wrapped, nil
}

func (s *InMemoryKeyStore) Delete(_ context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, recordID)
	return nil
}
