package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yocase11/uhias-secure-ehr-sharing/internal/crypto"
	"github.com/yocase11/uhias-secure-ehr-sharing/pkg/platform/sentinel"
)

// maxUpdateRetries bounds the optimistic-concurrency loop. Contention beyond
// this surfaces as sentinel.ErrConflict for the caller to retry with backoff.
const maxUpdateRetries = 5

// PostgresStore persists one JSONB document per record with a version column
// for optimistic concurrency. Concurrent updates to the same record are
// retried against the latest version; updates to different rows never
// contend.
type PostgresStore struct {
	db      *sql.DB
	retries int
	onRetry func()
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithRetryHook installs a callback invoked on every optimistic-concurrency
// retry, used to feed the store-retries metric.
func WithRetryHook(fn func()) PostgresOption {
	return func(s *PostgresStore) { s.onRetry = fn }
}

func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, retries: maxUpdateRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the record and key tables when absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS records (
			id         UUID PRIMARY KEY,
			doc        JSONB NOT NULL,
			version    BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS record_keys (
			record_id  UUID PRIMARY KEY,
			wrap_nonce BYTEA NOT NULL,
			sealed     BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure record schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record document: %w", err)
	}

	// ON CONFLICT DO NOTHING makes the existence check and the insert one
	// atomic statement; a separate read-then-write would race.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (id, doc) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		rec.ID, doc,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	rec, _, err := s.fetch(ctx, id)
	return rec, err
}

func (s *PostgresStore) Update(ctx context.Context, id string, mutate func(*Record) error) (*Record, error) {
	for attempt := 0; attempt < s.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, version, err := s.fetch(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := mutate(rec); err != nil {
			return nil, err
		}

		doc, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal record document: %w", err)
		}

		res, err := s.db.ExecContext(ctx,
			`UPDATE records SET doc = $2, version = version + 1, updated_at = now()
			 WHERE id = $1 AND version = $3`,
			id, doc, version,
		)
		if err != nil {
			return nil, fmt.Errorf("update record: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("update record: %w", err)
		}
		if affected == 1 {
			return rec, nil
		}

		// Lost the race; reload and retry with fresh state.
		if s.onRetry != nil {
			s.onRetry()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 5 * time.Millisecond):
		}
	}
	return nil, sentinel.ErrConflict
}

func (s *PostgresStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM records ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record document: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) fetch(ctx context.Context, id string) (*Record, int64, error) {
	var doc []byte
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, version FROM records WHERE id = $1`, id,
	).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("fetch record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, 0, fmt.Errorf("unmarshal record document: %w", err)
	}
	return &rec, version, nil
}

// PostgresKeyStore persists wrapped key material in its own table so the
// document path never touches key bytes.
type PostgresKeyStore struct {
	db *sql.DB
}

func NewPostgresKeyStore(db *sql.DB) *PostgresKeyStore {
	return &PostgresKeyStore{db: db}
}

func (s *PostgresKeyStore) Put(ctx context.Context, recordID string, wrapped crypto.WrappedKeyMaterial) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO record_keys (record_id, wrap_nonce, sealed) VALUES ($1, $2, $3)
		 ON CONFLICT (record_id) DO NOTHING`,
		recordID, wrapped.WrapNonce, wrapped.Sealed,
	)
	if err != nil {
		return fmt.Errorf("insert key material: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert key material: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresKeyStore) Get(ctx context.Context, recordID string) (crypto.WrappedKeyMaterial, error) {
	var wrapped crypto.WrappedKeyMaterial
	err := s.db.QueryRowContext(ctx,
		`SELECT wrap_nonce, sealed FROM record_keys WHERE record_id = $1`, recordID,
	).Scan(&wrapped.WrapNonce, &wrapped.Sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return crypto.WrappedKeyMaterial{}, sentinel.ErrNotFound
	}
	if err != nil {
		return crypto.WrappedKeyMaterial{}, fmt.Errorf("fetch key material: %w", err)
	}
	return wrapped, nil
}

func (s *PostgresKeyStore) Delete(ctx context.Context, recordID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM record_keys WHERE record_id = $1`, recordID); err != nil {
		return fmt.Errorf("delete key material: %w", err)
	}
	return nil
}
