package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists the trail in an append-only table. Inserts are
// idempotent on event ID so spooled events can be replayed safely.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the audit table when absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS audit_events (
			id         UUID PRIMARY KEY,
			timestamp  TIMESTAMPTZ NOT NULL,
			record_id  UUID NOT NULL,
			actor_id   TEXT NOT NULL,
			action     TEXT NOT NULL,
			decision   TEXT NOT NULL DEFAULT '',
			reason     TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS audit_events_record_idx
			ON audit_events (record_id, timestamp);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, timestamp, record_id, actor_id, action, decision, reason, request_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		event.ID, event.Timestamp, event.RecordID, event.ActorID,
		string(event.Action), event.Decision, event.Reason, event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByRecord(ctx context.Context, recordID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, record_id, actor_id, action, decision, reason, request_id
		 FROM audit_events WHERE record_id = $1 ORDER BY timestamp`,
		recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, record_id, actor_id, action, decision, reason, request_id
		 FROM audit_events ORDER BY timestamp DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var action string
		var ts time.Time
		if err := rows.Scan(&e.ID, &ts, &e.RecordID, &e.ActorID, &action, &e.Decision, &e.Reason, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Timestamp = ts
		e.Action = Action(action)
		events = append(events, e)
	}
	return events, rows.Err()
}
