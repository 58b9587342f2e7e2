package audit

import "context"

// Store persists events. Entries are immutable once appended; there is no
// update or delete.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByRecord(ctx context.Context, recordID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Spool buffers events that could not reach the primary store, for later
// replay by the worker. Order is preserved per spool.
type Spool interface {
	Push(ctx context.Context, event Event) error
	// Pop removes and returns up to max events, oldest first.
	Pop(ctx context.Context, max int) ([]Event, error)
	Len(ctx context.Context) (int, error)
}

// Sink receives a copy of every event for downstream consumers, such as a
// Kafka topic feeding compliance tooling. Sinks are best-effort; the primary
// store is the durable trail.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close()
}
