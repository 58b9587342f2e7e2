package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yocase11/uhias-secure-ehr-sharing/internal/platform/metrics"
	"github.com/yocase11/uhias-secure-ehr-sharing/pkg/platform/circuit"
)

// Publisher is the single entry point for emitting events. Availability wins
// over auditability for the operation itself: when the primary store fails,
// the event is diverted to the spool, the breaker opens, and the degraded
// gauge is raised. The caller's access decision is never blocked.
//
// Emit returns an error only when an event could reach neither the primary
// store nor the spool; callers log that and proceed.
type Publisher struct {
	store   Store
	spool   Spool
	sink    Sink
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithSink mirrors every event to a downstream sink (e.g. Kafka).
func WithSink(sink Sink) PublisherOption {
	return func(p *Publisher) { p.sink = sink }
}

// WithBreaker overrides the default breaker thresholds.
func WithBreaker(b *circuit.Breaker) PublisherOption {
	return func(p *Publisher) { p.breaker = b }
}

func NewPublisher(store Store, spool Spool, logger *slog.Logger, m *metrics.Metrics, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:   store,
		spool:   spool,
		logger:  logger,
		metrics: m,
		breaker: circuit.New("audit-primary", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(2)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit records an event, stamping ID and timestamp when unset.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if p.sink != nil {
		if err := p.sink.Publish(ctx, event); err != nil {
			p.logger.WarnContext(ctx, "audit sink publish failed",
				"action", event.Action, "error", err)
		}
	}

	if p.breaker.IsOpen() {
		return p.divert(ctx, event)
	}

	if err := p.store.Append(ctx, event); err != nil {
		_, change := p.breaker.RecordFailure()
		if change.Opened {
			p.metrics.AuditDegraded.Set(1)
			p.logger.ErrorContext(ctx, "audit primary store unavailable, spooling events",
				"error", err)
		}
		return p.divert(ctx, event)
	}

	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.metrics.AuditDegraded.Set(0)
	}
	return nil
}

// ListByRecord reads the trail for one record from the primary store.
func (p *Publisher) ListByRecord(ctx context.Context, recordID string) ([]Event, error) {
	return p.store.ListByRecord(ctx, recordID)
}

// ListRecent reads the newest events, for administrative views.
func (p *Publisher) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	return p.store.ListRecent(ctx, limit)
}

func (p *Publisher) divert(ctx context.Context, event Event) error {
	if err := p.spool.Push(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "audit event lost: primary store and spool both failed",
			"action", event.Action, "record_id", event.RecordID, "error", err)
		return err
	}
	p.metrics.AuditSpooled.Inc()
	return nil
}

// Worker drains the spool back into the primary store once it recovers. Run
// blocks until ctx is cancelled.
type Worker struct {
	publisher *Publisher
	interval  time.Duration
	batchSize int
}

func NewWorker(publisher *Publisher, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Worker{publisher: publisher, interval: interval, batchSize: 64}
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	p := w.publisher
	for {
		events, err := p.spool.Pop(ctx, w.batchSize)
		if err != nil || len(events) == 0 {
			return
		}
		for i, event := range events {
			if err := p.store.Append(ctx, event); err != nil {
				p.breaker.RecordFailure()
				// Primary still down: put the rest back and try next tick.
				for _, e := range events[i:] {
					if pushErr := p.spool.Push(ctx, e); pushErr != nil {
						p.logger.ErrorContext(ctx, "audit event lost during spool drain",
							"action", e.Action, "record_id", e.RecordID, "error", pushErr)
					}
				}
				return
			}
			if _, change := p.breaker.RecordSuccess(); change.Closed {
				p.metrics.AuditDegraded.Set(0)
				p.logger.InfoContext(ctx, "audit primary store recovered")
			}
		}
	}
}
