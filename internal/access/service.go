// Package access implements the consent state machine governing who may read
// a record's payload: request, grant, deny, emergency override, and the
// single access check gating every payload release.
package access

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yocase11/uhias-secure-ehr-sharing/internal/audit"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/platform/metrics"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/record"
	dErrors "github.com/yocase11/uhias-secure-ehr-sharing/pkg/domain-errors"
	"github.com/yocase11/uhias-secure-ehr-sharing/pkg/platform/sentinel"
	"github.com/yocase11/uhias-secure-ehr-sharing/pkg/requestcontext"
)

// Outcome tags the result of an engine operation for the transport layer.
type Outcome string

const (
	// OutcomeAlreadyGranted: the requester already holds access; nothing changed.
	OutcomeAlreadyGranted Outcome = "already_granted"
	// OutcomePending: a request is waiting for the owner's decision.
	OutcomePending Outcome = "pending"
	// OutcomeGranted: the requester now holds access.
	OutcomeGranted Outcome = "granted"
	// OutcomeDenied: outstanding requests were resolved as denied.
	OutcomeDenied Outcome = "denied"
	// OutcomeEmergencyGranted: access granted via the break-glass path.
	OutcomeEmergencyGranted Outcome = "emergency_granted"
)

// Service is the access control engine. Every mutation goes through the
// record store's Update so per-record atomicity holds, and every
// access-affecting event is published to the audit trail.
type Service struct {
	records record.Store
	auditor *audit.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewService(records record.Store, auditor *audit.Publisher, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		records: records,
		auditor: auditor,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("access"),
	}
}

// RequestAccess files a requester's ask for read access.
//
// Idempotency: a requester already in the granted set gets
// OutcomeAlreadyGranted with no new log entry; an already-pending request is
// left unchanged. Only a genuinely new request appends a pending entry and a
// request-log entry.
func (s *Service) RequestAccess(ctx context.Context, recordID, requesterID, reason string) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "access.RequestAccess",
		trace.WithAttributes(attribute.String("record.id", recordID)))
	defer span.End()

	if err := validateIDs(recordID, requesterID); err != nil {
		return "", err
	}
	if reason == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "reason is required")
	}

	var outcome Outcome
	var created bool
	_, err := s.records.Update(ctx, recordID, func(r *record.Record) error {
		created = false
		if r.HasAccess(requesterID) {
			outcome = OutcomeAlreadyGranted
			return nil
		}
		if r.PendingFor(requesterID) != nil {
			outcome = OutcomePending
			return nil
		}
		now := requestcontext.Now(ctx)
		r.PendingRequests = append(r.PendingRequests, record.AccessRequest{
			RequesterID: requesterID,
			Reason:      reason,
			RequestedAt: now,
			Status:      record.StatusPending,
		})
		r.RequestLog = append(r.RequestLog, record.RequestLogEntry{
			RequesterID: requesterID,
			Reason:      reason,
			RequestedAt: now,
		})
		outcome = OutcomePending
		created = true
		return nil
	})
	if err != nil {
		return "", s.translate(err)
	}

	s.metrics.AccessDecisions.WithLabelValues("request", string(outcome)).Inc()
	if created {
		s.emit(ctx, audit.Event{
			RecordID: recordID,
			ActorID:  requesterID,
			Action:   audit.ActionAccessRequested,
			Decision: string(OutcomePending),
			Reason:   reason,
		})
	}
	return outcome, nil
}

// GrantAccess adds the requester to the granted set and resolves any pending
// request as approved. Set semantics make it idempotent, and it does not
// require a prior request: an owner may grant proactively.
func (s *Service) GrantAccess(ctx context.Context, recordID, requesterID string) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "access.GrantAccess",
		trace.WithAttributes(attribute.String("record.id", recordID)))
	defer span.End()

	if err := validateIDs(recordID, requesterID); err != nil {
		return "", err
	}

	_, err := s.records.Update(ctx, recordID, func(r *record.Record) error {
		r.Grant(requesterID)
		r.ResolvePending(requesterID, record.StatusApproved)
		return nil
	})
	if err != nil {
		return "", s.translate(err)
	}

	s.metrics.AccessDecisions.WithLabelValues("grant", string(OutcomeGranted)).Inc()
	s.emit(ctx, audit.Event{
		RecordID: recordID,
		ActorID:  requesterID,
		Action:   audit.ActionAccessGranted,
		Decision: string(OutcomeGranted),
	})
	return OutcomeGranted, nil
}

// DenyAccess resolves pending requests as denied. It is not a revocation:
// a requester already in the granted set keeps access. Revoking a grant
// would be a separate, explicitly named operation.
func (s *Service) DenyAccess(ctx context.Context, recordID, requesterID string) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "access.DenyAccess",
		trace.WithAttributes(attribute.String("record.id", recordID)))
	defer span.End()

	if err := validateIDs(recordID, requesterID); err != nil {
		return "", err
	}

	_, err := s.records.Update(ctx, recordID, func(r *record.Record) error {
		r.ResolvePending(requesterID, record.StatusDenied)
		return nil
	})
	if err != nil {
		return "", s.translate(err)
	}

	s.metrics.AccessDecisions.WithLabelValues("deny", string(OutcomeDenied)).Inc()
	s.emit(ctx, audit.Event{
		RecordID: recordID,
		ActorID:  requesterID,
		Action:   audit.ActionAccessDenied,
		Decision: string(OutcomeDenied),
	})
	return OutcomeDenied, nil
}

// BreakGlass grants access immediately, bypassing the request workflow. The
// emergency log entry and the grant land in the same document mutation, so
// the grant is never visible without its log entry.
func (s *Service) BreakGlass(ctx context.Context, recordID, requesterID, reason string) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "access.BreakGlass",
		trace.WithAttributes(attribute.String("record.id", recordID)))
	defer span.End()

	if err := validateIDs(recordID, requesterID); err != nil {
		return "", err
	}
	if reason == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "reason is required for emergency access")
	}

	_, err := s.records.Update(ctx, recordID, func(r *record.Record) error {
		r.EmergencyLog = append(r.EmergencyLog, record.EmergencyAccess{
			RequesterID: requesterID,
			Reason:      reason,
			Timestamp:   requestcontext.Now(ctx),
		})
		r.Grant(requesterID)
		return nil
	})
	if err != nil {
		return "", s.translate(err)
	}

	s.metrics.BreakGlassTotal.Inc()
	s.metrics.AccessDecisions.WithLabelValues("break_glass", string(OutcomeEmergencyGranted)).Inc()
	s.logger.WarnContext(ctx, "emergency access invoked",
		"record_id", recordID, "requester_id", requesterID, "reason", reason)
	s.emit(ctx, audit.Event{
		RecordID: recordID,
		ActorID:  requesterID,
		Action:   audit.ActionEmergencyAccess,
		Decision: string(OutcomeEmergencyGranted),
		Reason:   reason,
	})
	return OutcomeEmergencyGranted, nil
}

// CheckAccess is the single gate consulted before any payload release. It is
// a pure read of the granted set.
func (s *Service) CheckAccess(ctx context.Context, recordID, requesterID string) (bool, error) {
	if err := validateIDs(recordID, requesterID); err != nil {
		return false, err
	}
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return false, s.translate(err)
	}
	return rec.HasAccess(requesterID), nil
}

// GetRecord returns the access-control document for display.
func (s *Service) GetRecord(ctx context.Context, recordID string) (*record.Record, error) {
	if recordID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "record id is required")
	}
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return nil, s.translate(err)
	}
	return rec, nil
}

// ListRecords returns every document, for administrative views.
func (s *Service) ListRecords(ctx context.Context) ([]*record.Record, error) {
	recs, err := s.records.List(ctx)
	if err != nil {
		return nil, s.translate(err)
	}
	return recs, nil
}

// Trail returns the audit trail for one record.
func (s *Service) Trail(ctx context.Context, recordID string) ([]audit.Event, error) {
	if recordID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "record id is required")
	}
	return s.auditor.ListByRecord(ctx, recordID)
}

// RecentActivity returns the newest audit events across all records, for
// administrative review.
func (s *Service) RecentActivity(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.auditor.ListRecent(ctx, limit)
}

// emit publishes an audit event; a full audit outage is logged but never
// fails the access decision.
func (s *Service) emit(ctx context.Context, event audit.Event) {
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "audit emission failed",
			"action", event.Action, "record_id", event.RecordID, "error", err)
	}
}

func (s *Service) translate(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "record not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "record contended, retry with backoff")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "record store unavailable")
	}
}

func validateIDs(recordID, requesterID string) error {
	if recordID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "record id is required")
	}
	if requesterID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "requester id is required")
	}
	return nil
}
