// Package payload seals record payloads with per-record keys before they
// touch storage and releases plaintext only through the access check.
package payload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yocase11/uhias-secure-ehr-sharing/internal/audit"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/crypto"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/platform/metrics"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/record"
	dErrors "github.com/yocase11/uhias-secure-ehr-sharing/pkg/domain-errors"
	"github.com/yocase11/uhias-secure-ehr-sharing/pkg/platform/sentinel"
	"github.com/yocase11/uhias-secure-ehr-sharing/pkg/requestcontext"
)

// AccessChecker is the single gate consulted before plaintext release.
type AccessChecker interface {
	CheckAccess(ctx context.Context, recordID, requesterID string) (bool, error)
}

// UploadInput carries everything needed to create a record. RecordID is
// optional; when empty the service assigns a fresh UUID.
type UploadInput struct {
	RecordID   string
	Name       string
	Date       string
	UploadedBy string
	Body       io.Reader
}

// Service owns the payload lifecycle: seal on upload, unseal on authorized
// read, purge with compensation. Plaintext never touches the blob store and
// key material never leaves the process unwrapped.
type Service struct {
	records record.Store
	keys    record.KeyStore
	blobs   BlobStore
	keyring *crypto.Keyring
	checker AccessChecker
	auditor *audit.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewService(
	records record.Store,
	keys record.KeyStore,
	blobs BlobStore,
	keyring *crypto.Keyring,
	checker AccessChecker,
	auditor *audit.Publisher,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		records: records,
		keys:    keys,
		blobs:   blobs,
		keyring: keyring,
		checker: checker,
		auditor: auditor,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("payload"),
	}
}

// Upload seals the payload under a fresh per-record key and creates the
// access-control document. On any failure the partially written blob and key
// material are compensated away so no orphan ciphertext accumulates.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*record.Record, error) {
	ctx, span := s.tracer.Start(ctx, "payload.Upload")
	defer span.End()

	date, err := NormalizeDate(in.Date)
	if err != nil {
		return nil, err
	}
	if in.Name == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "record name is required")
	}
	if in.UploadedBy == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "uploader id is required")
	}
	if in.Body == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "payload body is required")
	}

	recordID := in.RecordID
	if recordID == "" {
		recordID = uuid.NewString()
	} else if _, err := uuid.Parse(recordID); err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "record id must be a UUID")
	}

	km, err := crypto.NewKeyMaterial()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate record key")
	}

	span.SetAttributes(attribute.String("record.id", recordID))
	ref := recordID + ".bin"

	sealed, fingerprint, err := s.sealToBlob(ctx, ref, in.Body, km)
	if err != nil {
		return nil, err
	}

	wrapped, err := s.keyring.Wrap(km)
	if err != nil {
		s.compensate(ctx, recordID, ref, false)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "wrap record key")
	}
	if err := s.keys.Put(ctx, recordID, wrapped); err != nil {
		s.compensate(ctx, recordID, ref, false)
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "record already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "store record key")
	}

	now := requestcontext.Now(ctx)
	rec := &record.Record{
		ID:          recordID,
		PayloadRef:  ref,
		Fingerprint: fingerprint,
		Metadata:    record.Metadata{Name: in.Name, Date: date, UploadedBy: in.UploadedBy},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		s.compensate(ctx, recordID, ref, true)
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "record already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "create record")
	}

	s.metrics.PayloadBytes.WithLabelValues("in").Add(float64(sealed))
	s.emit(ctx, audit.Event{
		RecordID: recordID,
		ActorID:  in.UploadedBy,
		Action:   audit.ActionRecordCreated,
	})
	return rec, nil
}

// Read streams the plaintext payload to dst after the access check passes.
// A refused read is itself an auditable event.
func (s *Service) Read(ctx context.Context, recordID, requesterID string, dst io.Writer) error {
	ctx, span := s.tracer.Start(ctx, "payload.Read",
		trace.WithAttributes(attribute.String("record.id", recordID)))
	defer span.End()

	ok, err := s.checker.CheckAccess(ctx, recordID, requesterID)
	if err != nil {
		return err
	}
	if !ok {
		s.emit(ctx, audit.Event{
			RecordID: recordID,
			ActorID:  requesterID,
			Action:   audit.ActionAccessRefused,
		})
		return dErrors.New(dErrors.CodeUnauthorized, "access not granted for this record")
	}

	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return s.translate(err)
	}
	wrapped, err := s.keys.Get(ctx, recordID)
	if err != nil {
		return s.translate(err)
	}
	km, err := s.keyring.Unwrap(wrapped)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeAuthenticationFailed, "record key failed authentication")
	}

	blob, err := s.blobs.Open(ctx, rec.PayloadRef)
	if err != nil {
		return s.translate(err)
	}
	defer blob.Close()

	counted := &countingReader{r: blob}
	if err := crypto.OpenStream(dst, counted, km); err != nil {
		if errors.Is(err, crypto.ErrAuthentication) {
			return dErrors.Wrap(err, dErrors.CodeAuthenticationFailed, "payload failed authentication")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "open payload stream")
	}

	s.metrics.PayloadBytes.WithLabelValues("out").Add(float64(counted.n))
	s.emit(ctx, audit.Event{
		RecordID: recordID,
		ActorID:  requesterID,
		Action:   audit.ActionPayloadRead,
	})
	return nil
}

// Purge removes the document, the wrapped key, and the blob. The document
// goes first so no new access decision can succeed mid-purge; leftover key or
// blob failures surface as a partial delete the operator can retry.
func (s *Service) Purge(ctx context.Context, recordID, actorID string) error {
	ctx, span := s.tracer.Start(ctx, "payload.Purge",
		trace.WithAttributes(attribute.String("record.id", recordID)))
	defer span.End()

	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return s.translate(err)
	}
	if err := s.records.Delete(ctx, recordID); err != nil {
		return s.translate(err)
	}

	var leftovers []string
	if err := s.keys.Delete(ctx, recordID); err != nil {
		leftovers = append(leftovers, "key")
		s.logger.ErrorContext(ctx, "purge left wrapped key behind",
			"record_id", recordID, "error", err)
	}
	if err := s.blobs.Delete(ctx, rec.PayloadRef); err != nil {
		leftovers = append(leftovers, "blob")
		s.logger.ErrorContext(ctx, "purge left sealed blob behind",
			"record_id", recordID, "error", err)
	}

	s.emit(ctx, audit.Event{
		RecordID: recordID,
		ActorID:  actorID,
		Action:   audit.ActionRecordPurged,
	})
	if len(leftovers) > 0 {
		return dErrors.New(dErrors.CodePartialDelete,
			fmt.Sprintf("record deleted but %v could not be removed", leftovers))
	}
	return nil
}

// sealToBlob encrypts src into a fresh blob while fingerprinting the
// plaintext. The blob is removed again when sealing fails partway.
func (s *Service) sealToBlob(ctx context.Context, ref string, src io.Reader, km crypto.KeyMaterial) (int64, string, error) {
	w, err := s.blobs.Create(ctx, ref)
	if errors.Is(err, sentinel.ErrConflict) {
		return 0, "", dErrors.Wrap(err, dErrors.CodeConflict, "record already exists")
	}
	if err != nil {
		return 0, "", dErrors.Wrap(err, dErrors.CodeUnavailable, "create payload blob")
	}

	hasher := sha256.New()
	sealed, err := crypto.SealStream(w, io.TeeReader(src, hasher), km)
	closeErr := w.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		if delErr := s.blobs.Delete(ctx, ref); delErr != nil {
			s.logger.ErrorContext(ctx, "failed to remove partial blob", "ref", ref, "error", delErr)
		}
		return 0, "", dErrors.Wrap(err, dErrors.CodeInternal, "seal payload")
	}
	return sealed, hex.EncodeToString(hasher.Sum(nil)), nil
}

// compensate rolls back upload side effects after a later step failed.
func (s *Service) compensate(ctx context.Context, recordID, ref string, keyStored bool) {
	if keyStored {
		if err := s.keys.Delete(ctx, recordID); err != nil {
			s.logger.ErrorContext(ctx, "upload compensation: key delete failed",
				"record_id", recordID, "error", err)
		}
	}
	if err := s.blobs.Delete(ctx, ref); err != nil {
		s.logger.ErrorContext(ctx, "upload compensation: blob delete failed",
			"ref", ref, "error", err)
	}
}

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
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "record store unavailable")
	}
}

// NormalizeDate accepts ISO dates as-is and converts the day-first form many
// upstream exports use into ISO.
func NormalizeDate(s string) (string, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "record date is required")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Format("2006-01-02"), nil
	}
	if t, err := time.Parse("02-01-2006", s); err == nil {
		return t.Format("2006-01-02"), nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "record date must be YYYY-MM-DD or DD-MM-YYYY")
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
