// Package httptransport is the thin HTTP layer. Handlers decode, delegate to
// domain services, and encode; business rules live behind the service
// interfaces.
package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/yocase11/uhias-secure-ehr-sharing/internal/access"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/audit"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/payload"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/record"
	dErrors "github.com/yocase11/uhias-secure-ehr-sharing/pkg/domain-errors"
	"github.com/yocase11/uhias-secure-ehr-sharing/pkg/platform/httputil"
	"github.com/yocase11/uhias-secure-ehr-sharing/pkg/requestcontext"
)

// maxUploadMemory bounds how much of a multipart upload is held in memory
// before spilling to disk.
const maxUploadMemory = 32 << 20

// Engine defines the access-control operations the transport needs.
type Engine interface {
	RequestAccess(ctx context.Context, recordID, requesterID, reason string) (access.Outcome, error)
	GrantAccess(ctx context.Context, recordID, requesterID string) (access.Outcome, error)
	DenyAccess(ctx context.Context, recordID, requesterID string) (access.Outcome, error)
	BreakGlass(ctx context.Context, recordID, requesterID, reason string) (access.Outcome, error)
	GetRecord(ctx context.Context, recordID string) (*record.Record, error)
	ListRecords(ctx context.Context) ([]*record.Record, error)
	Trail(ctx context.Context, recordID string) ([]audit.Event, error)
	RecentActivity(ctx context.Context, limit int) ([]audit.Event, error)
}

// Payloads defines the payload lifecycle operations the transport needs.
type Payloads interface {
	Upload(ctx context.Context, in payload.UploadInput) (*record.Record, error)
	Read(ctx context.Context, recordID, requesterID string, dst io.Writer) error
	Purge(ctx context.Context, recordID, actorID string) error
}

// Handler handles record and access-control endpoints.
type Handler struct {
	engine   Engine
	payloads Payloads
	logger   *slog.Logger
}

func NewHandler(engine Engine, payloads Payloads, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, payloads: payloads, logger: logger}
}

type decisionResponse struct {
	RecordID string `json:"recordId"`
	Status   string `json:"status"`
}

type accessDecisionRequest struct {
	RequesterID string `json:"requesterId"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// handleUpload accepts a multipart form with "name" and "date" fields and the
// payload under "file".
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID := requestcontext.ActorID(ctx)

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "expected multipart form upload"))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, _, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "missing file part"))
		return
	}
	defer file.Close()

	rec, err := h.payloads.Upload(ctx, payload.UploadInput{
		RecordID:   r.FormValue("recordId"),
		Name:       r.FormValue("name"),
		Date:       r.FormValue("date"),
		UploadedBy: actorID,
		Body:       file,
	})
	if err != nil {
		h.logError(ctx, "upload failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.GetRecord(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.engine.ListRecords(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if recs == nil {
		recs = []*record.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, recs)
}

// handleReadPayload streams the decrypted payload. Any error after the first
// byte is written cannot change the response status; the stream just ends
// short and the client's content-length check fails.
func (h *Handler) handleReadPayload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID := chi.URLParam(r, "recordID")
	actorID := requestcontext.ActorID(ctx)

	w.Header().Set("Content-Type", "application/octet-stream")
	if err := h.payloads.Read(ctx, recordID, actorID, w); err != nil {
		h.logError(ctx, "payload read failed", err)
		httputil.WriteError(w, err)
		return
	}
}

func (h *Handler) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID := chi.URLParam(r, "recordID")

	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	outcome, err := h.engine.RequestAccess(ctx, recordID, requestcontext.ActorID(ctx), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decisionResponse{RecordID: recordID, Status: string(outcome)})
}

func (h *Handler) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.engine.GrantAccess)
}

func (h *Handler) handleDenyAccess(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.engine.DenyAccess)
}

// decide factors the shared shape of grant and deny: the owner posts the
// requester being decided on.
func (h *Handler) decide(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, recordID, requesterID string) (access.Outcome, error),
) {
	ctx := r.Context()
	recordID := chi.URLParam(r, "recordID")

	var req accessDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	outcome, err := op(ctx, recordID, req.RequesterID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decisionResponse{RecordID: recordID, Status: string(outcome)})
}

func (h *Handler) handleBreakGlass(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID := chi.URLParam(r, "recordID")

	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	outcome, err := h.engine.BreakGlass(ctx, recordID, requestcontext.ActorID(ctx), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decisionResponse{RecordID: recordID, Status: string(outcome)})
}

func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID := chi.URLParam(r, "recordID")

	if err := h.payloads.Purge(ctx, recordID, requestcontext.ActorID(ctx)); err != nil {
		h.logError(ctx, "purge failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.Trail(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.engine.RecentActivity(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
}
