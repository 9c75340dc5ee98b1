/*
handlers.go - HTTP API handlers for the evaluation lock engine

PURPOSE:
  Exposes the approval workflow and reviewing sessions via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  the evaluation and reconcile packages.

ENDPOINTS:
  Records:
    GET    /api/records?project=&status=      List evaluations
    POST   /api/records                       Submit evaluation (409 when locked)
    POST   /api/records/status                Approve/reject records
    POST   /api/records/bulk-approve          Approve pending records

  Unlock requests:
    GET    /api/unlock-requests?project=&status=
    POST   /api/unlock-requests               File a request
    POST   /api/unlock-requests/{id}/approve  Delete target + cascade
    POST   /api/unlock-requests/{id}/reject   Reject this request only

  Sessions:
    POST   /api/sessions                      Open a reviewing session
    GET    /api/sessions/{id}/pending         Pending list minus tombstones
    POST   /api/sessions/{id}/act             Approve/reject (single-flight)
    POST   /api/sessions/{id}/bulk-approve    Bulk approve records
    DELETE /api/sessions/{id}                 Close the session

  Admin:
    POST   /api/admin/sweep?project=          Approve straggler requests

ERROR HANDLING:
  Every error is mapped through evaluation.ResultOf; the HTTP status
  follows the result code:
  - 400: invalid_input
  - 404: not_found
  - 409: conflict
  - 429: already_in_flight
  - 503: storage_failure
  - 500: internal

SEE ALSO:
  - dto.go: Request/response data structures
  - events.go: Websocket change stream
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/evaluation-engine/evaluation"
	"github.com/warp/evaluation-engine/logger"
	"github.com/warp/evaluation-engine/metrics"
	"github.com/warp/evaluation-engine/notify"
	"github.com/warp/evaluation-engine/reconcile"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Workflow *evaluation.Workflow
	Sessions *reconcile.Registry

	// Events feeds /api/events. Nil disables the stream.
	Events notify.Channel

	log     logger.Logger
	metrics *metrics.Manager
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

func WithLogger(l logger.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

func WithMetrics(m *metrics.Manager) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a handler over the given workflow and session registry.
func NewHandler(wf *evaluation.Workflow, sessions *reconcile.Registry, events notify.Channel, opts ...HandlerOption) *Handler {
	h := &Handler{
		Workflow: wf,
		Sessions: sessions,
		Events:   events,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Named("api")
	return h
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respond(w, r, h.log, map[string]any{
		"status":   "ok",
		"sessions": h.Sessions.Len(),
	}, nil)
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

// ListRecords returns evaluations filtered by project and status.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	status, err := evaluation.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}

	records, err := h.Workflow.Store().ListRecords(r.Context(), scopeParam(r), status)
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}

	dtos := make([]RecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRecordDTO(rec)
	}
	respond(w, r, h.log, dtos, nil)
}

// SubmitEvaluation creates a pending evaluation for a subject and day.
func (h *Handler) SubmitEvaluation(w http.ResponseWriter, r *http.Request) {
	var req SubmitEvaluationRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, h.log, nil, err)
		return
	}

	rec, err := h.Workflow.SubmitEvaluation(r.Context(), evaluation.SubmitEvaluationInput{
		SubjectID:   req.SubjectID,
		Date:        req.Date,
		EvaluatorID: req.EvaluatorID,
		ProjectID:   req.ProjectID,
		Scores: evaluation.Scores{
			Attendance:   req.Scores.Attendance,
			Productivity: req.Scores.Productivity,
			Quality:      req.Scores.Quality,
			Safety:       req.Scores.Safety,
		},
	})
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}
	respondStatus(w, http.StatusCreated, toRecordDTO(rec), nil)
}

// ReviewRecords sets records to approved or rejected.
func (h *Handler) ReviewRecords(w http.ResponseWriter, r *http.Request) {
	var req ReviewRecordsRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, h.log, nil, err)
		return
	}
	status, err := evaluation.ParseStatus(req.Status)
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}

	n, err := h.Workflow.ReviewRecords(r.Context(), req.IDs, status)
	respond(w, r, h.log, CountDTO{Changed: n}, err)
}

// BulkApproveRecords approves the pending records among the given ids.
func (h *Handler) BulkApproveRecords(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, h.log, nil, err)
		return
	}

	n, err := h.Workflow.BulkApproveRecords(r.Context(), req.IDs)
	respond(w, r, h.log, CountDTO{Changed: n}, err)
}

// =============================================================================
// UNLOCK REQUEST HANDLERS
// =============================================================================

// ListUnlockRequests returns unlock requests filtered by project and status.
func (h *Handler) ListUnlockRequests(w http.ResponseWriter, r *http.Request) {
	status, err := evaluation.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}

	list, err := h.Workflow.Store().ListRequests(r.Context(), evaluation.RequestFilter{
		Scope:  scopeParam(r),
		Status: status,
	})
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}
	respond(w, r, h.log, toUnlockRequestDTOs(list), nil)
}

// SubmitUnlockRequest files a pending unlock request.
func (h *Handler) SubmitUnlockRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitUnlockRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, h.log, nil, err)
		return
	}

	created, err := h.Workflow.SubmitUnlockRequest(r.Context(), evaluation.SubmitUnlockInput{
		SubjectID:      req.SubjectID,
		SubjectName:    req.SubjectName,
		RequesterID:    req.RequesterID,
		RequesterName:  req.RequesterName,
		ProjectID:      req.ProjectID,
		TargetRecordID: req.TargetRecordID,
		Date:           req.Date,
		Reason:         req.Reason,
	})
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}
	respondStatus(w, http.StatusCreated, toUnlockRequestDTO(created), nil)
}

// ApproveUnlockRequest approves a request outside any session.
func (h *Handler) ApproveUnlockRequest(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeOptional(r, &req); err != nil {
		respond(w, r, h.log, nil, err)
		return
	}

	out, err := h.Workflow.Approve(r.Context(), chi.URLParam(r, "id"), req.ReviewerID)
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}
	respond(w, r, h.log, toOutcomeDTO(out), nil)
}

// RejectUnlockRequest rejects a request outside any session.
func (h *Handler) RejectUnlockRequest(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeOptional(r, &req); err != nil {
		respond(w, r, h.log, nil, err)
		return
	}

	out, err := h.Workflow.Reject(r.Context(), chi.URLParam(r, "id"), req.ReviewerID)
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}
	respond(w, r, h.log, toOutcomeDTO(out), nil)
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// OpenSession starts a reviewing session and returns its first pending list.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, h.log, nil, err)
		return
	}

	scope := evaluation.ScopeAll
	if p := strings.TrimSpace(req.Project); p != "" {
		scope = evaluation.Scope(p)
	}

	s, err := h.Sessions.Open(r.Context(), req.ReviewerID, scope)
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}
	respondStatus(w, http.StatusCreated, toSessionDTO(s), nil)
}

// SessionPending refreshes and returns the session's pending list.
func (h *Handler) SessionPending(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}
	if _, err := s.Refresh(r.Context()); err != nil {
		respond(w, r, h.log, nil, err)
		return
	}
	respond(w, r, h.log, toSessionDTO(s), nil)
}

// SessionAct approves or rejects one request through the session.
func (h *Handler) SessionAct(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}

	var req ActRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, h.log, nil, err)
		return
	}
	action, err := reconcile.ParseAction(req.Action)
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}

	out, err := s.Act(r.Context(), req.RequestID, action)
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}
	respond(w, r, h.log, toOutcomeDTO(out), nil)
}

// SessionBulkApprove approves records under the session's bulk marker.
func (h *Handler) SessionBulkApprove(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		respond(w, r, h.log, nil, err)
		return
	}

	var req IDsRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, h.log, nil, err)
		return
	}

	n, err := s.BulkApprove(r.Context(), req.IDs)
	respond(w, r, h.log, CountDTO{Changed: n}, err)
}

// CloseSession ends a session.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.Sessions.Close(id) {
		respond(w, r, h.log, nil, fmt.Errorf("session %s: %w", id, evaluation.ErrNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(r *http.Request) (*reconcile.Session, error) {
	id := chi.URLParam(r, "id")
	s, ok := h.Sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, evaluation.ErrNotFound)
	}
	return s, nil
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs the straggler sweep immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.Workflow.SweepStragglers(r.Context(), scopeParam(r))
	respond(w, r, h.log, SweepDTO{Approved: n}, err)
}

// =============================================================================
// HELPERS
// =============================================================================

// respond writes the Result envelope. Failures get the status mapped from
// their code and never carry data.
func respond(w http.ResponseWriter, r *http.Request, log logger.Logger, data any, err error) {
	res := evaluation.ResultOf(err)
	status := statusFor(res.Code)
	if status >= http.StatusInternalServerError {
		log.Error(r.Context(), "request failed",
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	respondStatus(w, status, data, err)
}

func respondStatus(w http.ResponseWriter, status int, data any, err error) {
	resp := Response{Result: evaluation.ResultOf(err)}
	if err == nil {
		resp.Data = data
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func statusFor(code evaluation.Code) int {
	switch code {
	case evaluation.CodeOK:
		return http.StatusOK
	case evaluation.CodeInvalidInput:
		return http.StatusBadRequest
	case evaluation.CodeNotFound:
		return http.StatusNotFound
	case evaluation.CodeConflict:
		return http.StatusConflict
	case evaluation.CodeAlreadyInFlight:
		return http.StatusTooManyRequests
	case evaluation.CodeStorageFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", evaluation.ErrInvalidInput, err)
	}
	return nil
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: malformed JSON body: %v", evaluation.ErrInvalidInput, err)
}

// scopeParam reads ?project=. Missing or "all" means every project.
func scopeParam(r *http.Request) evaluation.Scope {
	p := strings.TrimSpace(r.URL.Query().Get("project"))
	if p == "" {
		return evaluation.ScopeAll
	}
	return evaluation.Scope(p)
}
