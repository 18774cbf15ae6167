package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-intake/internal/compliance"
	"github.com/wolfman30/clinic-intake/internal/intake"
	"github.com/wolfman30/clinic-intake/internal/observability/metrics"
	"github.com/wolfman30/clinic-intake/internal/patients"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

// maxBody caps intake request bodies.
const maxBody = 1 << 20

// StatsSource reports submission totals.
type StatsSource interface {
	Snapshot() metrics.SubmissionSnapshot
}

// AuditStore records and lists intake audit events.
type AuditStore interface {
	LogRecordOpened(ctx context.Context, sessionID, recordID string) error
	QueryEvents(ctx context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error)
}

// IntakeHandlerConfig wires the intake HTTP handler.
type IntakeHandlerConfig struct {
	Registry *intake.Registry
	// Fetcher loads records for {"record_id": ...} session requests.
	Fetcher intake.RecordFetcher
	Stats   StatsSource
	Audit   AuditStore
	Logger  *logging.Logger
}

// IntakeHandler exposes wizard sessions over HTTP.
type IntakeHandler struct {
	registry *intake.Registry
	fetcher  intake.RecordFetcher
	stats    StatsSource
	audit    AuditStore
	logger   *logging.Logger
}

// NewIntakeHandler creates an intake handler.
func NewIntakeHandler(cfg IntakeHandlerConfig) *IntakeHandler {
	if cfg.Registry == nil {
		panic("handlers: intake registry required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &IntakeHandler{
		registry: cfg.Registry,
		fetcher:  cfg.Fetcher,
		stats:    cfg.Stats,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
	}
}

// Routes mounts the intake endpoints.
func (h *IntakeHandler) Routes(sessionLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/steps", h.ListSteps)
	r.Get("/stats", h.Stats)
	if h.audit != nil {
		r.Get("/audit", h.ListAudit)
	}
	r.Route("/sessions", func(r chi.Router) {
		if sessionLimit != nil {
			r.With(sessionLimit).Post("/", h.OpenSession)
		} else {
			r.Post("/", h.OpenSession)
		}
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.CloseSession)
			r.Patch("/fields", h.SetFields)
			r.Post("/medications", h.AddMedication)
			r.Delete("/medications/{medicationID}", h.RemoveMedication)
			r.Post("/next", h.Next)
			r.Post("/previous", h.Previous)
			r.Put("/step", h.GoTo)
			r.Post("/submit", h.Submit)
		})
	})
	return r
}

// SessionResponse is the wizard state plus any notifications raised since
// the last response.
type SessionResponse struct {
	intake.State
	Notices []string `json:"notices,omitempty"`
}

// ErrorResponse is the body of every non-2xx intake response.
type ErrorResponse struct {
	Error  string             `json:"error"`
	Fields intake.FieldErrors `json:"fields,omitempty"`
	State  *SessionResponse   `json:"state,omitempty"`
}

// OpenSessionRequest selects create or edit mode.
type OpenSessionRequest struct {
	RecordID string         `json:"record_id,omitempty"`
	Record   *intake.Record `json:"record,omitempty"`
}

// ListSteps handles GET /intake/steps
func (h *IntakeHandler) ListSteps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"steps": intake.DefaultSteps()})
}

// StatsResponse summarizes submissions and live sessions.
type StatsResponse struct {
	Submissions    metrics.SubmissionSnapshot `json:"submissions"`
	ActiveSessions int                        `json:"active_sessions"`
}

// Stats handles GET /intake/stats
func (h *IntakeHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{ActiveSessions: h.registry.Len()}
	if h.stats != nil {
		resp.Submissions = h.stats.Snapshot()
	} else {
		resp.Submissions = metrics.SubmissionSnapshot{ByOutcome: map[string]int64{}, ByMode: map[string]int64{}}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListAudit handles GET /intake/audit
func (h *IntakeHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := compliance.AuditFilter{
		SessionID: q.Get("session_id"),
		RecordID:  q.Get("record_id"),
		EventType: compliance.AuditEventType(q.Get("event_type")),
		Limit:     50,
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 500 {
			filter.Limit = limit
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	events, err := h.audit.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query intake audit events", "error", err)
		writeIntakeError(w, http.StatusInternalServerError, "failed to query audit events")
		return
	}
	if events == nil {
		events = []compliance.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// OpenSession handles POST /intake/sessions
func (h *IntakeHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeIntakeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// An edit session submits with PUT /patients/{id}; without an id it
	// could never be saved.
	if req.Record != nil && strings.TrimSpace(req.Record.ID) == "" {
		writeIntakeError(w, http.StatusBadRequest, "record.id is required to edit a patient record")
		return
	}

	rec := req.Record
	if rec == nil && strings.TrimSpace(req.RecordID) != "" {
		if h.fetcher == nil {
			writeIntakeError(w, http.StatusNotImplemented, "record lookup is not configured")
			return
		}
		fetched, err := h.fetcher.GetRecord(r.Context(), req.RecordID)
		if err != nil {
			var apiErr *patients.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				writeIntakeError(w, http.StatusNotFound, "patient record not found")
				return
			}
			h.logger.Error("failed to load patient record", "record_id", req.RecordID, "error", err)
			writeIntakeError(w, http.StatusBadGateway, "failed to load patient record")
			return
		}
		rec = fetched
	}

	session := h.registry.Open(rec)
	state := h.respond(session)
	if rec != nil && h.audit != nil {
		if err := h.audit.LogRecordOpened(context.WithoutCancel(r.Context()), state.ID, state.RecordID); err != nil {
			h.logger.Warn("failed to audit record open", "session_id", state.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, state)
}

// GetSession handles GET /intake/sessions/{sessionID}
func (h *IntakeHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.respond(session))
}

// SetFields handles PATCH /intake/sessions/{sessionID}/fields
func (h *IntakeHandler) SetFields(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var fields map[string]string
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&fields); err != nil {
		writeIntakeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// Reject the whole patch before touching the draft if any key is unknown.
	draft := session.Wizard.Draft()
	for key := range fields {
		if _, known := draft.Get(key); !known {
			writeIntakeError(w, http.StatusBadRequest, "unknown field: "+key)
			return
		}
	}
	for key, value := range fields {
		if err := session.Wizard.SetField(key, value); err != nil {
			h.wizardError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.respond(session))
}

// AddMedication handles POST /intake/sessions/{sessionID}/medications.
// Entries without a name or dosage are ignored and the unchanged state is
// returned with 200.
func (h *IntakeHandler) AddMedication(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var med intake.Medication
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&med); err != nil {
		writeIntakeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if session.Wizard.Closed() {
		h.wizardError(w, intake.ErrClosed)
		return
	}
	status := http.StatusOK
	if _, added := session.Wizard.AddMedication(med); added {
		status = http.StatusCreated
	}
	writeJSON(w, status, h.respond(session))
}

// RemoveMedication handles DELETE /intake/sessions/{sessionID}/medications/{medicationID}
func (h *IntakeHandler) RemoveMedication(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if session.Wizard.Closed() {
		h.wizardError(w, intake.ErrClosed)
		return
	}
	if !session.Wizard.RemoveMedication(chi.URLParam(r, "medicationID")) {
		writeIntakeError(w, http.StatusNotFound, "medication not found")
		return
	}
	writeJSON(w, http.StatusOK, h.respond(session))
}

// Next handles POST /intake/sessions/{sessionID}/next
func (h *IntakeHandler) Next(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	errs, advanced, err := session.Wizard.Next()
	if err != nil {
		h.wizardError(w, err)
		return
	}
	state := h.respond(session)
	if !advanced {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  "step has errors",
			Fields: errs,
			State:  &state,
		})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Previous handles POST /intake/sessions/{sessionID}/previous
func (h *IntakeHandler) Previous(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := session.Wizard.Previous(); err != nil {
		h.wizardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.respond(session))
}

// GoToRequest is the body of PUT /intake/sessions/{sessionID}/step
type GoToRequest struct {
	Step int `json:"step"`
}

// GoTo handles PUT /intake/sessions/{sessionID}/step
func (h *IntakeHandler) GoTo(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req GoToRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		writeIntakeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, err := session.Wizard.GoTo(req.Step); err != nil {
		h.wizardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.respond(session))
}

// SubmitResponse carries the saved record and the wizard's final state.
type SubmitResponse struct {
	Record *intake.Record   `json:"record"`
	State  *SessionResponse `json:"state"`
}

// Submit handles POST /intake/sessions/{sessionID}/submit
func (h *IntakeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	mode := session.Wizard.Snapshot().Mode

	// The backend call outlives a dropped client connection so its outcome
	// is still applied to the wizard.
	res, err := session.Wizard.Submit(context.WithoutCancel(r.Context()))
	if err != nil {
		h.wizardError(w, err)
		return
	}

	state := h.respond(session)
	switch res.Outcome {
	case intake.OutcomeSubmitted:
		status := http.StatusOK
		if mode == intake.ModeCreate {
			status = http.StatusCreated
		}
		writeJSON(w, status, SubmitResponse{Record: res.Record, State: &state})
	case intake.OutcomeInvalid, intake.OutcomeRejected:
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  "patient information has errors",
			Fields: res.Errors,
			State:  &state,
		})
	case intake.OutcomeBusy:
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "a submission is already in progress", State: &state})
	default:
		msg := res.Message
		if msg == "" {
			msg = intake.GenericFailureMessage
		}
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: msg, State: &state})
	}
}

// CloseSession handles DELETE /intake/sessions/{sessionID}. Closing from the
// final step with a name entered needs ?confirm=true.
func (h *IntakeHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	prompter := intake.PrompterFunc(func(string) bool { return confirm })
	if !session.Wizard.Close(prompter) {
		state := h.respond(session)
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: intake.DiscardPrompt, State: &state})
		return
	}
	h.registry.Remove(session.Wizard.ID())
	w.WriteHeader(http.StatusNoContent)
}

func (h *IntakeHandler) session(w http.ResponseWriter, r *http.Request) (*intake.Session, bool) {
	session, err := h.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeIntakeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return session, true
}

func (h *IntakeHandler) respond(session *intake.Session) SessionResponse {
	return SessionResponse{
		State:   session.Wizard.Snapshot(),
		Notices: session.Inbox.Drain(),
	}
}

func (h *IntakeHandler) wizardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intake.ErrClosed):
		writeIntakeError(w, http.StatusGone, "session is closed")
	case errors.Is(err, intake.ErrNotOnFinalStep):
		writeIntakeError(w, http.StatusConflict, "submit is only available on the final step")
	case errors.Is(err, intake.ErrUnknownField):
		writeIntakeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("intake request failed", "error", err)
		writeIntakeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeIntakeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
