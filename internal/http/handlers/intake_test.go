package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-intake/internal/compliance"
	"github.com/wolfman30/clinic-intake/internal/intake"
	"github.com/wolfman30/clinic-intake/internal/patients"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

type fakeBackend struct {
	mu       sync.Mutex
	createFn func(intake.Payload) (*intake.Record, error)
	updateFn func(string, intake.Payload) (*intake.Record, error)
	getFn    func(string) (*intake.Record, error)
	payloads []intake.Payload
}

func (f *fakeBackend) CreateRecord(ctx context.Context, p intake.Payload) (*intake.Record, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(p)
	}
	return &intake.Record{ID: "p-new"}, nil
}

func (f *fakeBackend) UpdateRecord(ctx context.Context, id string, p intake.Payload) (*intake.Record, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	f.mu.Unlock()
	if f.updateFn != nil {
		return f.updateFn(id, p)
	}
	return &intake.Record{ID: id}, nil
}

func (f *fakeBackend) GetRecord(ctx context.Context, id string) (*intake.Record, error) {
	if f.getFn != nil {
		return f.getFn(id)
	}
	return nil, &patients.APIError{StatusCode: http.StatusNotFound, Message: "not found"}
}

type fakeAudit struct {
	opened []string
	events []compliance.AuditEvent
}

func (a *fakeAudit) LogRecordOpened(ctx context.Context, sessionID, recordID string) error {
	a.opened = append(a.opened, recordID)
	return nil
}

func (a *fakeAudit) QueryEvents(ctx context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error) {
	return a.events, nil
}

type testServer struct {
	backend *fakeBackend
	audit   *fakeAudit
	handler http.Handler
}

func newTestServer(t *testing.T, backend *fakeBackend) *testServer {
	t.Helper()
	logger := logging.NewWithWriter("error", &bytes.Buffer{})
	audit := &fakeAudit{}
	registry := intake.NewRegistry(intake.RegistryConfig{Backend: backend, Logger: logger})
	h := NewIntakeHandler(IntakeHandlerConfig{
		Registry: registry,
		Fetcher:  backend,
		Audit:    audit,
		Logger:   logger,
	})
	return &testServer{backend: backend, audit: audit, handler: h.Routes(nil)}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) open(t *testing.T, body any) SessionResponse {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/sessions", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var state SessionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&state))
	return state
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func fillRequired(t *testing.T, s *testServer, id string) {
	t.Helper()
	rr := s.do(t, http.MethodPatch, "/sessions/"+id+"/fields", map[string]string{
		"firstName":             "Jane",
		"lastName":              "Doe",
		"dateOfBirth":           "1990-04-12",
		"gender":                "female",
		"email":                 "jane@example.com",
		"phone":                 "555-0100",
		"address":               "1 Main St",
		"emergencyContactName":  "John Doe",
		"emergencyContactPhone": "555-0101",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func walkToFinal(t *testing.T, s *testServer, id string) {
	t.Helper()
	for i := 0; i < 4; i++ {
		rr := s.do(t, http.MethodPost, "/sessions/"+id+"/next", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
}

func TestIntakeHandler_CreateFlow(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	state := s.open(t, nil)
	assert.Equal(t, intake.ModeCreate, state.Mode)
	assert.Equal(t, "United States", state.Draft.Country)

	fillRequired(t, s, state.ID)
	rr := s.do(t, http.MethodPost, "/sessions/"+state.ID+"/medications", intake.Medication{Name: "Ibuprofen", Dosage: "200mg"})
	assert.Equal(t, http.StatusCreated, rr.Code)

	walkToFinal(t, s, state.ID)
	rr = s.do(t, http.MethodPost, "/sessions/"+state.ID+"/submit", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp SubmitResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "p-new", resp.Record.ID)
	assert.True(t, resp.State.Closed)

	require.Len(t, s.backend.payloads, 1)
	assert.Len(t, s.backend.payloads[0].Medications, 1)
}

func TestIntakeHandler_IncompleteMedicationIgnored(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	state := s.open(t, nil)

	rr := s.do(t, http.MethodPost, "/sessions/"+state.ID+"/medications", intake.Medication{Name: "Ibuprofen"})
	require.Equal(t, http.StatusOK, rr.Code)
	var got SessionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Empty(t, got.Draft.MedicationList)
}

func TestIntakeHandler_RemoveMedication(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	state := s.open(t, nil)

	rr := s.do(t, http.MethodPost, "/sessions/"+state.ID+"/medications", intake.Medication{Name: "A", Dosage: "1"})
	var got SessionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	require.Len(t, got.Draft.MedicationList, 1)
	medID := got.Draft.MedicationList[0].ID

	rr = s.do(t, http.MethodDelete, "/sessions/"+state.ID+"/medications/"+medID, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodDelete, "/sessions/"+state.ID+"/medications/"+medID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestIntakeHandler_NextBlocked(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	state := s.open(t, nil)

	rr := s.do(t, http.MethodPost, "/sessions/"+state.ID+"/next", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	resp := decodeError(t, rr)
	assert.Equal(t, "First name is required", resp.Fields["firstName"])
	assert.Equal(t, 1, resp.State.CurrentStep)
}

func TestIntakeHandler_UnknownFieldRejectsPatch(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	state := s.open(t, nil)

	rr := s.do(t, http.MethodPatch, "/sessions/"+state.ID+"/fields", map[string]string{
		"firstName": "Jane",
		"ssn":       "000-00-0000",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/sessions/"+state.ID, nil)
	var got SessionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Empty(t, got.Draft.FirstName)
}

func TestIntakeHandler_SubmitNotOnFinalStep(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	state := s.open(t, nil)

	rr := s.do(t, http.MethodPost, "/sessions/"+state.ID+"/submit", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Empty(t, s.backend.payloads)
}

func TestIntakeHandler_SubmitRelocatesToFirstInvalidStep(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	state := s.open(t, nil)

	rr := s.do(t, http.MethodPut, "/sessions/"+state.ID+"/step", GoToRequest{Step: 5})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPost, "/sessions/"+state.ID+"/submit", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	resp := decodeError(t, rr)
	assert.Equal(t, 1, resp.State.CurrentStep)
	assert.Contains(t, resp.Fields, "firstName")
	assert.Empty(t, s.backend.payloads)
}

func TestIntakeHandler_ServerFieldErrorsMerged(t *testing.T) {
	backend := &fakeBackend{createFn: func(intake.Payload) (*intake.Record, error) {
		return nil, &intake.ValidationError{Fields: intake.FieldErrors{"email": "Email already registered"}}
	}}
	s := newTestServer(t, backend)
	state := s.open(t, nil)
	fillRequired(t, s, state.ID)
	walkToFinal(t, s, state.ID)

	rr := s.do(t, http.MethodPost, "/sessions/"+state.ID+"/submit", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	resp := decodeError(t, rr)
	assert.Equal(t, "Email already registered", resp.Fields["email"])
	assert.False(t, resp.State.Closed)
	assert.Empty(t, resp.State.Notices)
}

func TestIntakeHandler_GenericFailureNotifies(t *testing.T) {
	backend := &fakeBackend{createFn: func(intake.Payload) (*intake.Record, error) {
		return nil, errors.New("connection refused")
	}}
	s := newTestServer(t, backend)
	state := s.open(t, nil)
	fillRequired(t, s, state.ID)
	walkToFinal(t, s, state.ID)

	rr := s.do(t, http.MethodPost, "/sessions/"+state.ID+"/submit", nil)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	resp := decodeError(t, rr)
	assert.Equal(t, intake.GenericFailureMessage, resp.Error)
	assert.Equal(t, []string{intake.GenericFailureMessage}, resp.State.Notices)
	assert.Empty(t, resp.State.Errors)
}

func TestIntakeHandler_EditByRecordID(t *testing.T) {
	backend := &fakeBackend{getFn: func(id string) (*intake.Record, error) {
		var rec intake.Record
		err := json.Unmarshal([]byte(`{"id":"`+id+`","firstName":"Ann","lastName":"Lee","dateOfBirth":"1985-01-02","gender":"female","email":"ann@example.com","phone":"1","address":"2 Elm","emergencyContactName":"Bo","emergencyContactPhone":"2","medications":"[{\"name\":\"A\",\"dosage\":\"1\"}]"}`), &rec)
		return &rec, err
	}}
	s := newTestServer(t, backend)
	state := s.open(t, OpenSessionRequest{RecordID: "p-7"})
	assert.Equal(t, intake.ModeUpdate, state.Mode)
	assert.Equal(t, "p-7", state.RecordID)
	require.Len(t, state.Draft.MedicationList, 1)
	assert.NotEmpty(t, state.Draft.MedicationList[0].ID)
	assert.Equal(t, []string{"p-7"}, s.audit.opened)

	walkToFinal(t, s, state.ID)
	rr := s.do(t, http.MethodPost, "/sessions/"+state.ID+"/submit", nil)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestIntakeHandler_EditUnknownRecord(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	rr := s.do(t, http.MethodPost, "/sessions", OpenSessionRequest{RecordID: "missing"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestIntakeHandler_EditRecordRequiresID(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})

	for _, body := range []string{
		`{"record":{"firstName":"Jane"}}`,
		`{"record":{"id":"   ","firstName":"Jane"}}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		s.handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		assert.Contains(t, decodeError(t, rr).Error, "record.id")
	}
	assert.Empty(t, s.audit.opened)

	state := s.open(t, json.RawMessage(`{"record":{"id":"p-3","firstName":"Jane"}}`))
	assert.Equal(t, intake.ModeUpdate, state.Mode)
	assert.Equal(t, "p-3", state.RecordID)
	assert.Equal(t, "Jane", state.Draft.FirstName)
}

func TestIntakeHandler_CloseNeedsConfirmation(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	state := s.open(t, nil)
	fillRequired(t, s, state.ID)
	walkToFinal(t, s, state.ID)

	rr := s.do(t, http.MethodDelete, "/sessions/"+state.ID, nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, intake.DiscardPrompt, decodeError(t, rr).Error)

	rr = s.do(t, http.MethodDelete, "/sessions/"+state.ID+"?confirm=true", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, http.MethodGet, "/sessions/"+state.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestIntakeHandler_AuditAndStats(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	s.audit.events = []compliance.AuditEvent{{ID: "e-1", EventType: compliance.EventSubmitted, SessionID: "s-1"}}
	s.open(t, nil)

	rr := s.do(t, http.MethodGet, "/audit?session_id=s-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"intake.submitted"`)

	rr = s.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats StatsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&stats))
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Zero(t, stats.Submissions.Total)
}
