package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/camguard/internal/accessibility"
	"github.com/technosupport/camguard/internal/agent"
	"github.com/technosupport/camguard/internal/api"
	"github.com/technosupport/camguard/internal/cameras"
	"github.com/technosupport/camguard/internal/data"
	"github.com/technosupport/camguard/internal/executor"
	"github.com/technosupport/camguard/internal/guard"
	"github.com/technosupport/camguard/internal/health"
	"github.com/technosupport/camguard/internal/incidents"
	"github.com/technosupport/camguard/internal/planner"
	"github.com/technosupport/camguard/internal/timeline"
	"github.com/technosupport/camguard/internal/tokens"
	"github.com/technosupport/camguard/internal/triggers"
	"github.com/technosupport/camguard/internal/warehouse"
)

type fakePlanner struct {
	plan       planner.Plan
	assessment planner.BedAssessment
}

func (f *fakePlanner) PlanIncident(ctx context.Context, req planner.IncidentRequest) (planner.Plan, bool) {
	return f.plan, false
}

func (f *fakePlanner) PlanStrong(ctx context.Context, framesB64 []string, motion, stillness float64, current planner.Plan, state planner.IncidentState) (planner.Plan, error) {
	return f.plan, nil
}

func (f *fakePlanner) AssessBed(ctx context.Context, framesB64 []string, bedPolygon [][]float64, roomType string) planner.BedAssessment {
	return f.assessment
}

type fakeNotifier struct{}

func (f *fakeNotifier) SendSMS(ctx context.Context, to, body string) (string, error) {
	return "SM1", nil
}

func (f *fakeNotifier) StartVoiceCall(ctx context.Context, to, incidentID string) (string, error) {
	return "CA1", nil
}

type fakeCamRepo struct {
	byID map[string]*data.Camera
}

func (f *fakeCamRepo) Create(ctx context.Context, c *data.Camera) error {
	if c.ID == "" {
		c.ID = "cam-new"
	}
	f.byID[c.ID] = c
	return nil
}

func (f *fakeCamRepo) GetByID(ctx context.Context, id string) (*data.Camera, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	return c, nil
}

func (f *fakeCamRepo) List(ctx context.Context) ([]*data.Camera, error) {
	out := make([]*data.Camera, 0, len(f.byID))
	for _, c := range f.byID {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCamRepo) Update(ctx context.Context, c *data.Camera) error {
	f.byID[c.ID] = c
	return nil
}

func (f *fakeCamRepo) UpdateConfig(ctx context.Context, id string, config map[string]any) error {
	c, ok := f.byID[id]
	if !ok {
		return data.ErrRecordNotFound
	}
	c.Config = config
	return nil
}

func (f *fakeCamRepo) UpdateRisk(ctx context.Context, id string, risk float64, seenAt time.Time) error {
	return nil
}

type fakePolicyRepo struct{}

func (f *fakePolicyRepo) Upsert(ctx context.Context, p *data.NotificationPolicy) error { return nil }
func (f *fakePolicyRepo) GetByCamera(ctx context.Context, cameraID string) (*data.NotificationPolicy, error) {
	return nil, data.ErrRecordNotFound
}

type fakeTextModel struct {
	reply string
	err   error
}

func (f *fakeTextModel) CompleteText(ctx context.Context, prompt string) (string, error) {
	return f.reply, f.err
}

type apiHarness struct {
	handler  http.Handler
	mock     sqlmock.Sqlmock
	hub      *timeline.Hub
	tokens   *tokens.Manager
	registry *incidents.Registry
	text     *fakeTextModel
}

func newAPIHarness(t *testing.T, cams ...*data.Camera) *apiHarness {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	camRepo := &fakeCamRepo{byID: map[string]*data.Camera{}}
	for _, c := range cams {
		camRepo.byID[c.ID] = c
	}

	pln := &fakePlanner{
		plan: planner.Plan{Verdict: planner.VerdictConfirmedFall, SeveritySeed: 4, Confidence: 0.9, ReplanIntervalS: 5},
	}
	g := guard.New(nil)
	registry := incidents.NewRegistry()
	hub := timeline.NewHub()
	logger := timeline.NewLogger(data.TimelineModel{DB: db}, timeline.NewRing(100), hub, warehouse.NewSink(nil))
	camSvc := cameras.NewService(camRepo, &fakePolicyRepo{})
	exec := executor.New(&fakeNotifier{}, data.IncidentModel{DB: db}, data.ActionLogModel{DB: db}, logger, warehouse.NewSink(nil), registry)
	svc := incidents.NewService(
		data.IncidentModel{DB: db}, data.PlanModel{DB: db}, data.AgentNoteModel{DB: db},
		camSvc, pln, g, exec, logger, warehouse.NewSink(nil), registry,
	)
	router := triggers.NewRouter(data.IncidentModel{DB: db}, svc, camSvc, pln, g, exec, logger)

	text := &fakeTextModel{reply: "All quiet."}
	agentSvc := agent.NewService(data.AgentNoteModel{DB: db}, data.ChatLogModel{DB: db}, data.TimelineModel{DB: db}, camSvc, text, warehouse.NewSink(nil))
	mgr := tokens.NewManager("test-signing-key")

	handler := api.NewRouter(api.Handlers{
		Incidents:     api.NewIncidentHandler(svc, data.IncidentModel{DB: db}, data.PlanModel{DB: db}, data.TimelineModel{DB: db}),
		Cameras:       api.NewCameraHandler(camSvc),
		Triggers:      api.NewTriggerHandler(router),
		Twilio:        api.NewTwilioHandler(svc, "https://guard.example.com"),
		Agent:         api.NewAgentHandler(agentSvc),
		Accessibility: api.NewAccessibilityHandler(accessibility.NewService(nil, nil), svc),
		WS:            api.NewWSHandler(hub, mgr),
		Tokens:        api.NewTokenHandler(mgr),
		Health:        health.NewChecker(db, nil, nil),
	})

	t.Cleanup(registry.CancelAll)
	return &apiHarness{handler: handler, mock: mock, hub: hub, tokens: mgr, registry: registry, text: text}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func incidentRows(id, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "camera_id", "status", "verdict", "severity_seed", "severity_current", "risk_score",
		"time_down_s", "escalation_stage", "acknowledged", "ack_by", "confidence",
		"reasons_current", "summary_text", "plan_version", "language", "frames_b64",
		"created_at", "updated_at",
	}).AddRow(
		id, "cam-1", status, "CONFIRMED_FALL", 4, 4, 0.9,
		30.0, 0, false, nil, 0.85,
		[]byte(`["Person on floor"]`), "summary text", 2, "en", []byte(`["frame1"]`),
		time.Now(), time.Now(),
	)
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)
	h.mock.ExpectPing()

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestHealthz_DegradedWithoutPostgres(t *testing.T) {
	h := newAPIHarness(t)
	h.mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody(t, rec)["status"])
}

func TestGetIncident_NotFound(t *testing.T) {
	h := newAPIHarness(t)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := h.do(t, http.MethodGet, "/incidents/inc-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "incident not found", decodeBody(t, rec)["error"])
}

func TestListIncidents_FiltersAndEmptyArray(t *testing.T) {
	h := newAPIHarness(t)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").
		WithArgs("ACTIVE", 3, 10).
		WillReturnRows(incidentRows("inc-1", data.StatusActive))

	rec := h.do(t, http.MethodGet, "/incidents/?status=active&severity_min=3&limit=10", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var incs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &incs))
	require.Len(t, incs, 1)
	assert.Equal(t, "inc-1", incs[0]["id"])

	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	rec = h.do(t, http.MethodGet, "/incidents/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String(), "empty list is an array, not null")
}

func TestAckIncident(t *testing.T) {
	h := newAPIHarness(t)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(incidentRows("inc-1", data.StatusActive))
	h.mock.ExpectExec("UPDATE incidents").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1))

	rec := h.do(t, http.MethodPost, "/incidents/inc-1/ack", map[string]string{"ack_by": "caregiver"})
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "acknowledged", body["status"])
	assert.Equal(t, "inc-1", body["incident_id"])
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestFalseAlarmIncident(t *testing.T) {
	h := newAPIHarness(t)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(incidentRows("inc-1", data.StatusActive))
	h.mock.ExpectExec("UPDATE incidents").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1))

	rec := h.do(t, http.MethodPost, "/incidents/inc-1/false-alarm", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "closed", body["status"])
	assert.Equal(t, "false_alarm", body["reason"])
}

func TestIncidentSummary(t *testing.T) {
	h := newAPIHarness(t)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(incidentRows("inc-1", data.StatusActive))
	h.mock.ExpectQuery("SELECT(.+)FROM incident_plans").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "incident_id", "version", "model_used", "verdict", "severity_seed",
			"confidence", "reasons", "actions", "replan_interval_s", "created_at",
		}).AddRow(
			"plan-1", "inc-1", 2, "fast", "CONFIRMED_FALL", 4,
			0.85, []byte(`["Person on floor"]`), []byte(`[{"action_type":"SEND_SMS_PRIMARY"}]`), 5.0, time.Now(),
		))

	rec := h.do(t, http.MethodGet, "/incidents/inc-1/summary", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "summary text", body["summary"])
	assert.Equal(t, "CONFIRMED_FALL", body["verdict"])
	steps, ok := body["steps"].([]any)
	require.True(t, ok)
	require.Len(t, steps, 1)
}

func TestVisionFall_BadRequests(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/vision/fall", map[string]string{"frame_b64": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/vision/fall", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid JSON", decodeBody(t, w)["error"])
}

func TestVisionFall_UnknownCamera(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/vision/fall", map[string]string{"camera_id": "missing", "frame_b64": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "camera not found", decodeBody(t, rec)["error"])
}

func TestTelemetryFall_CreatesIncident(t *testing.T) {
	cam := &data.Camera{ID: "cam-1", Name: "Bedroom", Language: "en", SMSEnabled: true, PrimaryContact: "+15550100"}
	h := newAPIHarness(t, cam)

	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	h.mock.ExpectQuery("INSERT INTO incidents").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery("SELECT(.+)FROM agent_notes").
		WillReturnRows(sqlmock.NewRows([]string{"id", "camera_id", "incident_id", "kind", "note_text", "priority", "parsed_watchlist", "summary", "expires_at", "ts"}))
	h.mock.ExpectExec("UPDATE incidents").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery("INSERT INTO incident_plans").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1))

	rec := h.do(t, http.MethodPost, "/telemetry/fall", map[string]any{
		"camera_id": "cam-1", "motion_energy": 0.9, "stillness_score": 0.8,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["created"])
	assert.Equal(t, "ACTIVE", body["status"])
	assert.NotEmpty(t, body["incident_id"])
}

func TestPrevention_ReturnsRisk(t *testing.T) {
	cam := &data.Camera{ID: "cam-1", Name: "Bedroom"}
	h := newAPIHarness(t, cam)

	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1))

	hour := 12
	rec := h.do(t, http.MethodPost, "/telemetry/prevention", map[string]any{
		"camera_id": "cam-1", "frames_b64": []string{"f1"}, "current_hour": hour,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "cam-1", body["camera_id"])
	assert.Contains(t, body, "risk_score")
}

func TestCreateCamera(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/cameras/", map[string]any{"name": "Bedroom", "sms_enabled": true})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["id"])

	rec = h.do(t, http.MethodPost, "/cameras/", map[string]any{"room_type": "bedroom"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "name is required", decodeBody(t, rec)["error"])
}

func TestUpdateCamera_PreservesOmittedFields(t *testing.T) {
	cam := &data.Camera{ID: "cam-1", Name: "Bedroom", RoomType: "bedroom", PrimaryContact: "+15550100"}
	h := newAPIHarness(t, cam)

	rec := h.do(t, http.MethodPatch, "/cameras/cam-1", map[string]any{"room_type": "living_room"})
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "living_room", body["room_type"])
	assert.Equal(t, "Bedroom", body["name"])
	assert.Equal(t, "+15550100", body["primary_contact"])
}

func TestOnboardingStatus(t *testing.T) {
	h := newAPIHarness(t,
		&data.Camera{ID: "cam-ready", Name: "A", MonitoringType: "elderly", PrimaryContact: "+15550100"},
		&data.Camera{ID: "cam-bare", Name: "B"},
	)

	rec := h.do(t, http.MethodGet, "/cameras/cam-ready/onboarding", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["complete"])

	rec = h.do(t, http.MethodGet, "/cameras/cam-bare/onboarding", nil)
	assert.Equal(t, false, decodeBody(t, rec)["complete"])
}

func TestTwilioVoice_UnknownIncident(t *testing.T) {
	h := newAPIHarness(t)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := h.do(t, http.MethodPost, "/twilio/voice/inc-missing", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Incident not found.")
}

func TestTwilioVoice_ServesMenu(t *testing.T) {
	h := newAPIHarness(t)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(incidentRows("inc-1", data.StatusActive))

	rec := h.do(t, http.MethodPost, "/twilio/voice/inc-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Gather")
	assert.Contains(t, rec.Body.String(), "/twilio/dtmf/inc-1")
}

func postForm(t *testing.T, h *apiHarness, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestTwilioDTMF_AckDigit(t *testing.T) {
	h := newAPIHarness(t)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(incidentRows("inc-1", data.StatusActive))
	h.mock.ExpectExec("UPDATE incidents").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1))

	rec := postForm(t, h, "/twilio/dtmf/inc-1", url.Values{"Digits": {"1"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Acknowledged. Escalation cancelled. Thank you.")
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestTwilioDTMF_FalseAlarmDigit(t *testing.T) {
	h := newAPIHarness(t)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(incidentRows("inc-1", data.StatusActive))
	h.mock.ExpectExec("UPDATE incidents").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1))

	rec := postForm(t, h, "/twilio/dtmf/inc-1", url.Values{"Digits": {"4"}})
	assert.Contains(t, rec.Body.String(), "Marked as false alarm. Incident closed.")
}

func TestTwilioDTMF_InvalidDigit(t *testing.T) {
	h := newAPIHarness(t)
	rec := postForm(t, h, "/twilio/dtmf/inc-1", url.Values{"Digits": {"9"}})
	assert.Contains(t, rec.Body.String(), "Invalid option. Goodbye.")
}

func TestAgentChat_ModelDown(t *testing.T) {
	h := newAPIHarness(t)
	h.text.err = errors.New("api timeout")

	rec := h.do(t, http.MethodPost, "/agent/chat", map[string]string{"message": "how is mom?"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "chat model unavailable", decodeBody(t, rec)["error"])
}

func TestAgentChat_RepliesAndLogs(t *testing.T) {
	h := newAPIHarness(t)
	h.mock.ExpectExec("INSERT INTO chat_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO chat_logs").WillReturnResult(sqlmock.NewResult(0, 1))

	rec := h.do(t, http.MethodPost, "/agent/chat", map[string]string{"message": "any falls today?"})
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "All quiet.", body["reply"])
	assert.NotEmpty(t, body["session_id"])
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestAgentNotes_Validation(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/agent/notes", map[string]string{"camera_id": "cam-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "text is required", decodeBody(t, rec)["error"])

	rec = h.do(t, http.MethodGet, "/agent/notes", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "camera_id is required", decodeBody(t, rec)["error"])
}

func TestAddNote(t *testing.T) {
	h := newAPIHarness(t)
	h.mock.ExpectExec("INSERT INTO agent_notes").WillReturnResult(sqlmock.NewResult(0, 1))

	rec := h.do(t, http.MethodPost, "/agent/notes", map[string]string{
		"camera_id": "cam-1", "text": "prefers SMS over calls",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "observation", body["kind"], "kind defaults when omitted")
	assert.Equal(t, "medium", body["priority"], "priority defaults when omitted")
	assert.Nil(t, body["expires_at"], "no TTL means the note never expires")
}

func TestAddNote_GlobalWithTTL(t *testing.T) {
	h := newAPIHarness(t)
	h.text.reply = `{"summary": "Watch for night wandering", "parsed_watchlist": {"conditions": ["night wandering"], "risk_factors": [], "special_instructions": [], "urgency": "high"}}`
	h.mock.ExpectExec("INSERT INTO agent_notes").WillReturnResult(sqlmock.NewResult(0, 1))

	rec := h.do(t, http.MethodPost, "/agent/notes", map[string]any{
		"text": "she wanders at night, watch all rooms", "priority": "high", "ttl_minutes": 30,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Empty(t, body["camera_id"], "omitted camera makes the note global")
	assert.Equal(t, "high", body["priority"])
	assert.Equal(t, "Watch for night wandering", body["summary"])
	assert.NotEmpty(t, body["expires_at"])
}

func TestSpeak_UnavailableWithoutSynthesis(t *testing.T) {
	h := newAPIHarness(t)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(incidentRows("inc-1", data.StatusActive))

	rec := h.do(t, http.MethodPost, "/accessibility/speak", map[string]string{"incident_id": "inc-1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "speech synthesis unavailable", decodeBody(t, rec)["error"])
}

func TestStreamToken_Endpoint(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/tokens/stream", map[string]any{"subject": "caregiver-1", "ttl_s": 60})
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.InDelta(t, 60, body["expires_in"].(float64), 0.1)

	claims, err := h.tokens.ValidateStreamToken(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "caregiver-1", claims.Subject)
}

func TestWSTimeline_RejectsBadTokens(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/ws/timeline", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/ws/timeline?token=not.a.jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWSTimeline_StreamsBroadcasts(t *testing.T) {
	h := newAPIHarness(t)
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	token, err := h.tokens.GenerateStreamToken("caregiver-1", "", time.Minute)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/timeline?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	// The subscription races the dial return; keep broadcasting until the
	// client sees a frame.
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				h.hub.Broadcast([]byte(`{"type":"SEVERITY_TICK"}`))
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"SEVERITY_TICK"}`, string(msg))
}
