package incidents_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/camguard/internal/cameras"
	"github.com/technosupport/camguard/internal/data"
	"github.com/technosupport/camguard/internal/executor"
	"github.com/technosupport/camguard/internal/guard"
	"github.com/technosupport/camguard/internal/incidents"
	"github.com/technosupport/camguard/internal/planner"
	"github.com/technosupport/camguard/internal/timeline"
	"github.com/technosupport/camguard/internal/warehouse"
)

// -- fakes -------------------------------------------------------------

type fakePlanner struct {
	plan     planner.Plan
	fellBack bool
	strong   planner.Plan
	calls    int
}

func (f *fakePlanner) PlanIncident(ctx context.Context, req planner.IncidentRequest) (planner.Plan, bool) {
	f.calls++
	return f.plan, f.fellBack
}

func (f *fakePlanner) PlanStrong(ctx context.Context, framesB64 []string, motion, stillness float64, current planner.Plan, state planner.IncidentState) (planner.Plan, error) {
	return f.strong, nil
}

type fakeNotifier struct {
	sms   []string
	calls []string
}

func (f *fakeNotifier) SendSMS(ctx context.Context, to, body string) (string, error) {
	f.sms = append(f.sms, body)
	return "SM1", nil
}

func (f *fakeNotifier) StartVoiceCall(ctx context.Context, to, incidentID string) (string, error) {
	f.calls = append(f.calls, incidentID)
	return "CA1", nil
}

type fakeCamRepo struct{ cam *data.Camera }

func (f *fakeCamRepo) Create(ctx context.Context, c *data.Camera) error { return nil }
func (f *fakeCamRepo) GetByID(ctx context.Context, id string) (*data.Camera, error) {
	if f.cam == nil || f.cam.ID != id {
		return nil, data.ErrRecordNotFound
	}
	return f.cam, nil
}
func (f *fakeCamRepo) List(ctx context.Context) ([]*data.Camera, error)  { return nil, nil }
func (f *fakeCamRepo) Update(ctx context.Context, c *data.Camera) error  { return nil }
func (f *fakeCamRepo) UpdateConfig(ctx context.Context, id string, config map[string]any) error {
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

// -- harness -----------------------------------------------------------

type harness struct {
	svc      *incidents.Service
	mock     sqlmock.Sqlmock
	notifier *fakeNotifier
	planner  *fakePlanner
	guard    *guard.Guard
	registry *incidents.Registry
}

func newHarness(t *testing.T, cam *data.Camera) *harness {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	notifier := &fakeNotifier{}
	pln := &fakePlanner{}
	g := guard.New(nil)
	registry := incidents.NewRegistry()
	logger := timeline.NewLogger(data.TimelineModel{DB: db}, timeline.NewRing(100), timeline.NewHub(), warehouse.NewSink(nil))
	camSvc := cameras.NewService(&fakeCamRepo{cam: cam}, &fakePolicyRepo{})
	exec := executor.New(notifier, data.IncidentModel{DB: db}, data.ActionLogModel{DB: db}, logger, warehouse.NewSink(nil), registry)

	svc := incidents.NewService(
		data.IncidentModel{DB: db}, data.PlanModel{DB: db}, data.AgentNoteModel{DB: db},
		camSvc, pln, g, exec, logger, warehouse.NewSink(nil), registry,
	)
	return &harness{svc: svc, mock: mock, notifier: notifier, planner: pln, guard: g, registry: registry}
}

func incidentRow(id, status string, stage int, acked bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "camera_id", "status", "verdict", "severity_seed", "severity_current", "risk_score",
		"time_down_s", "escalation_stage", "acknowledged", "ack_by", "confidence",
		"reasons_current", "summary_text", "plan_version", "language", "frames_b64",
		"created_at", "updated_at",
	}).AddRow(
		id, "cam-1", status, "POSSIBLE_FALL", 3, 3, 0.8,
		12.0, stage, acked, nil, 0.6,
		[]byte(`["Motion spike followed by stillness"]`), "summary", 1, "en", []byte(`[]`),
		time.Now(), time.Now(),
	)
}

// -- tests -------------------------------------------------------------

func TestAck_TransitionsActiveIncident(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(incidentRow("inc-1", data.StatusActive, 0, false))
	h.mock.ExpectExec("UPDATE incidents").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1))

	inc, err := h.svc.Ack(context.Background(), "inc-1", "caregiver", true)
	require.NoError(t, err)
	assert.Equal(t, data.StatusAcked, inc.Status)
	assert.True(t, inc.Acknowledged)
	assert.Equal(t, "caregiver", inc.AckBy)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestAck_TerminalIncidentIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(incidentRow("inc-1", data.StatusClosed, 0, true))

	inc, err := h.svc.Ack(context.Background(), "inc-1", "caregiver", true)
	require.NoError(t, err)
	assert.Equal(t, data.StatusClosed, inc.Status)
	assert.NoError(t, h.mock.ExpectationsWereMet(), "no writes on a terminal incident")
}

func TestAck_UnknownIncident(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := h.svc.Ack(context.Background(), "missing", "caregiver", true)
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
}

func TestFalseAlarm_ClosesAndResetsGuard(t *testing.T) {
	h := newHarness(t, nil)

	// Spend the camera's contact budget so the reset is observable.
	h.guard.Review("cam-1", []planner.Action{{Type: planner.ActionSendSMSPrimary}}, guard.CameraCaps{SMSEnabled: true}, false, 0)
	require.False(t, h.guard.State("cam-1").LastContactAt.IsZero())

	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(incidentRow("inc-1", data.StatusActive, 0, false))
	h.mock.ExpectExec("UPDATE incidents").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1))

	inc, err := h.svc.FalseAlarm(context.Background(), "inc-1", "false_alarm_dtmf")
	require.NoError(t, err)
	assert.Equal(t, data.StatusClosed, inc.Status)
	assert.Equal(t, planner.VerdictFalseAlarm, inc.Verdict)
	assert.True(t, h.guard.State("cam-1").LastContactAt.IsZero(), "guard state should be cleared")
}

func TestEscalate_CappedAtMaxStage(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(incidentRow("inc-1", data.StatusActive, 2, false))

	inc, err := h.svc.Escalate(context.Background(), "inc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, inc.EscalationStage)
	assert.NoError(t, h.mock.ExpectationsWereMet(), "no write when already at the cap")
}

func TestEscalate_BumpsStage(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.ExpectQuery("SELECT(.+)FROM incidents").WillReturnRows(incidentRow("inc-1", data.StatusActive, 0, false))
	h.mock.ExpectExec("UPDATE incidents").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1))

	inc, err := h.svc.Escalate(context.Background(), "inc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, inc.EscalationStage)
}

func TestRunFirstPlan_FullFlow(t *testing.T) {
	cam := &data.Camera{
		ID: "cam-1", Name: "Bedroom", RoomType: "bedroom",
		SMSEnabled: true, VoiceEnabled: true,
		PrimaryContact: "+15550100", BackupContact: "+15550101",
	}
	h := newHarness(t, cam)
	h.planner.plan = planner.Plan{
		Verdict:         planner.VerdictConfirmedFall,
		SeveritySeed:    4,
		Confidence:      0.9,
		Reasons:         []string{"Person on floor"},
		Actions:         []planner.Action{{Type: planner.ActionSendSMSPrimary}},
		ReplanIntervalS: 5,
	}

	h.mock.ExpectQuery("SELECT(.+)FROM agent_notes").
		WillReturnRows(sqlmock.NewRows([]string{"id", "camera_id", "incident_id", "kind", "note_text", "priority", "parsed_watchlist", "summary", "expires_at", "ts"}))
	h.mock.ExpectExec("UPDATE incidents").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery("INSERT INTO incident_plans").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1)) // PLAN_CREATED
	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1)) // PLAN_APPROVED
	h.mock.ExpectExec("INSERT INTO action_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO incident_timeline").WillReturnResult(sqlmock.NewResult(0, 1)) // ACTION_EXECUTED

	inc := &data.Incident{ID: "inc-1", CameraID: "cam-1", Status: data.StatusActive, Language: "en"}
	h.svc.RunFirstPlan(context.Background(), inc, cam, 0.9, 0.8)
	assert.Equal(t, 1, h.registry.ActiveCount(), "controller should be running")
	h.registry.Cancel("inc-1")

	assert.Equal(t, 1, h.planner.calls)
	assert.Equal(t, 4, inc.SeverityCurrent)
	assert.Equal(t, planner.VerdictConfirmedFall, inc.Verdict)
	require.Len(t, h.notifier.sms, 1)
	assert.Contains(t, h.notifier.sms[0], "CamGuard Alert")
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestSummary_Format(t *testing.T) {
	inc := &data.Incident{
		Verdict:         planner.VerdictConfirmedFall,
		SeverityCurrent: 4,
		TimeDownS:       33,
		ReasonsCurrent:  []string{"Person on floor", "No movement"},
		EscalationStage: 1,
	}
	got := incidents.Summary(inc)
	assert.Equal(t, "CONFIRMED_FALL detected (severity 4/5). Time since event: 33s. Person on floor; No movement. Escalation stage 1. Status: not yet acknowledged.", got)

	inc.Acknowledged = true
	inc.ReasonsCurrent = nil
	got = incidents.Summary(inc)
	assert.Contains(t, got, "Monitoring in progress")
	assert.Contains(t, got, "Status: acknowledged.")
}
