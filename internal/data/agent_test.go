package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/camguard/internal/data"
)

func newAgentNoteRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "camera_id", "incident_id", "kind", "note_text",
		"priority", "parsed_watchlist", "summary", "expires_at", "ts",
	})
}

func TestAgentNoteCreate_Defaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := data.AgentNoteModel{DB: db}
	mock.ExpectExec("INSERT INTO agent_notes").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "observation",
			"keep the bed rail up", "medium", nil, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n := &data.AgentNote{CameraID: "cam-1", Kind: "observation", Text: "keep the bed rail up"}
	require.NoError(t, m.Create(context.Background(), n))

	assert.NotEmpty(t, n.ID, "id should be generated")
	assert.Equal(t, "medium", n.Priority)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAgentNoteListActiveForCamera_ScopeAndExpiry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := data.AgentNoteModel{DB: db}
	expires := time.Now().Add(time.Hour).UTC()
	rows := newAgentNoteRows().
		AddRow("n-1", "cam-1", nil, "instruction", "watch for night wandering",
			"high", []byte(`{"conditions":["night wandering"]}`), "Night wandering watch", expires, time.Now()).
		AddRow("n-2", nil, nil, "instruction", "call family before 911",
			"medium", nil, "", nil, time.Now())

	mock.ExpectQuery(`SELECT(.+)FROM agent_notes(.+)camera_id = \$1 OR camera_id IS NULL(.+)expires_at IS NULL OR expires_at > NOW\(\)`).
		WithArgs("cam-1", 10).
		WillReturnRows(rows)

	notes, err := m.ListActiveForCamera(context.Background(), "cam-1", 10)
	require.NoError(t, err)
	require.Len(t, notes, 2)

	assert.Equal(t, "cam-1", notes[0].CameraID)
	assert.Equal(t, []any{"night wandering"}, notes[0].ParsedWatchlist["conditions"])
	require.NotNil(t, notes[0].ExpiresAt)
	assert.WithinDuration(t, expires, *notes[0].ExpiresAt, time.Second)

	assert.Empty(t, notes[1].CameraID, "global note carries no camera")
	assert.Nil(t, notes[1].ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAgentNoteListByCamera_KeepsExpiredNotes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := data.AgentNoteModel{DB: db}
	past := time.Now().Add(-time.Hour).UTC()
	rows := newAgentNoteRows().
		AddRow("n-3", "cam-1", "inc-1", "observation", "slept through the night",
			"low", nil, "", past, time.Now())

	mock.ExpectQuery(`SELECT(.+)FROM agent_notes(.+)WHERE camera_id = \$1`).
		WithArgs("cam-1", 50).
		WillReturnRows(rows)

	notes, err := m.ListByCamera(context.Background(), "cam-1", 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "inc-1", notes[0].IncidentID)
	require.NotNil(t, notes[0].ExpiresAt, "expired notes stay visible in history")
	assert.NoError(t, mock.ExpectationsWereMet())
}
