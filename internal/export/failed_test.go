package export

import (
	"testing"
	"time"

	"fieldsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestFailedOperationsReport(t *testing.T) {
	e := NewExporter(t.TempDir(), testLogger())

	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	ops := []*models.QueuedOperation{
		{
			ID:         "op-1",
			Type:       models.OpNoteUpdate,
			Payload:    []byte(`{"parcel_key":"p1"}`),
			Status:     models.StatusFailed,
			RetryCount: 5,
			MaxRetries: 5,
			Errors:     []string{"timeout", "timeout", "server rejected"},
			Priority:   2,
			CreatedAt:  now,
			UpdatedAt:  now.Add(10 * time.Minute),
		},
	}

	path, err := e.FailedOperations(ops)
	require.NoError(t, err)
	require.NotEmpty(t, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Failed operations")
	require.NoError(t, err)
	require.Len(t, rows, 2, "header plus one operation")

	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "op-1", rows[1][0])
	assert.Equal(t, models.OpNoteUpdate, rows[1][1])
	assert.Equal(t, "p1", rows[1][2])
	assert.Equal(t, "5/5", rows[1][4])
	assert.Contains(t, rows[1][7], "server rejected")
}

func TestEmptyReportStillWritesFile(t *testing.T) {
	e := NewExporter(t.TempDir(), testLogger())

	path, err := e.FailedOperations(nil)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Failed operations")
	require.NoError(t, err)
	require.Len(t, rows, 1, "headers only")
}
