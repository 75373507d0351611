package reports

import (
	"bytes"
	"testing"
	"time"

	"authorization-service/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteEscalationReport(t *testing.T) {
	at := time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)
	w := models.Workflow{ID: uuid.New(), Title: "Credit release phase 2", WorkflowType: models.WorkflowTypeLiberacionCredito, Amount: 750000, Status: models.StatusEscalado}
	previous := uuid.New()
	records := []models.EscalationRecord{
		{WorkflowID: w.ID, EscalationType: models.EscalationTypeReminder, TriggerHours: 6, TargetUserID: previous, Message: "reminder", CreatedAt: at},
		{WorkflowID: w.ID, EscalationType: models.EscalationTypeEscalation, TriggerHours: 48, TargetUserID: uuid.New(), PreviousApprover: &previous, Message: "escalated", CreatedAt: at},
		{WorkflowID: uuid.New(), EscalationType: models.EscalationTypeFinalEscalation, TriggerHours: 96, TargetUserID: uuid.New(), CreatedAt: at},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteEscalationReport(&buf, records, map[uuid.UUID]models.Workflow{w.ID: w}, at))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(EscalationSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Workflow ID", rows[0][0])
	assert.Equal(t, w.ID.String(), rows[1][0])
	assert.Equal(t, "Credit release phase 2", rows[1][1])
	assert.Equal(t, "6", rows[1][6])
	assert.Equal(t, previous.String(), rows[2][8])
	assert.Equal(t, "", rows[3][1])

	total, err := f.GetCellValue(SummarySheet, "B8")
	require.NoError(t, err)
	assert.Equal(t, "3", total)
	reminders, err := f.GetCellValue(SummarySheet, "B5")
	require.NoError(t, err)
	assert.Equal(t, "1", reminders)
}
