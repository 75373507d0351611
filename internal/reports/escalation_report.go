package reports

import (
	"fmt"
	"io"
	"time"

	"authorization-service/internal/models"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const (
	EscalationSheet = "Escalations"
	SummarySheet    = "Summary"

	// ContentType is the MIME type of the generated workbook
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var escalationColumns = []struct {
	title string
	width float64
}{
	{"Workflow ID", 38},
	{"Title", 36},
	{"Workflow Type", 20},
	{"Amount", 14},
	{"Status", 22},
	{"Escalation Type", 18},
	{"Trigger Hours", 14},
	{"Target User", 38},
	{"Previous Approver", 38},
	{"Message", 60},
	{"Created At", 22},
}

// BuildEscalationReport lays out escalation records as a workbook. Workflow
// details are filled in from workflows when present.
func BuildEscalationReport(records []models.EscalationRecord, workflows map[uuid.UUID]models.Workflow, generatedAt time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", EscalationSheet); err != nil {
		f.Close()
		return nil, err
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	criticalStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "C00000"},
	})

	for i, col := range escalationColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(EscalationSheet, cell, col.title)
		f.SetCellStyle(EscalationSheet, cell, cell, headerStyle)
		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(EscalationSheet, colName, colName, col.width)
	}

	counts := map[string]int{}
	for i, r := range records {
		row := i + 2
		counts[r.EscalationType]++

		w, known := workflows[r.WorkflowID]
		previous := ""
		if r.PreviousApprover != nil {
			previous = r.PreviousApprover.String()
		}
		values := []interface{}{
			r.WorkflowID.String(), "", "", "", "",
			r.EscalationType, r.TriggerHours, r.TargetUserID.String(), previous, r.Message,
			r.CreatedAt.UTC().Format(time.RFC3339),
		}
		if known {
			values[1], values[2], values[3], values[4] = w.Title, w.WorkflowType, w.Amount, w.Status
		}

		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(EscalationSheet, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", row, err)
		}
		if r.EscalationType == models.EscalationTypeFinalEscalation {
			end, _ := excelize.CoordinatesToCellName(len(escalationColumns), row)
			f.SetCellStyle(EscalationSheet, cell, end, criticalStyle)
		}
	}

	f.NewSheet(SummarySheet)
	f.SetCellValue(SummarySheet, "A1", "Escalation Report")
	f.SetCellValue(SummarySheet, "A2", "Generated At")
	f.SetCellValue(SummarySheet, "B2", generatedAt.UTC().Format(time.RFC3339))
	f.SetCellValue(SummarySheet, "A4", "Escalation Type")
	f.SetCellValue(SummarySheet, "B4", "Count")
	f.SetCellStyle(SummarySheet, "A4", "B4", headerStyle)
	for i, t := range []string{models.EscalationTypeReminder, models.EscalationTypeEscalation, models.EscalationTypeFinalEscalation} {
		row := i + 5
		f.SetCellValue(SummarySheet, fmt.Sprintf("A%d", row), t)
		f.SetCellValue(SummarySheet, fmt.Sprintf("B%d", row), counts[t])
	}
	f.SetCellValue(SummarySheet, "A8", "Total")
	f.SetCellValue(SummarySheet, "B8", len(records))
	f.SetColWidth(SummarySheet, "A", "A", 22)
	f.SetColWidth(SummarySheet, "B", "B", 26)

	sheetIdx, _ := f.GetSheetIndex(EscalationSheet)
	f.SetActiveSheet(sheetIdx)
	return f, nil
}

// WriteEscalationReport builds the workbook and writes it to w
func WriteEscalationReport(w io.Writer, records []models.EscalationRecord, workflows map[uuid.UUID]models.Workflow, generatedAt time.Time) error {
	f, err := BuildEscalationReport(records, workflows, generatedAt)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}
