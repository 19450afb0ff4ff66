package records

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"freelance-market/dispute-court/dispute-court-backend/internal/hearings"
)

const (
	attendanceSheet = "Attendance"
	summarySheet    = "Summary"
)

var attendanceColumns = []string{
	"Participant", "User", "Role", "Required", "Joined", "Attendance (min)", "Late (min)", "Class", "No show",
}

// RenderAttendance writes the attendance summary as an xlsx workbook
func RenderAttendance(summary *hearings.AttendanceSummary) ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", attendanceSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	dateStyle, err := file.NewStyle(&excelize.Style{NumFmt: 22})
	if err != nil {
		return nil, fmt.Errorf("failed to create date style: %w", err)
	}

	for i, col := range attendanceColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := file.SetCellValue(attendanceSheet, cell, col); err != nil {
			return nil, err
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(attendanceColumns), 1)
	if err := file.SetCellStyle(attendanceSheet, "A1", lastHeader, headerStyle); err != nil {
		return nil, err
	}

	for i, rec := range summary.Records {
		row := i + 2
		values := []interface{}{
			rec.ParticipantID.String(),
			rec.UserID.String(),
			string(rec.Role),
			rec.IsRequired,
			nil,
			rec.AttendanceMinutes,
			rec.LateMinutes,
			string(rec.Class),
			rec.IsNoShow,
		}
		if rec.JoinedAt != nil {
			values[4] = *rec.JoinedAt
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := file.SetSheetRow(attendanceSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write attendance row: %w", err)
		}
		joined, _ := excelize.CoordinatesToCellName(5, row)
		if err := file.SetCellStyle(attendanceSheet, joined, joined, dateStyle); err != nil {
			return nil, err
		}
	}

	_ = file.SetColWidth(attendanceSheet, "A", "B", 38)
	_ = file.SetColWidth(attendanceSheet, "C", "I", 16)
	if err := file.SetPanes(attendanceSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}
	if len(summary.Records) > 0 {
		if err := file.AutoFilter(attendanceSheet, "A1:"+lastHeader, nil); err != nil {
			return nil, err
		}
	}

	if _, err := file.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}
	rows := [][]interface{}{
		{"Hearing", summary.HearingID.String()},
		{"Status", string(summary.Status)},
		{"Scheduled", summary.ScheduledAt},
		{"Generated", summary.GeneratedAt},
		{"On time", summary.OnTime},
		{"Late", summary.Late},
		{"Very late", summary.VeryLate},
		{"No shows", summary.NoShows},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := file.SetSheetRow(summarySheet, cell, &r); err != nil {
			return nil, err
		}
	}
	_ = file.SetCellStyle(summarySheet, "B3", "B4", dateStyle)
	_ = file.SetColWidth(summarySheet, "A", "A", 14)
	_ = file.SetColWidth(summarySheet, "B", "B", 38)

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
