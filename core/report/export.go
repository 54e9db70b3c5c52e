package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/course"
)

var (
	// errors
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrEmptyDataset      = errors.New("course has no sessions or no enrolled students")
	ErrExportTimeout     = errors.New("export timed out")
)

type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
	FormatPDF   Format = "pdf"
)

// ParseFormat normalizes a client-supplied format string.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatExcel, "xlsx":
		return FormatExcel, nil
	case FormatPDF:
		return FormatPDF, nil
	}
	return "", ErrUnsupportedFormat
}

// File is a fully generated export. Exporters either complete a well-formed
// file or return an error with no payload; partial output is never surfaced.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// ExportMatrix serializes a course attendance matrix into the requested format.
func ExportMatrix(ctx context.Context, m attendance.Matrix, format Format) (File, error) {
	if len(m.Sessions) == 0 || len(m.Students) == 0 {
		return File{}, ErrEmptyDataset
	}
	header, rows := matrixTable(m)
	name := fmt.Sprintf("%s_attendance_report", m.Course.Code)
	title := fmt.Sprintf("Attendance Report - %s: %s", m.Course.Code, m.Course.Name)

	switch format {
	case FormatCSV:
		return exportCSV(ctx, name, header, rows)
	case FormatExcel:
		return exportExcel(ctx, name, header, rows)
	case FormatPDF:
		return exportPDF(ctx, name, title, matrixSubtitle(m), header, rows)
	}
	return File{}, ErrUnsupportedFormat
}

// ExportHistory serializes one student's attendance history for a course.
func ExportHistory(
	ctx context.Context,
	hist attendance.History,
	sessions []attendance.Session,
	crs course.Course,
	format Format,
) (File, error) {
	if len(sessions) == 0 || len(hist.Records) == 0 {
		return File{}, ErrEmptyDataset
	}
	header, rows := historyTable(hist, sessions, crs)
	name := fmt.Sprintf("%s_attendance_history", hist.StudentID)
	title := fmt.Sprintf("Attendance History - %s", crs.Code)

	switch format {
	case FormatCSV:
		return exportCSV(ctx, name, header, rows)
	case FormatExcel:
		return exportExcel(ctx, name, header, rows)
	case FormatPDF:
		subtitle := fmt.Sprintf("Course: %s: %s", crs.Code, crs.Name)
		return exportPDF(ctx, name, title, subtitle, header, rows)
	}
	return File{}, ErrUnsupportedFormat
}

const (
	timestampLayout = "2006-01-02 15:04"
	dateLayout      = "2006-01-02"
)

// matrixTable flattens a matrix into a header and data rows. Pure: identical
// matrices flatten to identical tables.
func matrixTable(m attendance.Matrix) ([]string, [][]string) {
	header := make([]string, 0, len(m.Sessions)+8)
	header = append(header, "Student ID", "Name")
	for _, sess := range m.Sessions {
		header = append(header, fmt.Sprintf("%s - %s", sess.ScheduledStart.Format(dateLayout), sess.Name))
	}
	header = append(header, "Total Sessions", "Present", "Late", "Absent", "Excused", "Attendance Rate (%)")

	rows := make([][]string, 0, len(m.Students))
	for i, stu := range m.Students {
		row := make([]string, 0, len(header))
		row = append(row, stu.Username, stu.Name)

		var present, late, absent, excused int
		for _, status := range m.Cells[i] {
			row = append(row, string(status))
			switch status {
			case attendance.StatusPresent:
				present++
			case attendance.StatusLate:
				late++
			case attendance.StatusExcused:
				excused++
			default:
				absent++
			}
		}

		var rate float64
		if denom := len(m.Sessions) - excused; denom > 0 {
			rate = float64(present+late) / float64(denom) * 100
		}
		row = append(row,
			fmt.Sprintf("%d", len(m.Sessions)),
			fmt.Sprintf("%d", present),
			fmt.Sprintf("%d", late),
			fmt.Sprintf("%d", absent),
			fmt.Sprintf("%d", excused),
			fmt.Sprintf("%.2f", rate),
		)
		rows = append(rows, row)
	}
	return header, rows
}

func historyTable(hist attendance.History, sessions []attendance.Session, crs course.Course) ([]string, [][]string) {
	header := []string{"Date", "Course Code", "Course Name", "Session", "Status", "Checked In At"}

	byID := make(map[string]attendance.Session, len(sessions))
	for _, sess := range sessions {
		byID[sess.ID] = sess
	}

	rows := make([][]string, 0, len(hist.Records))
	for _, rec := range hist.Records {
		sess := byID[rec.SessionID]
		rows = append(rows, []string{
			sess.ScheduledStart.Format(dateLayout),
			crs.Code,
			crs.Name,
			sess.Name,
			string(rec.Status),
			rec.Timestamp.Format(timestampLayout),
		})
	}
	return header, rows
}

func matrixSubtitle(m attendance.Matrix) string {
	first := m.Sessions[0].ScheduledStart
	last := m.Sessions[len(m.Sessions)-1].ScheduledStart
	return fmt.Sprintf("%s to %s - %d students, %d sessions",
		first.Format(dateLayout), last.Format(dateLayout), len(m.Students), len(m.Sessions))
}

// checkDeadline converts context expiry into ErrExportTimeout so that callers
// never receive partial data.
func checkDeadline(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrExportTimeout
	default:
		return nil
	}
}
