package report_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/course"
	"github.com/trezcool/mahudhurio/core/report"
	"github.com/trezcool/mahudhurio/core/user"
)

func testMatrix() attendance.Matrix {
	return attendance.Matrix{
		Course: course.Course{ID: "c1", Code: "CS101", Name: "Intro to CS"},
		Sessions: []attendance.Session{
			{ID: "s1", Name: "Lecture 1", ScheduledStart: time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC)},
			{ID: "s2", Name: "Lecture 2", ScheduledStart: time.Date(2021, 3, 8, 10, 0, 0, 0, time.UTC)},
		},
		Students: []user.User{
			{ID: "u1", Username: "S001", Name: "Eve Classmate"},
			{ID: "u2", Username: "S002", Name: "John Student"},
		},
		Cells: [][]attendance.Status{
			{attendance.StatusPresent, attendance.StatusExcused},
			{attendance.StatusLate, attendance.StatusAbsent},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    report.Format
		wantErr error
	}{
		{in: "csv", want: report.FormatCSV},
		{in: " CSV ", want: report.FormatCSV},
		{in: "excel", want: report.FormatExcel},
		{in: "xlsx", want: report.FormatExcel},
		{in: "pdf", want: report.FormatPDF},
		{in: "docx", wantErr: report.ErrUnsupportedFormat},
		{in: "", wantErr: report.ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := report.ParseFormat(tt.in)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExportMatrixCSV(t *testing.T) {
	file, err := report.ExportMatrix(context.Background(), testMatrix(), report.FormatCSV)
	assert.NoError(t, err)
	assert.Equal(t, "CS101_attendance_report.csv", file.Name)
	assert.Equal(t, "text/csv", file.ContentType)

	want := "Student ID,Name,2021-03-01 - Lecture 1,2021-03-08 - Lecture 2," +
		"Total Sessions,Present,Late,Absent,Excused,Attendance Rate (%)\n" +
		"S001,Eve Classmate,PRESENT,EXCUSED,2,1,0,0,1,100.00\n" +
		"S002,John Student,LATE,ABSENT,2,0,1,1,0,50.00\n"
	assert.Equal(t, want, string(file.Data))
}

func TestExportMatrixCSVDeterministic(t *testing.T) {
	f1, err := report.ExportMatrix(context.Background(), testMatrix(), report.FormatCSV)
	assert.NoError(t, err)
	f2, err := report.ExportMatrix(context.Background(), testMatrix(), report.FormatCSV)
	assert.NoError(t, err)
	assert.Equal(t, f1.Data, f2.Data)
}

func TestExportMatrixExcel(t *testing.T) {
	file, err := report.ExportMatrix(context.Background(), testMatrix(), report.FormatExcel)
	assert.NoError(t, err)
	assert.Equal(t, "CS101_attendance_report.xlsx", file.Name)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", file.ContentType)
	// xlsx files are zip archives
	assert.True(t, bytes.HasPrefix(file.Data, []byte("PK")))
}

func TestExportMatrixPDF(t *testing.T) {
	file, err := report.ExportMatrix(context.Background(), testMatrix(), report.FormatPDF)
	assert.NoError(t, err)
	assert.Equal(t, "CS101_attendance_report.pdf", file.Name)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, bytes.HasPrefix(file.Data, []byte("%PDF")))
}

func TestExportMatrixEmptyDataset(t *testing.T) {
	m := testMatrix()
	m.Sessions = nil
	_, err := report.ExportMatrix(context.Background(), m, report.FormatCSV)
	assert.Equal(t, report.ErrEmptyDataset, err)

	m = testMatrix()
	m.Students = nil
	_, err = report.ExportMatrix(context.Background(), m, report.FormatCSV)
	assert.Equal(t, report.ErrEmptyDataset, err)
}

func TestExportMatrixUnsupportedFormat(t *testing.T) {
	_, err := report.ExportMatrix(context.Background(), testMatrix(), report.Format("docx"))
	assert.Equal(t, report.ErrUnsupportedFormat, err)
}

func TestExportMatrixCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, format := range []report.Format{report.FormatCSV, report.FormatExcel, report.FormatPDF} {
		t.Run(string(format), func(t *testing.T) {
			file, err := report.ExportMatrix(ctx, testMatrix(), format)
			assert.Equal(t, report.ErrExportTimeout, err)
			assert.Empty(t, file.Data)
		})
	}
}

func TestExportHistory(t *testing.T) {
	crs := course.Course{ID: "c1", Code: "CS101", Name: "Intro to CS"}
	sessions := []attendance.Session{
		{ID: "s1", Name: "Lecture 1", ScheduledStart: time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC)},
	}
	hist := attendance.History{
		StudentID: "u2",
		Records: []attendance.CheckInRecord{
			{
				ID:        "r1",
				SessionID: "s1",
				StudentID: "u2",
				Status:    attendance.StatusPresent,
				Timestamp: time.Date(2021, 3, 1, 10, 5, 0, 0, time.UTC),
			},
		},
	}

	file, err := report.ExportHistory(context.Background(), hist, sessions, crs, report.FormatCSV)
	assert.NoError(t, err)
	assert.Equal(t, "u2_attendance_history.csv", file.Name)

	want := "Date,Course Code,Course Name,Session,Status,Checked In At\n" +
		"2021-03-01,CS101,Intro to CS,Lecture 1,PRESENT,2021-03-01 10:05\n"
	assert.Equal(t, want, string(file.Data))

	hist.Records = nil
	_, err = report.ExportHistory(context.Background(), hist, sessions, crs, report.FormatCSV)
	assert.Equal(t, report.ErrEmptyDataset, err)
}
