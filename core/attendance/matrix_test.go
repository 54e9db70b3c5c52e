package attendance_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/user"
)

// seedTerm builds a course history: two ended sessions, one cancelled, one
// still scheduled. student checked in on time to the first and late to the
// second; classmate only attended the first.
func seedTerm(t *testing.T, fix *fixture) (classmate user.User, sessions []attendance.Session) {
	t.Helper()
	ctx := context.Background()

	classmate = createUser(t, fix.usrRepo, "Eve Classmate", []string{user.RoleStudent})
	enroll(t, fix.crsRepo, classmate.ID, fix.course.ID)

	starts := []time.Time{
		time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2021, 3, 8, 10, 0, 0, 0, time.UTC),
		time.Date(2021, 3, 15, 10, 0, 0, 0, time.UTC), // cancelled
		time.Date(2021, 3, 22, 10, 0, 0, 0, time.UTC), // not held yet
	}
	for i, start := range starts {
		fix.clock.Set(start.Add(-time.Hour))
		sess, err := fix.svc.CreateSession(ctx, fix.lecturer, attendance.NewSession{
			CourseID:       fix.course.ID,
			Name:           "Lecture",
			ScheduledStart: start,
			ScheduledEnd:   start.Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("seedTerm() failed: %v", err)
		}
		sessions = append(sessions, sess)

		switch i {
		case 0:
			fix.clock.Set(start)
			mustStart(t, fix, sess.ID)
			fix.clock.Set(start.Add(5 * time.Minute))
			mustCheckIn(t, fix, fix.student, sess.ID)
			fix.clock.Set(start.Add(7 * time.Minute))
			mustCheckIn(t, fix, classmate, sess.ID)
			fix.clock.Set(start.Add(time.Hour))
			mustEnd(t, fix, sess.ID)
		case 1:
			fix.clock.Set(start)
			mustStart(t, fix, sess.ID)
			fix.clock.Set(start.Add(25 * time.Minute))
			mustCheckIn(t, fix, fix.student, sess.ID)
			fix.clock.Set(start.Add(time.Hour))
			mustEnd(t, fix, sess.ID)
		case 2:
			if _, err := fix.svc.Cancel(ctx, fix.lecturer, sess.ID); err != nil {
				t.Fatalf("seedTerm() failed: %v", err)
			}
		}
	}
	fix.clock.Set(time.Date(2021, 3, 16, 9, 0, 0, 0, time.UTC))
	return classmate, sessions
}

func mustStart(t *testing.T, fix *fixture, id string) {
	t.Helper()
	if _, err := fix.svc.Start(context.Background(), fix.lecturer, id); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
}

func mustEnd(t *testing.T, fix *fixture, id string) {
	t.Helper()
	if _, err := fix.svc.End(context.Background(), fix.lecturer, id); err != nil {
		t.Fatalf("End() failed: %v", err)
	}
}

func mustCheckIn(t *testing.T, fix *fixture, stu user.User, sessionID string) {
	t.Helper()
	if _, err := fix.svc.CheckIn(context.Background(), stu, attendance.CheckInRequest{SessionID: sessionID}); err != nil {
		t.Fatalf("CheckIn() failed: %v", err)
	}
}

func TestBuildCourseMatrix(t *testing.T) {
	ctx := context.Background()
	fix := setup(t)
	_, _ = seedTerm(t, fix)

	m, err := fix.svc.BuildCourseMatrix(ctx, fix.lecturer, fix.course.ID, nil)
	assert.NoError(t, err)

	// cancelled session is excluded; the scheduled one still forms a column
	assert.Len(t, m.Sessions, 3)
	// rows ordered by student name: Eve Classmate before John Student
	assert.Len(t, m.Students, 2)
	assert.Equal(t, "Eve Classmate", m.Students[0].Name)
	assert.Equal(t, "John Student", m.Students[1].Name)

	assert.Equal(t, [][]attendance.Status{
		{attendance.StatusPresent, attendance.StatusAbsent, attendance.StatusAbsent},
		{attendance.StatusPresent, attendance.StatusLate, attendance.StatusAbsent},
	}, m.Cells)
}

func TestBuildCourseMatrixDateRange(t *testing.T) {
	ctx := context.Background()
	fix := setup(t)
	seedTerm(t, fix)

	// keeps the second and fourth sessions; the cancelled third stays excluded
	window := &attendance.DateRange{From: time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC)}
	m, err := fix.svc.BuildCourseMatrix(ctx, fix.lecturer, fix.course.ID, window)
	assert.NoError(t, err)

	assert.Len(t, m.Sessions, 2)
	assert.Equal(t, [][]attendance.Status{
		{attendance.StatusAbsent, attendance.StatusAbsent},
		{attendance.StatusLate, attendance.StatusAbsent},
	}, m.Cells)

	// both bounds closed down to a single column
	window = &attendance.DateRange{
		From: time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2021, 3, 10, 0, 0, 0, 0, time.UTC),
	}
	m, err = fix.svc.BuildCourseMatrix(ctx, fix.lecturer, fix.course.ID, window)
	assert.NoError(t, err)
	assert.Len(t, m.Sessions, 1)
}

func TestBuildCourseMatrixDeterministic(t *testing.T) {
	ctx := context.Background()
	fix := setup(t)
	seedTerm(t, fix)

	m1, err := fix.svc.BuildCourseMatrix(ctx, fix.lecturer, fix.course.ID, nil)
	assert.NoError(t, err)
	m2, err := fix.svc.BuildCourseMatrix(ctx, fix.lecturer, fix.course.ID, nil)
	assert.NoError(t, err)

	b1, err := json.Marshal(m1)
	assert.NoError(t, err)
	b2, err := json.Marshal(m2)
	assert.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestBuildCourseMatrixPermissions(t *testing.T) {
	ctx := context.Background()
	fix := setup(t)
	seedTerm(t, fix)

	other := createUser(t, fix.usrRepo, "Other Lecturer", []string{user.RoleLecturer})
	_, err := fix.svc.BuildCourseMatrix(ctx, other, fix.course.ID, nil)
	assert.Equal(t, attendance.ErrPermissionDenied, errors.Cause(err))

	_, err = fix.svc.BuildCourseMatrix(ctx, fix.student, fix.course.ID, nil)
	assert.Equal(t, attendance.ErrPermissionDenied, errors.Cause(err))

	_, err = fix.svc.BuildCourseMatrix(ctx, fix.admin, fix.course.ID, nil)
	assert.NoError(t, err)
}

func TestBuildStudentSummary(t *testing.T) {
	ctx := context.Background()
	fix := setup(t)
	seedTerm(t, fix)

	sum, err := fix.svc.BuildStudentSummary(ctx, fix.student, fix.student.ID, fix.course.ID)
	assert.NoError(t, err)

	// two held sessions: present on the first, late on the second
	assert.Equal(t, 2, sum.Held)
	assert.Equal(t, 1, sum.Present)
	assert.Equal(t, 1, sum.Late)
	assert.Equal(t, 0, sum.Absent)
	assert.InDelta(t, 100.0, sum.Rate, 0.001)
}

func TestBuildStudentSummaryExcused(t *testing.T) {
	ctx := context.Background()
	fix := setup(t)
	classmate, sessions := seedTerm(t, fix)

	// excuse the classmate's miss of the second held session
	_, err := fix.svc.Mark(ctx, fix.lecturer, attendance.NewMark{
		SessionID: sessions[1].ID,
		StudentID: classmate.ID,
		Status:    attendance.StatusExcused,
		Reason:    "medical",
	})
	assert.NoError(t, err)

	sum, err := fix.svc.BuildStudentSummary(ctx, classmate, classmate.ID, fix.course.ID)
	assert.NoError(t, err)

	assert.Equal(t, 2, sum.Held)
	assert.Equal(t, 1, sum.Present)
	assert.Equal(t, 1, sum.Excused)
	assert.Equal(t, 0, sum.Absent)
	// excused drops out of the denominator: 1 present / (2 held - 1 excused)
	assert.InDelta(t, 100.0, sum.Rate, 0.001)
}

func TestBuildStudentSummaryPermissions(t *testing.T) {
	ctx := context.Background()
	fix := setup(t)
	classmate, _ := seedTerm(t, fix)

	_, err := fix.svc.BuildStudentSummary(ctx, fix.student, classmate.ID, fix.course.ID)
	assert.Equal(t, attendance.ErrPermissionDenied, errors.Cause(err))
}

func TestStudentHistory(t *testing.T) {
	ctx := context.Background()
	fix := setup(t)
	seedTerm(t, fix)

	hist, err := fix.svc.StudentHistory(ctx, fix.student, fix.student.ID, nil)
	assert.NoError(t, err)
	assert.Len(t, hist.Records, 2)
	assert.Equal(t, 1, hist.Summary.Present)
	assert.Equal(t, 1, hist.Summary.Late)

	// date range narrowing
	hist, err = fix.svc.StudentHistory(ctx, fix.student, fix.student.ID, &attendance.HistoryFilter{
		DateFrom: time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC),
	})
	assert.NoError(t, err)
	assert.Len(t, hist.Records, 1)
	assert.Equal(t, attendance.StatusLate, hist.Records[0].Status)
}
